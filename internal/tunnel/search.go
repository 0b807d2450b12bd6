package tunnel

// FindMaxFittingSize searches for the largest size n <= limit for which
// fits(n) holds, assuming fits is monotonic (true up to some size, false
// beyond).
//
// Testing starts at start. While no failing size is known the upper bound
// doubles, afterwards the search bisects. A fitting size is accepted once it
// is within tolerance of the largest size known to fit, when it reaches limit,
// or immediately when it equals start and acceptStart is set (start being the
// size that fitted last time). It reports false when even sizes around
// tolerance do not fit.
func FindMaxFittingSize(fits func(n int) bool, start, limit, tolerance int, acceptStart bool) (int, bool) {
	lo := tolerance // largest size assumed to fit
	hi := 0         // smallest size known not to fit, 0 while unknown
	test := min(start, limit)

	for {
		if fits(test) {
			if test-lo <= tolerance || test == limit || (acceptStart && test == start) {
				return test, true
			}
			lo = test
		} else {
			if test <= tolerance {
				return 0, false
			}
			hi = test
		}

		if hi == 0 {
			test = min(lo*2, limit)
		} else {
			test = lo + (hi-lo)/2
		}
	}
}
