package clip

// clipColumn runs the convergence loop over pixel px using the worker's
// pooled buffer and returns the number of previously-good samples the
// loop rejected. The caller's mask is updated in place once the loop
// terminates; both convergence and hitting the iteration cap are normal
// terminations.
//
// The median is used as the center on the first pass regardless of the
// configured Center; CenterMean switches to the mean from the second
// pass on.
func clipColumn(st *Stack, px int, c *column, rej rejector, center Center, maxIters int) int64 {
	ngood := c.load(st, px)
	before := ngood

	for iter := 0; iter < maxIters; iter++ {
		var avg, variance float64
		if center == CenterMedian || iter == 0 {
			avg, variance = c.median()
		} else {
			avg, variance = c.moments()
		}

		newNgood := rej.reject(c, avg, variance)
		if newNgood == ngood {
			break // converged: no change this pass
		}
		ngood = newNgood
	}

	c.store(st, px)
	return int64(before - ngood)
}
