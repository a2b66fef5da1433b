package clip

// moments returns the mean and population variance of the unmasked
// samples, accumulated as a running sum and sum of squares. A fully
// masked column falls back to the whole sample set so the statistic is
// always defined.
func (c *column) moments() (mean, variance float64) {
	var sum, sumsq float64
	ngood := 0
	for i, v := range c.data {
		if c.mask[i] != 0 {
			continue
		}
		f := float64(v)
		sum += f
		sumsq += f * f
		ngood++
	}
	if ngood == 0 {
		for _, v := range c.data {
			f := float64(v)
			sum += f
			sumsq += f * f
		}
		ngood = len(c.data)
	}
	n := float64(ngood)
	mean = sum / n
	variance = sumsq/n - mean*mean
	if variance < 0 {
		// guard against catastrophic cancellation on near-constant columns
		variance = 0
	}
	return mean, variance
}

// median returns the exact median of the unmasked samples together with
// the population variance of the same set. Selection is partition-based
// rather than sort-based; even-length sets run the selection twice,
// once per central index, and average the two order statistics found.
func (c *column) median() (med, variance float64) {
	n := 0
	var sum, sumsq float64
	for i, v := range c.data {
		if c.mask[i] != 0 {
			continue
		}
		c.scratch[n] = v
		f := float64(v)
		sum += f
		sumsq += f * f
		n++
	}
	if n == 0 {
		copy(c.scratch, c.data)
		n = len(c.data)
		sum, sumsq = 0, 0
		for _, v := range c.data {
			f := float64(v)
			sum += f
			sumsq += f * f
		}
	}

	mean := sum / float64(n)
	variance = sumsq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}

	s := c.scratch[:n]
	if n%2 == 1 {
		med = float64(quickselect(s, n/2))
	} else {
		lo := quickselect(s, n/2-1)
		hi := quickselect(s, n/2)
		med = (float64(lo) + float64(hi)) / 2
	}
	return med, variance
}

// quickselect returns the k-th smallest element of s, reordering s in
// the process.
func quickselect(s []float32, k int) float32 {
	lo, hi := 0, len(s)-1
	for lo < hi {
		p := partition(s, lo, hi)
		switch {
		case k < p:
			hi = p - 1
		case k > p:
			lo = p + 1
		default:
			return s[k]
		}
	}
	return s[k]
}

// partition uses the middle element as pivot so already-ordered columns
// stay off the quadratic path.
func partition(s []float32, lo, hi int) int {
	mid := lo + (hi-lo)/2
	pivot := s[mid]
	s[mid], s[hi] = s[hi], s[mid]
	i := lo
	for j := lo; j < hi; j++ {
		if s[j] < pivot {
			s[i], s[j] = s[j], s[i]
			i++
		}
	}
	s[i], s[hi] = s[hi], s[i]
	return i
}
