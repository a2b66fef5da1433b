package clip

import "math"

// rejector flags samples lying outside the inclusion bounds for the
// current center estimate and returns the number of unmasked samples
// remaining. Implementations only ever add mask bits.
type rejector interface {
	reject(c *column, avg, variance float64) int
}

// columnScatter applies one pair of bounds to every sample in the
// column, scaled by the column's own spread.
type columnScatter struct {
	lsigma, hsigma float64
}

func (r columnScatter) reject(c *column, avg, variance float64) int {
	std := math.Sqrt(variance)
	lo := avg - r.lsigma*std
	hi := avg + r.hsigma*std
	ngood := 0
	for i, v := range c.data {
		if f := float64(v); f < lo || f > hi {
			c.mask[i] |= Rejected
		}
		if c.mask[i] == 0 {
			ngood++
		}
	}
	return ngood
}

// varianceScatter gives sample n its own bounds from the externally
// supplied variance plane; the column variance estimate is unused.
type varianceScatter struct {
	lsigma, hsigma float64
}

func (r varianceScatter) reject(c *column, avg, _ float64) int {
	ngood := 0
	for i, v := range c.data {
		std := math.Sqrt(float64(c.vars[i]))
		if f := float64(v); f < avg-r.lsigma*std || f > avg+r.hsigma*std {
			c.mask[i] |= Rejected
		}
		if c.mask[i] == 0 {
			ngood++
		}
	}
	return ngood
}
