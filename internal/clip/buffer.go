package clip

import "sync"

// column is the working set for one spatial pixel: a private copy of
// the N sample values and mask words, the matching variance samples
// when present, and scratch space for median selection. Buffers are
// pooled so a worker processing millions of columns allocates once.
type column struct {
	data    []float32
	mask    []uint16
	vars    []float32
	scratch []float32
}

var columnPool = sync.Pool{New: func() any { return new(column) }}

func newColumn(n int) *column {
	c := columnPool.Get().(*column)
	if cap(c.data) < n {
		c.data = make([]float32, n)
		c.mask = make([]uint16, n)
		c.vars = make([]float32, n)
		c.scratch = make([]float32, n)
	}
	c.data = c.data[:n]
	c.mask = c.mask[:n]
	c.vars = c.vars[:n]
	c.scratch = c.scratch[:n]
	return c
}

func (c *column) release() {
	columnPool.Put(c)
}

// load gathers pixel px of st into the working buffer and returns the
// number of unmasked samples.
func (c *column) load(st *Stack, px int) int {
	ngood := 0
	for n := 0; n < st.Images; n++ {
		i := n*st.Pixels + px
		c.data[n] = st.Data[i]
		c.mask[n] = st.Mask[i]
		if st.Variance != nil {
			c.vars[n] = st.Variance[i]
		}
		if c.mask[n] == 0 {
			ngood++
		}
	}
	return ngood
}

// store copies the working mask back into the caller's stack. Data and
// variance are never written.
func (c *column) store(st *Stack, px int) {
	for n := 0; n < st.Images; n++ {
		st.Mask[n*st.Pixels+px] = c.mask[n]
	}
}
