package clip

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singleColumn builds a one-pixel stack from a column of samples.
func singleColumn(vals []float32, mask []uint16, variance []float32) *Stack {
	st := &Stack{
		Data:   append([]float32(nil), vals...),
		Mask:   make([]uint16, len(vals)),
		Images: len(vals),
		Pixels: 1,
	}
	if mask != nil {
		copy(st.Mask, mask)
	}
	if variance != nil {
		st.Variance = append([]float32(nil), variance...)
	}
	return st
}

func goodCount(mask []uint16) int {
	n := 0
	for _, m := range mask {
		if m == 0 {
			n++
		}
	}
	return n
}

func TestRejectFlagsCosmicRayOutlier(t *testing.T) {
	// Nine clean samples and one cosmic ray hit. With median centering
	// and column scatter the outlier falls outside 3 sigma on the first
	// pass and the loop converges on the second.
	vals := []float32{10, 10, 10, 10, 1000, 10, 10, 10, 10, 10}
	st := singleColumn(vals, nil, nil)

	sum, err := Reject(st, Params{LSigma: 3, HSigma: 3, MaxIters: 5, Center: CenterMedian, Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Rejected)
	assert.Equal(t, 9, goodCount(st.Mask))
	assert.Equal(t, Rejected, st.Mask[4])
	for i, m := range st.Mask {
		if i != 4 {
			assert.Zero(t, m, "sample %d should stay unmasked", i)
		}
	}
}

func TestRejectInfiniteBoundsIsNoOp(t *testing.T) {
	vals := []float32{1, 2, 3, 4, 5}
	st := singleColumn(vals, nil, nil)

	sum, err := Reject(st, Params{LSigma: math.Inf(1), HSigma: math.Inf(1), Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, int64(0), sum.Rejected)
	assert.Equal(t, []uint16{0, 0, 0, 0, 0}, st.Mask)
}

func TestRejectMeanCenterNeedsSecondPass(t *testing.T) {
	// The big outlier hides the smaller one on the first pass; once it
	// is gone the recomputed mean and scatter catch the second.
	vals := []float32{0, 0, 0, 0, 0, 0, 0, 0, 50, 100}
	st := singleColumn(vals, nil, nil)

	sum, err := Reject(st, Params{LSigma: 2, HSigma: 2, Center: CenterMean, Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, int64(2), sum.Rejected)
	assert.Equal(t, 8, goodCount(st.Mask))
	assert.Equal(t, Rejected, st.Mask[8])
	assert.Equal(t, Rejected, st.Mask[9])
}

func TestRejectHonorsIterationCap(t *testing.T) {
	vals := []float32{0, 0, 0, 0, 0, 0, 0, 0, 50, 100}
	st := singleColumn(vals, nil, nil)

	sum, err := Reject(st, Params{LSigma: 2, HSigma: 2, MaxIters: 1, Center: CenterMean, Workers: 1})
	require.NoError(t, err)

	// One pass only: the dominant outlier goes, the second survives.
	assert.Equal(t, int64(1), sum.Rejected)
	assert.Equal(t, Rejected, st.Mask[9])
	assert.Zero(t, st.Mask[8])
}

func TestRejectIsIdempotentOnConvergedMask(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n, p := 8, 64
	st := &Stack{
		Data:   make([]float32, n*p),
		Mask:   make([]uint16, n*p),
		Images: n,
		Pixels: p,
	}
	for i := range st.Data {
		st.Data[i] = float32(rng.NormFloat64() * 5)
	}
	// salt in some cosmic rays
	for k := 0; k < 10; k++ {
		st.Data[rng.Intn(n*p)] += 5000
	}

	params := Params{LSigma: 3, HSigma: 3, Center: CenterMedian, Workers: 2}
	_, err := Reject(st, params)
	require.NoError(t, err)

	converged := append([]uint16(nil), st.Mask...)
	sum, err := Reject(st, params)
	require.NoError(t, err)

	assert.Equal(t, int64(0), sum.Rejected)
	assert.Equal(t, converged, st.Mask)
}

func TestRejectMaskIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n, p := 6, 128
	st := &Stack{
		Data:   make([]float32, n*p),
		Mask:   make([]uint16, n*p),
		Images: n,
		Pixels: p,
	}
	for i := range st.Data {
		st.Data[i] = float32(rng.NormFloat64())
		if rng.Intn(20) == 0 {
			st.Data[i] = 1e6 // detector artifact
		}
		if rng.Intn(10) == 0 {
			st.Mask[i] = 4 // caller-set bad pixel bit
		}
	}
	before := append([]uint16(nil), st.Mask...)

	_, err := Reject(st, Params{LSigma: 3, HSigma: 3, Workers: 3})
	require.NoError(t, err)

	for i := range st.Mask {
		assert.Equal(t, before[i], st.Mask[i]&before[i], "pre-existing bits cleared at %d", i)
		extra := st.Mask[i] &^ before[i]
		assert.True(t, extra == 0 || extra == Rejected, "unexpected new bits %#x at %d", extra, i)
	}
}

func TestRejectVarianceScatterUsesPerSampleBounds(t *testing.T) {
	vals := []float32{10, 10, 10, 12, 10}
	variance := []float32{0.25, 0.25, 0.25, 0.25, 0.25}
	st := singleColumn(vals, nil, variance)

	sum, err := Reject(st, Params{
		LSigma: 3, HSigma: 3,
		Center:  CenterMedian,
		Scatter: ScatterVariance,
		Workers: 1,
	})
	require.NoError(t, err)

	// 12 sits 4 of its own sigmas above the median; column scatter
	// would never have caught it.
	assert.Equal(t, int64(1), sum.Rejected)
	assert.Equal(t, Rejected, st.Mask[3])
}

func TestRejectColumnScatterIgnoresVariancePlane(t *testing.T) {
	vals := []float32{10, 10, 10, 12, 10}
	variance := []float32{1e-6, 1e-6, 1e-6, 1e-6, 1e-6}
	st := singleColumn(vals, nil, variance)

	sum, err := Reject(st, Params{LSigma: 3, HSigma: 3, Scatter: ScatterColumn, Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, int64(0), sum.Rejected, "column spread covers 12; variance plane must not be read")
}

func TestRejectFullyMaskedColumnConvergesImmediately(t *testing.T) {
	vals := []float32{10, 10, 10, 1000, 10}
	mask := []uint16{2, 2, 2, 2, 2}
	st := singleColumn(vals, mask, nil)

	sum, err := Reject(st, Params{LSigma: 3, HSigma: 3, Workers: 1})
	require.NoError(t, err)

	// No good samples existed, so none can be newly rejected.
	assert.Equal(t, int64(0), sum.Rejected)
	for _, m := range st.Mask {
		assert.NotZero(t, m&2, "caller bits must survive")
	}
}

func TestRejectValidation(t *testing.T) {
	t.Run("capacity", func(t *testing.T) {
		n := MaxStackDepth + 1
		st := &Stack{
			Data:   make([]float32, n),
			Mask:   make([]uint16, n),
			Images: n,
			Pixels: 1,
		}
		_, err := Reject(st, Params{LSigma: 3, HSigma: 3})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "working capacity")
		assert.Equal(t, make([]uint16, n), st.Mask, "failed call must not mutate output")
	})

	t.Run("short data", func(t *testing.T) {
		st := &Stack{Data: make([]float32, 3), Mask: make([]uint16, 4), Images: 2, Pixels: 2}
		_, err := Reject(st, Params{})
		require.Error(t, err)
	})

	t.Run("variance scatter without variance", func(t *testing.T) {
		st := singleColumn([]float32{1, 2, 3}, nil, nil)
		_, err := Reject(st, Params{Scatter: ScatterVariance})
		require.Error(t, err)
	})

	t.Run("no images", func(t *testing.T) {
		_, err := Reject(&Stack{Pixels: 4}, Params{})
		require.Error(t, err)
	})
}

func TestRejectWorkerPartitioningIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n, p := 9, 513 // odd pixel count exercises the ragged last chunk
	base := &Stack{
		Data:   make([]float32, n*p),
		Mask:   make([]uint16, n*p),
		Images: n,
		Pixels: p,
	}
	for i := range base.Data {
		base.Data[i] = float32(rng.NormFloat64() * 3)
		if rng.Intn(30) == 0 {
			base.Data[i] = 4e5
		}
	}

	serial := &Stack{
		Data:   base.Data,
		Mask:   append([]uint16(nil), base.Mask...),
		Images: n,
		Pixels: p,
	}
	parallel := &Stack{
		Data:   base.Data,
		Mask:   append([]uint16(nil), base.Mask...),
		Images: n,
		Pixels: p,
	}

	_, err := Reject(serial, Params{LSigma: 3, HSigma: 3, Workers: 1})
	require.NoError(t, err)
	_, err = Reject(parallel, Params{LSigma: 3, HSigma: 3, Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, serial.Mask, parallel.Mask)
}

func TestRejectEmptyStack(t *testing.T) {
	st := &Stack{Images: 3, Pixels: 0, Data: nil, Mask: nil}
	sum, err := Reject(st, Params{LSigma: 3, HSigma: 3})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}
