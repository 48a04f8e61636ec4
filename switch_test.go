package branchvm_test

import (
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ozanh/branchvm/tests"

	. "github.com/ozanh/branchvm"
)

func TestResolve_dense(t *testing.T) {
	for _, p := range []int{0, 1, 2, 3, 7, 1000} {
		d, err := NewDenseSwitch(p, 99, 0, 2, []int32{10, 20, 30})
		require.NoError(t, err)
		d, err = DecodeSwitch(tests.Code(d), p)
		require.NoError(t, err)

		require.Equal(t, p+10, d.Resolve(0))
		require.Equal(t, p+20, d.Resolve(1))
		require.Equal(t, p+30, d.Resolve(2))
		require.Equal(t, p+99, d.Resolve(3))
		require.Equal(t, p+99, d.Resolve(-5))
	}
}

func TestResolve_sparse(t *testing.T) {
	cases := []SwitchCase{{Key: 1, Offset: 10}, {Key: 5, Offset: 20}, {Key: 9, Offset: 30}}
	for _, p := range []int{0, 1, 2, 3, 7, 1000} {
		d, err := NewSparseSwitch(p, 99, cases)
		require.NoError(t, err)
		d, err = DecodeSwitch(tests.Code(d), p)
		require.NoError(t, err)

		require.Equal(t, p+20, d.Resolve(5))
		require.Equal(t, p+99, d.Resolve(6))
		require.Equal(t, p+30, d.Resolve(9))
		require.Equal(t, p+99, d.Resolve(0))
		require.Equal(t, p+10, d.Resolve(1))
		require.Equal(t, p+99, d.Resolve(10))
	}
}

func TestResolve_extremes(t *testing.T) {
	d, err := NewDenseSwitch(0, 1, math.MaxInt32-1, math.MaxInt32, []int32{2, 3})
	require.NoError(t, err)
	require.Equal(t, 2, d.Resolve(math.MaxInt32-1))
	require.Equal(t, 3, d.Resolve(math.MaxInt32))
	require.Equal(t, 1, d.Resolve(math.MinInt32))

	d, err = NewDenseSwitch(0, 1, math.MinInt32, math.MinInt32+1, []int32{2, 3})
	require.NoError(t, err)
	require.Equal(t, 2, d.Resolve(math.MinInt32))
	require.Equal(t, 3, d.Resolve(math.MinInt32+1))
	require.Equal(t, 1, d.Resolve(math.MaxInt32))

	d, err = NewSparseSwitch(0, 1, []SwitchCase{
		{Key: math.MinInt32, Offset: 2}, {Key: math.MaxInt32, Offset: 3}})
	require.NoError(t, err)
	require.Equal(t, 2, d.Resolve(math.MinInt32))
	require.Equal(t, 3, d.Resolve(math.MaxInt32))
	require.Equal(t, 1, d.Resolve(0))
}

func TestResolve_noClamp(t *testing.T) {
	d, err := NewDenseSwitch(4, -100, 0, 1, []int32{-4, math.MaxInt32})
	require.NoError(t, err)
	require.Equal(t, 0, d.Resolve(0))
	require.Equal(t, 4+math.MaxInt32, d.Resolve(1))
	require.Equal(t, -96, d.Resolve(2))
}

func TestNewSwitch_invalid(t *testing.T) {
	_, err := NewDenseSwitch(0, 0, 3, 1, nil)
	require.ErrorIs(t, err, ErrMalformedSwitch)
	_, err = NewDenseSwitch(0, 0, 0, 2, []int32{1, 2})
	require.ErrorIs(t, err, ErrMalformedSwitch)
	_, err = NewSparseSwitch(0, 0, []SwitchCase{{Key: 2}, {Key: 1}})
	require.ErrorIs(t, err, ErrMalformedSwitch)
	_, err = NewSparseSwitch(0, 0, []SwitchCase{{Key: 2}, {Key: 2}})
	require.ErrorIs(t, err, ErrMalformedSwitch)
}

func TestSwitchDescriptor_immutable(t *testing.T) {
	offsets := []int32{10, 20}
	d, err := NewDenseSwitch(0, 99, 0, 1, offsets)
	require.NoError(t, err)
	offsets[0] = 1000
	require.Equal(t, 10, d.Resolve(0))

	cases := d.Cases()
	cases[1].Offset = 1000
	require.Equal(t, 20, d.Resolve(1))
}

func TestSwitchDescriptor_AppendTo(t *testing.T) {
	d, err := NewDenseSwitch(2, 99, 0, 0, []int32{1})
	require.NoError(t, err)
	_, err = d.AppendTo(nil)
	require.ErrorIs(t, err, ErrEncode)

	code, err := d.AppendTo([]byte{OpIconst0, OpNop})
	require.NoError(t, err)
	require.Equal(t, []byte{
		OpIconst0, OpNop, OpTableSwitch, 0,
		0, 0, 0, 99,
		0, 0, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 1,
	}, code)
}

func TestSwitchDescriptor_Targets(t *testing.T) {
	d, err := NewSparseSwitch(8, 40, []SwitchCase{{Key: 1, Offset: 12}, {Key: 2, Offset: -8}})
	require.NoError(t, err)
	var got []int
	d.Targets(func(target int) { got = append(got, target) })
	require.Equal(t, []int{48, 20, 0}, got)
}

func TestSwitchDescriptor_concurrentResolve(t *testing.T) {
	d, err := NewSparseSwitch(0, 99, []SwitchCase{
		{Key: 1, Offset: 10}, {Key: 5, Offset: 20}, {Key: 9, Offset: 30}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan int, 64)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for sel := int32(-20); sel < 20; sel++ {
				if got := d.Resolve(sel + int32(g)); got != tests.LinearResolve(d, sel+int32(g)) {
					errs <- got
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	require.Empty(t, errs)
}

func FuzzResolve_sparseMatchesLinear(f *testing.F) {
	f.Add([]byte{0, 1, 0, 5, 0, 9}, int32(5), uint16(0))
	f.Add([]byte{0x80, 0, 0x7F, 0xFF}, int32(-1), uint16(3))
	f.Add([]byte{}, int32(0), uint16(17))

	f.Fuzz(func(t *testing.T, data []byte, selector int32, ip uint16) {
		seen := make(map[int32]bool)
		var keys []int32
		for i := 0; i+1 < len(data); i += 2 {
			k := int32(int16(uint16(data[i])<<8|uint16(data[i+1]))) * 7919
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		cases := make([]SwitchCase, len(keys))
		for i, k := range keys {
			cases[i] = SwitchCase{Key: k, Offset: int32(4 * (i + 1))}
		}
		d, err := NewSparseSwitch(int(ip), -1, cases)
		require.NoError(t, err)
		d, err = DecodeSwitch(tests.Code(d), int(ip))
		require.NoError(t, err)

		selectors := []int32{selector, math.MinInt32, math.MaxInt32, 0}
		for _, k := range keys {
			selectors = append(selectors, k, k-1, k+1)
		}
		for _, sel := range selectors {
			require.Equal(t, tests.LinearResolve(d, sel), d.Resolve(sel), "selector %d", sel)
		}
	})
}

func benchmarkResolve(b *testing.B, d *SwitchDescriptor, n int32) {
	b.ReportAllocs()
	b.ResetTimer()
	var sink int
	for i := 0; i < b.N; i++ {
		sink += d.Resolve(int32(i) % n)
	}
	_ = sink
}

func BenchmarkResolve(b *testing.B) {
	const n = 1024
	offsets := make([]int32, n)
	cases := make([]SwitchCase, n)
	for i := range offsets {
		offsets[i] = int32(i * 4)
		cases[i] = SwitchCase{Key: int32(i), Offset: int32(i * 4)}
	}
	dense, err := NewDenseSwitch(0, -1, 0, n-1, offsets)
	require.NoError(b, err)
	sparse, err := NewSparseSwitch(0, -1, cases)
	require.NoError(b, err)

	b.Run("dense", func(b *testing.B) { benchmarkResolve(b, dense, n) })
	b.Run("sparse", func(b *testing.B) { benchmarkResolve(b, sparse, n) })
	b.Run("linear", func(b *testing.B) {
		b.ReportAllocs()
		var sink int
		for i := 0; i < b.N; i++ {
			sink += tests.LinearResolve(sparse, int32(i)%n)
		}
		_ = sink
	})
}
