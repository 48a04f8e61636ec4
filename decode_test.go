package branchvm_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ozanh/branchvm/tests"

	. "github.com/ozanh/branchvm"
)

func TestPadding(t *testing.T) {
	want := []int{3, 2, 1, 0, 3, 2, 1, 0}
	for ip, pad := range want {
		require.Equal(t, pad, Padding(ip), "ip %d", ip)
	}
}

func TestDecodeSwitch_alignment(t *testing.T) {
	for ip := 0; ip < 8; ip++ {
		d, err := NewDenseSwitch(ip, 99, 0, 2, []int32{10, 20, 30})
		require.NoError(t, err)
		code := tests.Code(d)
		require.Equal(t, ip+1+Padding(ip)+12+3*4, len(code))

		r := NewReader(code, ip)
		got, err := ReadSwitch(r)
		require.NoError(t, err)
		require.True(t, d.Equal(got))
		require.Equal(t, len(code), r.Pos(), "ip %d", ip)
		require.Equal(t, len(code)-ip, got.Size())
	}
}

func TestDecodeSwitch_rawTable(t *testing.T) {
	code := []byte{
		OpTableSwitch,
		0xFF, 0xFF, 0xFF, // padding content is not checked
		0x00, 0x00, 0x00, 0x64, // default: 100
		0x00, 0x00, 0x00, 0x05, // low: 5
		0x00, 0x00, 0x00, 0x07, // high: 7
		0x00, 0x00, 0x00, 0x14, // 5: 20
		0x00, 0x00, 0x00, 0x28, // 6: 40
		0x00, 0x00, 0x00, 0x3C, // 7: 60
	}
	d, err := DecodeSwitch(code, 0)
	require.NoError(t, err)
	require.Equal(t, DenseSwitch, d.Kind())
	require.Equal(t, int32(5), d.Low())
	require.Equal(t, int32(7), d.High())
	require.Equal(t, int32(100), d.Default())
	require.Equal(t, len(code), d.Size())

	require.Equal(t, 20, d.Resolve(5))
	require.Equal(t, 40, d.Resolve(6))
	require.Equal(t, 60, d.Resolve(7))
	require.Equal(t, 100, d.Resolve(3))
	require.Equal(t, 100, d.Resolve(10))
}

func TestDecodeSwitch_rawLookup(t *testing.T) {
	code := []byte{
		OpNop, OpNop,
		OpLookupSwitch,
		0x00,                   // padding
		0xFF, 0xFF, 0xFF, 0xFE, // default: -2
		0x00, 0x00, 0x00, 0x02, // npairs: 2
		0xFF, 0xFF, 0xFF, 0xF6, 0x00, 0x00, 0x00, 0x10, // -10: 16
		0x00, 0x00, 0x03, 0xE8, 0x00, 0x00, 0x00, 0x20, // 1000: 32
	}
	d, err := DecodeSwitch(code, 2)
	require.NoError(t, err)
	require.Equal(t, SparseSwitch, d.Kind())
	require.Equal(t, 2, d.IP())
	if diff := cmp.Diff([]SwitchCase{{Key: -10, Offset: 16}, {Key: 1000, Offset: 32}}, d.Cases()); diff != "" {
		t.Fatalf("cases mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 18, d.Resolve(-10))
	require.Equal(t, 34, d.Resolve(1000))
	require.Equal(t, 0, d.Resolve(0))
}

func TestDecodeSwitch_emptyRange(t *testing.T) {
	d, err := NewDenseSwitch(0, 40, 5, 4, nil)
	require.NoError(t, err)

	got, err := DecodeSwitch(tests.Code(d), 0)
	require.NoError(t, err)
	require.Equal(t, 0, got.NumCases())
	for _, sel := range []int32{math.MinInt32, -1, 0, 4, 5, 6, math.MaxInt32} {
		require.Equal(t, 40, got.Resolve(sel))
	}

	sparse, err := NewSparseSwitch(3, 8, nil)
	require.NoError(t, err)
	got, err = DecodeSwitch(tests.Code(sparse), 3)
	require.NoError(t, err)
	require.Equal(t, 11, got.Resolve(0))
}

func TestDecodeSwitch_roundTrip(t *testing.T) {
	descriptors := []func() (*SwitchDescriptor, error){
		func() (*SwitchDescriptor, error) {
			return NewDenseSwitch(0, 99, 0, 2, []int32{10, 20, 30})
		},
		func() (*SwitchDescriptor, error) {
			return NewDenseSwitch(5, -5, -3, 1, []int32{-1, 0, 1, math.MaxInt32, math.MinInt32})
		},
		func() (*SwitchDescriptor, error) {
			return NewDenseSwitch(6, 0, math.MaxInt32, math.MaxInt32, []int32{7})
		},
		func() (*SwitchDescriptor, error) {
			return NewSparseSwitch(1, 99, []SwitchCase{{Key: 1, Offset: 10}, {Key: 5, Offset: 20}, {Key: 9, Offset: 30}})
		},
		func() (*SwitchDescriptor, error) {
			return NewSparseSwitch(9, 4, []SwitchCase{
				{Key: math.MinInt32, Offset: -9}, {Key: 0, Offset: 12}, {Key: math.MaxInt32, Offset: 16}})
		},
	}
	for i, fn := range descriptors {
		want, err := fn()
		require.NoError(t, err, "#%d", i)
		got, err := DecodeSwitch(tests.Code(want), want.IP())
		require.NoError(t, err, "#%d", i)
		require.True(t, want.Equal(got), "#%d", i)
		require.Equal(t, want.Default(), got.Default())
		if diff := cmp.Diff(want.Cases(), got.Cases()); diff != "" {
			t.Fatalf("#%d cases mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestDecodeSwitch_deterministic(t *testing.T) {
	p := tests.MustParse(tests.SwitchFixture)
	m := tests.MustMethod(p, "sparse")
	a, err := DecodeSwitch(m.Code, 1)
	require.NoError(t, err)
	b, err := DecodeSwitch(m.Code, 1)
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.True(t, a.Equal(b))
}

func TestDecodeSwitch_malformed(t *testing.T) {
	be := func(vs ...int32) []byte {
		var out []byte
		for _, v := range vs {
			out = append(out, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
		}
		return out
	}
	table := func(rest ...int32) []byte {
		return append([]byte{OpTableSwitch, 0, 0, 0}, be(rest...)...)
	}
	lookup := func(rest ...int32) []byte {
		return append([]byte{OpLookupSwitch, 0, 0, 0}, be(rest...)...)
	}

	testCases := []struct {
		name string
		code []byte
		ip   int
	}{
		{name: "not a switch", code: []byte{OpGoto, 0, 3}},
		{name: "ip out of range", code: table(0, 0, 0, 0), ip: 40},
		{name: "negative ip", code: table(0, 0, 0, 0), ip: -1},
		{name: "truncated padding", code: []byte{OpTableSwitch, 0}},
		{name: "truncated default", code: []byte{OpTableSwitch, 0, 0, 0, 0, 0}},
		{name: "truncated low", code: table(1)},
		{name: "truncated high", code: table(1, 0)},
		{name: "inverted range", code: table(1, 5, 3)},
		{name: "huge range", code: table(1, math.MinInt32, math.MaxInt32, 1, 2)},
		{name: "truncated offsets", code: table(1, 0, 2, 10, 20)},
		{name: "truncated pair count", code: lookup(1)},
		{name: "negative pair count", code: lookup(1, -1)},
		{name: "huge pair count", code: lookup(1, math.MaxInt32, 1, 2)},
		{name: "truncated pairs", code: lookup(1, 2, 1, 10, 5)},
		{name: "descending keys", code: lookup(1, 2, 5, 10, 1, 20)},
		{name: "duplicate keys", code: lookup(1, 3, 1, 10, 2, 20, 2, 30)},
	}
	for _, tC := range testCases {
		t.Run(tC.name, func(t *testing.T) {
			d, err := DecodeSwitch(tC.code, tC.ip)
			require.Nil(t, d)
			require.ErrorIs(t, err, ErrMalformedSwitch)
			var se *SwitchError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tC.ip, se.IP)
			require.NotEmpty(t, se.Cause)
			require.Contains(t, err.Error(), "MalformedSwitchInstruction")
		})
	}
}

func TestReadSwitch_consecutive(t *testing.T) {
	first, err := NewSparseSwitch(0, 100, []SwitchCase{{Key: 1, Offset: 10}})
	require.NoError(t, err)
	code := tests.Code(first)
	second, err := NewDenseSwitch(len(code), 50, 0, 0, []int32{4})
	require.NoError(t, err)
	code, err = second.AppendTo(code)
	require.NoError(t, err)

	r := NewReader(code, 0)
	d1, err := ReadSwitch(r)
	require.NoError(t, err)
	require.Equal(t, second.IP(), r.Pos())
	d2, err := ReadSwitch(r)
	require.NoError(t, err)
	require.Equal(t, 0, r.Remaining())
	require.True(t, first.Equal(d1))
	require.True(t, second.Equal(d2))
}

func FuzzDecodeSwitch(f *testing.F) {
	d, _ := NewDenseSwitch(0, 99, 0, 2, []int32{10, 20, 30})
	f.Add(tests.Code(d), 0)
	s, _ := NewSparseSwitch(1, 99, []SwitchCase{{Key: 1, Offset: 10}, {Key: 5, Offset: 20}, {Key: 9, Offset: 30}})
	f.Add(tests.Code(s), 1)
	f.Add([]byte{OpLookupSwitch, 0, 0, 0, 0, 0, 0, 1, 0x7F, 0xFF, 0xFF, 0xFF}, 0)

	f.Fuzz(func(t *testing.T, code []byte, ip int) {
		d, err := DecodeSwitch(code, ip)
		if err != nil {
			require.ErrorIs(t, err, ErrMalformedSwitch)
			return
		}
		// padding bytes are normalized to zero when re-encoded
		again, err := DecodeSwitch(tests.Code(d), ip)
		require.NoError(t, err)
		require.True(t, d.Equal(again))
	})
}
