package dsp

import (
	"math"
	"math/cmplx"
	"testing"
)

func tone(n, bin int, amp float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		v := cmplx.Rect(amp, 2*math.Pi*float64(bin)*float64(i)/float64(n))
		out[i] = complex64(v)
	}
	return out
}

func TestSpectrumTonePeak(t *testing.T) {
	const size = 64
	a := NewAnalyzer(size)
	for _, bin := range []int{-10, 0, 5, 20} {
		dbfs := a.Spectrum(tone(size, bin, 0.5))
		if len(dbfs) != size {
			t.Fatalf("expected %d bins, got %d", size, len(dbfs))
		}
		idx, level := Peak(dbfs)
		if idx != size/2+bin {
			t.Fatalf("bin %d: peak at %d, want %d", bin, idx, size/2+bin)
		}
		if math.Abs(level-20*math.Log10(0.5)) > 0.01 {
			t.Fatalf("bin %d: peak level %.3f dBFS", bin, level)
		}
		if got := BinFrequency(idx, size, 64e3); got != float64(bin)*1e3 {
			t.Fatalf("bin %d: frequency %v", bin, got)
		}
	}
}

func TestSpectrumSilenceIsFloored(t *testing.T) {
	a := NewAnalyzer(16)
	for i, v := range a.Spectrum(nil) {
		if v != FloorDB {
			t.Fatalf("bin %d = %v, want floor", i, v)
		}
	}
}

func TestFFTShift(t *testing.T) {
	cases := []struct {
		in, want []complex128
	}{
		{[]complex128{0, 1, 2, 3}, []complex128{2, 3, 0, 1}},
		{[]complex128{0, 1, 2}, []complex128{1, 2, 0}},
		{nil, nil},
	}
	for _, tc := range cases {
		got := FFTShift(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("FFTShift(%v) = %v", tc.in, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("FFTShift(%v) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}

func TestHamming(t *testing.T) {
	w := Hamming(5)
	if math.Abs(w[0]-0.08) > 1e-12 || math.Abs(w[2]-1) > 1e-12 || math.Abs(w[4]-0.08) > 1e-12 {
		t.Fatalf("unexpected window %v", w)
	}
	if len(Hamming(0)) != 0 || Hamming(1)[0] != 1 {
		t.Fatalf("degenerate windows wrong")
	}
}
