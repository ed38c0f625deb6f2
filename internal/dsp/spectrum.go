package dsp

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := range win {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// FFTShift returns a copy of data rotated so that DC sits in the middle.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return data
	}
	half := n / 2
	out := make([]complex128, n)
	copy(out, data[half:])
	copy(out[n-half:], data[:half])
	return out
}

// Analyzer computes windowed power spectra of fixed-size blocks of
// normalized samples. The window and FFT plan are built once.
type Analyzer struct {
	mu        sync.Mutex
	size      int
	window    []float64
	windowSum float64
	fft       *fourier.CmplxFFT
	scratch   []complex128
	coeff     []complex128
}

// NewAnalyzer builds an analyzer for blocks of size samples.
func NewAnalyzer(size int) *Analyzer {
	if size < 1 {
		size = 1
	}
	win := Hamming(size)
	sum := 0.0
	for _, v := range win {
		sum += v
	}
	return &Analyzer{
		size:      size,
		window:    win,
		windowSum: sum,
		fft:       fourier.NewCmplxFFT(size),
		scratch:   make([]complex128, size),
		coeff:     make([]complex128, size),
	}
}

// Size is the FFT length.
func (a *Analyzer) Size() int { return a.size }

// Spectrum returns DC-centred bin powers in dBFS for the first Size samples
// of block. Shorter blocks are zero padded.
func (a *Analyzer) Spectrum(block []complex64) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.scratch {
		if i < len(block) {
			v := block[i]
			a.scratch[i] = complex(float64(real(v))*a.window[i], float64(imag(v))*a.window[i])
		} else {
			a.scratch[i] = 0
		}
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.scratch)
	shifted := FFTShift(a.coeff)

	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v) / a.windowSum
		dbfs[i] = toDB(mag)
	}
	return dbfs
}

// FloorDB is reported for silent bins and blocks instead of -Inf, which
// JSON cannot carry.
const FloorDB = -200.0

func toDB(mag float64) float64 {
	if mag <= 0 {
		return FloorDB
	}
	return math.Max(20*math.Log10(mag), FloorDB)
}

// Peak returns the index and value of the strongest bin.
func Peak(dbfs []float64) (int, float64) {
	best, val := -1, math.Inf(-1)
	for i, v := range dbfs {
		if v > val {
			best, val = i, v
		}
	}
	return best, val
}

// BinFrequency converts a DC-centred bin index into an offset in Hz.
func BinFrequency(bin, size int, sampleRate float64) float64 {
	if size == 0 {
		return 0
	}
	return float64(bin-size/2) * sampleRate / float64(size)
}
