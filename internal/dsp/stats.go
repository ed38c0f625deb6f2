package dsp

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// BlockStats describes the level of a block of normalized samples.
type BlockStats struct {
	MeanI   float64 `json:"mean_i"`
	MeanQ   float64 `json:"mean_q"`
	StdI    float64 `json:"std_i"`
	StdQ    float64 `json:"std_q"`
	RMS     float64 `json:"rms"`
	RMSDBFS float64 `json:"rms_dbfs"`
	Clipped int     `json:"clipped"`
}

// clipLevel is the largest SC16Q11 magnitude (2047/2048) after conversion.
const clipLevel = 2047.0 / 2048.0

// Measure computes DC offset, spread and RMS level of block.
func Measure(block []complex64) BlockStats {
	if len(block) == 0 {
		return BlockStats{RMSDBFS: FloorDB}
	}
	is := make([]float64, len(block))
	qs := make([]float64, len(block))
	power := make([]float64, len(block))
	clipped := 0
	for k, v := range block {
		i, q := float64(real(v)), float64(imag(v))
		is[k], qs[k] = i, q
		power[k] = i*i + q*q
		if math.Abs(i) >= clipLevel || math.Abs(q) >= clipLevel {
			clipped++
		}
	}
	var st BlockStats
	if len(block) > 1 {
		st.MeanI, st.StdI = stat.MeanStdDev(is, nil)
		st.MeanQ, st.StdQ = stat.MeanStdDev(qs, nil)
	} else {
		st.MeanI, st.MeanQ = is[0], qs[0]
	}
	st.RMS = math.Sqrt(stat.Mean(power, nil))
	st.RMSDBFS = toDB(st.RMS)
	st.Clipped = clipped
	return st
}
