package main

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/UbhaSecurity/gr-osmosdr/internal/dsp"
	"github.com/UbhaSecurity/gr-osmosdr/internal/source"
	"github.com/UbhaSecurity/gr-osmosdr/internal/telemetry"
)

type statser interface {
	Stats() source.Stats
}

// monitor is the flowgraph sink: it optionally records samples and reports
// stream health every reportInterval blocks.
type monitor struct {
	src        statser
	hub        *telemetry.Hub
	reporter   telemetry.Reporter
	out        io.Writer
	analyzer   *dsp.Analyzer
	centerHz   float64
	sampleRate float64
	blocks     int
}

func (m *monitor) consume(block []complex64) error {
	if m.out != nil {
		if err := binary.Write(m.out, binary.LittleEndian, block); err != nil {
			return err
		}
	}
	m.blocks++
	interval := m.hub.ConfigSnapshot().ReportInterval
	if m.blocks%interval != 0 {
		return nil
	}
	m.report(block)
	return nil
}

func (m *monitor) report(block []complex64) {
	st := m.src.Stats()
	sample := telemetry.Sample{
		Timestamp: time.Now(),
		State:     st.State,
		Quanta:    st.Quanta,
		Produced:  len(block),
		Samples:   st.Samples,
		Failures:  st.Failures,
		Streak:    st.Streak,
		Capacity:  st.Capacity,
		Overruns:  st.Overruns,
		PeakBin:   -1,
	}
	level := dsp.Measure(block)
	sample.DCI, sample.DCQ = level.MeanI, level.MeanQ
	sample.RMSDBFS = level.RMSDBFS
	sample.Clipped = level.Clipped

	if size := m.hub.ConfigSnapshot().SpectrumSize; m.analyzer == nil || m.analyzer.Size() != size {
		m.analyzer = dsp.NewAnalyzer(size)
	}
	if len(block) > 0 {
		bins := m.analyzer.Spectrum(block)
		sample.PeakBin, sample.PeakDBFS = dsp.Peak(bins)
		sample.PeakHz = m.centerHz + dsp.BinFrequency(sample.PeakBin, len(bins), m.sampleRate)
		m.hub.UpdateSpectrum(bins, m.centerHz, m.sampleRate)
	}
	m.reporter.Report(sample)
}

// final reports the session state once the flowgraph has stopped.
func (m *monitor) final() {
	st := m.src.Stats()
	m.reporter.Report(telemetry.Sample{
		Timestamp: time.Now(),
		State:     st.State,
		Quanta:    st.Quanta,
		Samples:   st.Samples,
		Failures:  st.Failures,
		Streak:    st.Streak,
		Capacity:  st.Capacity,
		Overruns:  st.Overruns,
		RMSDBFS:   dsp.FloorDB,
		PeakBin:   -1,
	})
}
