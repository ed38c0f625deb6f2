package telemetry

import (
	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
)

// Reporter captures telemetry events.
type Reporter interface {
	Report(sample Sample)
}

// StdoutReporter prints stream updates through the logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	return StdoutReporter{logger: logging.For(logger, "telemetry")}
}

func (r StdoutReporter) Report(sample Sample) {
	fields := []logging.Field{
		{Key: "state", Value: sample.State},
		{Key: "samples", Value: sample.Samples},
		{Key: "rms_dbfs", Value: sample.RMSDBFS},
	}
	if sample.PeakBin >= 0 {
		fields = append(fields,
			logging.Field{Key: "peak_dbfs", Value: sample.PeakDBFS},
			logging.Field{Key: "peak_hz", Value: sample.PeakHz},
		)
	}
	if sample.Failures != 0 {
		fields = append(fields, logging.Field{Key: "failures", Value: sample.Failures})
	}
	if sample.Streak != 0 {
		fields = append(fields, logging.Field{Key: "streak", Value: sample.Streak})
	}
	if sample.Overruns != 0 {
		fields = append(fields, logging.Field{Key: "overruns", Value: sample.Overruns})
	}
	if sample.Clipped != 0 {
		fields = append(fields, logging.Field{Key: "clipped", Value: sample.Clipped})
	}
	if sample.Streak != 0 {
		r.logger.Warn("stream sample", fields...)
		return
	}
	r.logger.Info("stream sample", fields...)
}
