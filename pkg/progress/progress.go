// Package progress reports how far a batch run has come. Reporting is purely
// observational and never influences what the pipeline writes.
package progress

import (
	"time"

	"go.uber.org/zap"
)

// Reporter receives progress updates from the pipeline
type Reporter interface {
	Start(total int)
	Update(index int)
	Finish()
}

// Nop discards all updates
type Nop struct{}

func (Nop) Start(int)  {}
func (Nop) Update(int) {}
func (Nop) Finish()    {}

// LogReporter writes percentage and ETA to a zap logger every N images
type LogReporter struct {
	logger  *zap.Logger
	every   int
	total   int
	started time.Time
	now     func() time.Time
}

// NewLogReporter creates a reporter logging every `every` images (minimum 1)
func NewLogReporter(logger *zap.Logger, every int) *LogReporter {
	if every < 1 {
		every = 1
	}
	return &LogReporter{logger: logger, every: every, now: time.Now}
}

// Start records the total number of images
func (r *LogReporter) Start(total int) {
	r.total = total
	r.started = r.now()
	r.logger.Info("processing images", zap.Int("total", total))
}

// Update reports the zero based index of the image just handled
func (r *LogReporter) Update(index int) {
	done := index + 1
	if done%r.every != 0 && done != r.total {
		return
	}

	elapsed := r.now().Sub(r.started)
	fields := []zap.Field{
		zap.Int("done", done),
		zap.Int("total", r.total),
		zap.Float64("percent", Percent(done, r.total)),
		zap.Duration("elapsed", elapsed),
	}
	if eta, ok := ETA(done, r.total, elapsed); ok {
		fields = append(fields, zap.Duration("eta", eta))
	}
	r.logger.Info("progress", fields...)
}

// Finish logs the total elapsed time
func (r *LogReporter) Finish() {
	r.logger.Info("processing finished", zap.Int("total", r.total), zap.Duration("elapsed", r.now().Sub(r.started)))
}

// Percent returns done/total as a percentage rounded to one decimal
func Percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	p := float64(done) * 100 / float64(total)
	return float64(int(p*10+0.5)) / 10
}

// ETA extrapolates the remaining time from the average time per image
func ETA(done, total int, elapsed time.Duration) (time.Duration, bool) {
	if done <= 0 || total <= 0 || done > total {
		return 0, false
	}
	perImage := elapsed / time.Duration(done)
	return perImage * time.Duration(total-done), true
}
