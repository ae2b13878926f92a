// internal/reporting/log_reporter.go
package reporting

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

// LogReporter writes each step to the structured log.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger.Named("history")}
}

func (r *LogReporter) Record(_ context.Context, rec agent.StepRecord) error {
	fields := []zap.Field{
		zap.String("run_id", rec.RunID),
		zap.Int("step", rec.Step),
		zap.String("action", rec.Action),
		zap.Strings("args", rec.Args),
		zap.String("details", rec.Details),
	}
	if rec.URL != "" {
		fields = append(fields, zap.String("url", rec.URL))
	}
	if rec.Status == "error" {
		r.logger.Warn("Step failed.", append(fields, zap.String("code", rec.Code))...)
		return nil
	}
	r.logger.Info("Step completed.", fields...)
	return nil
}

func (r *LogReporter) Close() error { return nil }
