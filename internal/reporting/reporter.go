// internal/reporting/reporter.go
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Reporter receives every recorded step of a run.
type Reporter interface {
	agent.Recorder
	// Close flushes buffered output and releases file handles.
	Close() error
}

// nopCloser adapts a Recorder whose resources are owned elsewhere.
type nopCloser struct {
	agent.Recorder
}

func (nopCloser) Close() error { return nil }

// New builds the reporters named in cfg.Sinks. db backs the "postgres" sink
// and may be nil when that sink is not requested.
func New(cfg config.RecordingConfig, logger *zap.Logger, db agent.Recorder) (Reporter, error) {
	var reporters []Reporter
	cleanup := func() {
		for _, r := range reporters {
			_ = r.Close()
		}
	}

	for _, sink := range cfg.Sinks {
		switch strings.ToLower(sink) {
		case "log":
			reporters = append(reporters, NewLogReporter(logger))
		case "file":
			r, err := NewFileReporter(cfg.Dir, cfg.SaveScreenshots, logger)
			if err != nil {
				cleanup()
				return nil, err
			}
			reporters = append(reporters, r)
		case "postgres":
			if db == nil {
				cleanup()
				return nil, errors.New("postgres sink requested but no database is configured")
			}
			reporters = append(reporters, nopCloser{db})
		default:
			cleanup()
			return nil, fmt.Errorf("unsupported recording sink: %s", sink)
		}
	}

	if len(reporters) == 1 {
		return reporters[0], nil
	}
	return &MultiReporter{reporters: reporters}, nil
}

// MultiReporter fans a record out to several reporters. Every reporter sees
// every record even if an earlier one fails.
type MultiReporter struct {
	reporters []Reporter
}

// NewMultiReporter combines reporters.
func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	return &MultiReporter{reporters: reporters}
}

func (m *MultiReporter) Record(ctx context.Context, rec agent.StepRecord) error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiReporter) Close() error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
