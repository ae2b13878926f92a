// internal/reporting/file_reporter.go
package reporting

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

// StepsFile is the JSONL history written inside the recording directory.
const StepsFile = "steps.jsonl"

// FileReporter appends one JSON line per step and optionally keeps the
// screenshot the step was predicted from as webpage_{step}.png.
type FileReporter struct {
	mu              sync.Mutex
	dir             string
	saveScreenshots bool
	out             io.WriteCloser
	logger          *zap.Logger
}

func NewFileReporter(dir string, saveScreenshots bool, logger *zap.Logger) (*FileReporter, error) {
	if dir == "" {
		dir = "history"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory %s: %w", dir, err)
	}
	return &FileReporter{
		dir:             dir,
		saveScreenshots: saveScreenshots,
		out: &lumberjack.Logger{
			Filename:   filepath.Join(dir, StepsFile),
			MaxSize:    50,
			MaxBackups: 3,
		},
		logger: logger.Named("file_reporter"),
	}, nil
}

func (r *FileReporter) Record(_ context.Context, rec agent.StepRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode step %d: %w", rec.Step, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append step %d: %w", rec.Step, err)
	}
	if r.saveScreenshots && rec.Screenshot != "" {
		if err := r.writeScreenshot(rec); err != nil {
			// A missing screenshot should not fail the step record.
			r.logger.Warn("Could not save screenshot.", zap.Int("step", rec.Step), zap.Error(err))
		}
	}
	return nil
}

func (r *FileReporter) writeScreenshot(rec agent.StepRecord) error {
	img, err := base64.StdEncoding.DecodeString(rec.Screenshot)
	if err != nil {
		return fmt.Errorf("decode screenshot: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("webpage_%d.png", rec.Step))
	return os.WriteFile(path, img, 0o644)
}

func (r *FileReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out.Close()
}

// ReadSteps decodes a JSONL history produced by FileReporter. Blank lines
// are skipped.
func ReadSteps(in io.Reader) ([]agent.StepRecord, error) {
	var steps []agent.StepRecord
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec agent.StepRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		steps = append(steps, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read step history: %w", err)
	}
	return steps, nil
}
