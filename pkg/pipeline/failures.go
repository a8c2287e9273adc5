package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seafleet/pivotx/pkg/chunk"
)

// Failure is one chunk that failed: enough context to re-run exactly that
// window without touching anything else.
type Failure struct {
	EntityID string
	Window   chunk.Window
}

// FailureLog appends failed chunks to a flat CSV file (entity, start, end)
// consumed by the reprocess mode.
type FailureLog struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFailureLog returns a failure log writing to path.
func NewFailureLog(path string, logger *zap.Logger) *FailureLog {
	return &FailureLog{path: path, logger: logger}
}

// Append records a failed chunk. Best effort: a failure to persist is logged
// and swallowed, since the chunk error itself is already reported.
func (f *FailureLog) Append(entityID string, w chunk.Window) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		f.logger.Error("Cannot open failure log", zap.String("path", f.path), zap.Error(err))
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	record := []string{
		entityID,
		w.Start.UTC().Format(time.RFC3339Nano),
		w.End.UTC().Format(time.RFC3339Nano),
	}
	if err := writer.Write(record); err != nil {
		f.logger.Error("Cannot append to failure log", zap.String("path", f.path), zap.Error(err))
		return
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.logger.Error("Cannot append to failure log", zap.String("path", f.path), zap.Error(err))
	}
}

// LoadFailures reads a failure CSV back into chunk descriptors.
func LoadFailures(path string) ([]Failure, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 3
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read failure log %s: %w", path, err)
	}

	failures := make([]Failure, 0, len(records))
	for i, rec := range records {
		start, err := time.Parse(time.RFC3339Nano, rec[1])
		if err != nil {
			return nil, fmt.Errorf("failure log %s line %d: bad start: %w", path, i+1, err)
		}
		end, err := time.Parse(time.RFC3339Nano, rec[2])
		if err != nil {
			return nil, fmt.Errorf("failure log %s line %d: bad end: %w", path, i+1, err)
		}
		failures = append(failures, Failure{
			EntityID: rec[0],
			Window:   chunk.Window{Start: start, End: end},
		})
	}
	return failures, nil
}
