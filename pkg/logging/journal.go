package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

// Level represents journal event severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one line of the run journal
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	EventType string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Journal appends run events as JSON lines. Each run gets its own file
// under runs/; error-level events are also appended to errors.jsonl.
type Journal struct {
	runID     string
	baseDir   string
	runFile   *os.File
	errorFile *os.File
	mu        sync.Mutex
}

// NewJournal opens the journal files for runID under baseDir.
func NewJournal(baseDir, runID string) (*Journal, error) {
	runsDir := filepath.Join(baseDir, "runs")
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	runFile, err := os.OpenFile(
		filepath.Join(runsDir, runID+".jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open run journal: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		runFile.Close()
		return nil, fmt.Errorf("failed to open error journal: %w", err)
	}

	return &Journal{
		runID:     runID,
		baseDir:   baseDir,
		runFile:   runFile,
		errorFile: errorFile,
	}, nil
}

// Path returns the run journal file path.
func (j *Journal) Path() string {
	return filepath.Join(j.baseDir, "runs", j.runID+".jsonl")
}

// Log writes an event to the appropriate files. Failures, including
// writing to a closed journal, carry ErrCodeJournalWrite.
func (j *Journal) Log(event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.runFile == nil {
		return apperrors.New(apperrors.ErrCodeJournalWrite, "journal is closed").
			WithContext("event_type", event.EventType)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = j.runID
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}

	data, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeJournalWrite, "failed to marshal event")
	}
	data = append(data, '\n')

	if _, err := j.runFile.Write(data); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeJournalWrite, "failed to write run journal")
	}
	if event.Level == LevelError && j.errorFile != nil {
		if _, err := j.errorFile.Write(data); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeJournalWrite, "failed to write error journal")
		}
	}
	return nil
}

// Record converts a telemetry event into a journal event and writes it.
func (j *Journal) Record(ev telemetry.Event) error {
	return j.Log(Event{
		Timestamp: ev.Timestamp,
		Level:     levelFor(ev),
		EventType: string(ev.Type),
		RunID:     ev.RunID,
		SessionID: ev.SessionID,
		Details:   ev.Data,
	})
}

// Follow writes every event from events until the channel closes.
func (j *Journal) Follow(events <-chan telemetry.Event, onError func(error)) {
	for ev := range events {
		if err := j.Record(ev); err != nil && onError != nil {
			onError(err)
		}
	}
}

func levelFor(ev telemetry.Event) Level {
	switch ev.Type {
	case telemetry.EventBrowserScriptFailed, telemetry.EventTeardownFailed:
		switch outcome, _ := ev.Data["outcome"].(string); outcome {
		case "driver_error":
			return LevelWarn
		case "cancelled":
			return LevelInfo
		}
		return LevelError
	case telemetry.EventRunCompleted:
		if disposition, _ := ev.Data["disposition"].(string); disposition == "errored" {
			return LevelError
		}
		return LevelInfo
	case telemetry.EventProbeEvaluated, telemetry.EventBrowserScript, telemetry.EventBitrateSample:
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Close closes all journal files
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	if j.runFile != nil {
		if err := j.runFile.Close(); err != nil {
			errs = append(errs, err)
		}
		j.runFile = nil
	}
	if j.errorFile != nil {
		if err := j.errorFile.Close(); err != nil {
			errs = append(errs, err)
		}
		j.errorFile = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing journal files: %v", errs)
	}
	return nil
}

// ReadRecentEvents reads the last count events from a journal file.
// Malformed lines are skipped.
func ReadRecentEvents(path string, count int) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	if count >= 0 && len(events) > count {
		events = events[len(events)-count:]
	}
	return events, nil
}
