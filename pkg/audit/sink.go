package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Sink receives decision records. Emit must not block the pipeline for long
// and never reports failure to it; sinks log their own errors.
type Sink interface {
	Emit(rec Record)
}

type NopSink struct{}

func (NopSink) Emit(Record) {}

// SinkFunc adapts a function to Sink
type SinkFunc func(rec Record)

func (f SinkFunc) Emit(rec Record) { f(rec) }

// Multi fans a record out to every sink in order
type Multi []Sink

func (m Multi) Emit(rec Record) {
	for _, s := range m {
		s.Emit(rec)
	}
}

// FileSink appends one JSON object per line
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	logger *zap.SugaredLogger
}

func NewFileSink(path string, logger *zap.SugaredLogger) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileSink{f: f, logger: logger}, nil
}

func (s *FileSink) Emit(rec Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warnw("audit_marshal_failed", "id", rec.ID, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		s.logger.Warnw("audit_write_failed", "id", rec.ID, "err", err)
	}
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// LogSink writes records to the structured log at debug level
type LogSink struct {
	Logger *zap.SugaredLogger
}

func (s LogSink) Emit(rec Record) {
	s.Logger.Debugw("decision",
		"id", rec.ID,
		"event_id", rec.EventID,
		"asset", rec.Asset,
		"coin", rec.Coin,
		"price", rec.Price.String(),
		"decision", rec.Decision,
		"reason", rec.Reason)
}
