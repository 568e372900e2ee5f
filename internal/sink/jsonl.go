package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// JSONLConfig tunes the file sink.
type JSONLConfig struct {
	Dir        string
	Prefix     string
	BufferSize int
}

// JSONLSink appends normalized records to minute-bucketed JSONL files.
// The active file carries a .tmp suffix and is renamed into place when
// its minute closes, so downstream loaders only ever see complete files.
type JSONLSink struct {
	cfg    JSONLConfig
	logger *slog.Logger

	input *Buffer[model.NormalizedRecord]

	file   *os.File
	wr     *bufio.Writer
	bucket time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	written int64
	dropped int64
}

// NewJSONLSink creates the file sink. Files land under cfg.Dir as
// <prefix>-YYYYMMDD-HHMM.jsonl.
func NewJSONLSink(cfg JSONLConfig, logger *slog.Logger) *JSONLSink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "book"
	}
	return &JSONLSink{
		cfg:    cfg,
		logger: logger.With("component", "jsonl_sink"),
		input:  NewBuffer[model.NormalizedRecord](1024, cfg.BufferSize),
	}
}

// Name identifies the sink.
func (s *JSONLSink) Name() string { return "jsonl" }

// Enqueue buffers one record for writing.
func (s *JSONLSink) Enqueue(rec model.NormalizedRecord) bool {
	if s.input.Send(rec) {
		return true
	}
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	return false
}

// Start creates the output directory and begins the writer loop.
func (s *JSONLSink) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.writeLoop()

	s.logger.Info("jsonl sink started", "dir", s.cfg.Dir, "prefix", s.cfg.Prefix)
	return nil
}

// Stop drains remaining records and seals the active file.
func (s *JSONLSink) Stop(ctx context.Context) error {
	s.logger.Info("stopping jsonl sink")

	if s.cancel != nil {
		s.cancel()
	}
	s.input.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("jsonl sink stop timed out")
	}

	for _, rec := range s.input.DrainTo(0) {
		s.write(rec)
	}
	if err := s.closeFile(); err != nil {
		return err
	}
	s.logger.Info("jsonl sink stopped", "records_written", s.written)
	return nil
}

func (s *JSONLSink) writeLoop() {
	defer s.wg.Done()

	for {
		rec, ok := s.input.TryReceive()
		if !ok {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		s.write(rec)
	}
}

func (s *JSONLSink) write(rec model.NormalizedRecord) {
	bucket := time.Unix(0, rec.ReceivedAt).UTC().Truncate(time.Minute)
	if s.file == nil || !bucket.Equal(s.bucket) {
		if err := s.rotate(bucket); err != nil {
			s.logger.Error("file rotation failed", "error", err)
			return
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("record marshal failed", "error", err)
		return
	}
	if _, err := s.wr.Write(line); err != nil {
		s.logger.Error("file write failed", "error", err)
		return
	}
	if err := s.wr.WriteByte('\n'); err != nil {
		s.logger.Error("file write failed", "error", err)
		return
	}
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
}

// rotate seals the current file and opens the one for the new minute.
func (s *JSONLSink) rotate(bucket time.Time) error {
	if err := s.closeFile(); err != nil {
		s.logger.Warn("sealing previous file failed", "error", err)
	}

	name := fmt.Sprintf("%s-%s.jsonl", s.cfg.Prefix, bucket.Format("20060102-1504"))
	path := filepath.Join(s.cfg.Dir, name)
	f, err := os.OpenFile(path+".tmp", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	s.file = f
	s.wr = bufio.NewWriterSize(f, 64*1024)
	s.bucket = bucket
	return nil
}

// closeFile flushes the active file and strips its .tmp suffix.
func (s *JSONLSink) closeFile() error {
	if s.file == nil {
		return nil
	}
	if err := s.wr.Flush(); err != nil {
		return err
	}
	tmp := s.file.Name()
	if err := s.file.Close(); err != nil {
		return err
	}
	s.file = nil
	s.wr = nil

	final := tmp[:len(tmp)-len(".tmp")]
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("sealing %s: %w", tmp, err)
	}
	return nil
}

// Written returns the number of records written so far.
func (s *JSONLSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
