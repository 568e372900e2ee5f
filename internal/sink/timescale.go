package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// TimescaleConfig tunes the database sink's batching.
type TimescaleConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// TimescaleSink batches normalized records into the book_records
// hypertable. Inserts use ON CONFLICT DO NOTHING so an overlapping
// replay after a crash cannot duplicate rows.
type TimescaleSink struct {
	cfg    TimescaleConfig
	logger *slog.Logger

	input *Buffer[model.NormalizedRecord]
	db    *pgxpool.Pool

	batch       []recordRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics TimescaleMetrics
}

// TimescaleMetrics tracks insert outcomes.
type TimescaleMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Drops     int64
	Flushes   int64
}

type recordRow struct {
	Exchange   string
	Symbol     string
	Sequence   int64
	ExchangeTS int64
	ReceivedAt int64
	IsSnapshot bool
	ConnID     string
	Side       string
	Price      int64
	Size       int64
	Bids       []byte // JSONB
	Asks       []byte // JSONB
}

// NewTimescaleSink creates the database sink.
func NewTimescaleSink(cfg TimescaleConfig, db *pgxpool.Pool, logger *slog.Logger) *TimescaleSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimescaleSink{
		cfg:    cfg,
		logger: logger.With("component", "timescale_sink"),
		input:  NewBuffer[model.NormalizedRecord](cfg.BatchSize, cfg.BufferSize),
		db:     db,
		batch:  make([]recordRow, 0, cfg.BatchSize),
	}
}

// Name identifies the sink.
func (s *TimescaleSink) Name() string { return "timescale" }

// Enqueue buffers one record for insertion.
func (s *TimescaleSink) Enqueue(rec model.NormalizedRecord) bool {
	if s.input.Send(rec) {
		return true
	}
	s.batchMu.Lock()
	s.metrics.Drops++
	s.batchMu.Unlock()
	return false
}

// Start begins consuming records and writing to the database.
func (s *TimescaleSink) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.flushTicker = time.NewTicker(s.cfg.FlushInterval)

	s.wg.Add(1)
	go s.consumeLoop()

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("timescale sink started",
		"batch_size", s.cfg.BatchSize,
		"flush_interval", s.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the sink.
func (s *TimescaleSink) Stop(ctx context.Context) error {
	s.logger.Info("stopping timescale sink")

	if s.cancel != nil {
		s.cancel()
	}
	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}
	s.input.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("timescale sink stopped")
	case <-ctx.Done():
		s.logger.Warn("timescale sink stop timed out")
	}

	// Final flush
	s.drainInput()
	s.flush(context.Background())
	return nil
}

// Stats returns current metrics.
func (s *TimescaleSink) Stats() TimescaleMetrics {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.metrics
}

func (s *TimescaleSink) consumeLoop() {
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
		s.add(rec)
	}
}

func (s *TimescaleSink) flushLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.flushTicker.C:
			s.flush(s.ctx)
		}
	}
}

func (s *TimescaleSink) add(rec model.NormalizedRecord) {
	row, err := transformRecord(rec)
	if err != nil {
		s.logger.Error("record transform failed", "error", err)
		s.batchMu.Lock()
		s.metrics.Errors++
		s.batchMu.Unlock()
		return
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, row)
	shouldFlush := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()
	if shouldFlush {
		s.flush(s.ctx)
	}
}

// drainInput moves leftover records into the batch without flushing;
// Stop follows with a final flush that is not bound to the run context.
func (s *TimescaleSink) drainInput() {
	for _, rec := range s.input.DrainTo(0) {
		row, err := transformRecord(rec)
		if err != nil {
			s.batchMu.Lock()
			s.metrics.Errors++
			s.batchMu.Unlock()
			continue
		}
		s.batchMu.Lock()
		s.batch = append(s.batch, row)
		s.batchMu.Unlock()
	}
}

// transformRecord converts a record to its row form. Ladders are stored
// as JSONB arrays of [price, size] fixed-point pairs.
func transformRecord(rec model.NormalizedRecord) (recordRow, error) {
	row := recordRow{
		Exchange:   rec.Exchange,
		Symbol:     rec.Symbol,
		Sequence:   rec.Sequence,
		ExchangeTS: rec.ExchangeTS,
		ReceivedAt: rec.ReceivedAt,
		IsSnapshot: rec.IsSnapshot,
		ConnID:     rec.ConnID.String(),
		Price:      rec.Price,
		Size:       rec.Size,
	}
	if rec.Bids != nil || rec.Asks != nil {
		bids, err := levelsJSON(rec.Bids)
		if err != nil {
			return recordRow{}, err
		}
		asks, err := levelsJSON(rec.Asks)
		if err != nil {
			return recordRow{}, err
		}
		row.Bids = bids
		row.Asks = asks
	}
	if !rec.IsSnapshot && rec.Bids == nil && rec.Asks == nil {
		row.Side = rec.Side.String()
	}
	return row, nil
}

func levelsJSON(levels []model.PriceLevel) ([]byte, error) {
	pairs := make([][2]int64, len(levels))
	for i, lv := range levels {
		pairs[i] = [2]int64{lv.Price, lv.Size}
	}
	return json.Marshal(pairs)
}

// flush writes the accumulated batch to the database.
func (s *TimescaleSink) flush(ctx context.Context) {
	s.batchMu.Lock()
	batch := s.batch
	s.batch = make([]recordRow, 0, s.cfg.BatchSize)
	s.batchMu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()
	conflicts, err := s.batchInsert(ctx, batch)
	s.batchMu.Lock()
	if err != nil {
		s.metrics.Errors++
	} else {
		s.metrics.Inserts += int64(len(batch) - conflicts)
		s.metrics.Conflicts += int64(conflicts)
	}
	s.metrics.Flushes++
	s.batchMu.Unlock()

	if err != nil {
		s.logger.Error("batch insert failed", "error", err, "count", len(batch))
		return
	}
	s.logger.Debug("flushed records",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows with ON CONFLICT DO NOTHING. The primary key
// (exchange, symbol, sequence, is_snapshot) makes replays idempotent.
func (s *TimescaleSink) batchInsert(ctx context.Context, rows []recordRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO book_records (exchange, symbol, sequence, exchange_ts, local_ts, is_snapshot, conn_id, side, price, size, bids, asks)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (exchange, symbol, sequence, is_snapshot) DO NOTHING
		`, r.Exchange, r.Symbol, r.Sequence, r.ExchangeTS, r.ReceivedAt, r.IsSnapshot, r.ConnID, r.Side, r.Price, r.Size, r.Bids, r.Asks)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
