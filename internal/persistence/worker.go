package persistence

import (
	"context"
	"database/sql"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Worker drains the persist channel and batch-writes to Postgres. It runs
// independently from the engine; the persist channel uses BLOCKING sends, so
// if the worker falls behind the engine stalls and no committed operation is
// lost.
type Worker struct {
	writer       *LedgerWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewLedgerWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]core.Output, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining with a background context.
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, out)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch: it retries until the write succeeds or, on shutdown, attempts one
// final flush with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []core.Output) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.logger.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}
	}
}

// flush writes one batch in a single transaction: the event rows plus every
// ledger record the batch touched.
func (w *Worker) flush(ctx context.Context, batch []core.Output) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	events := make([]EventRow, 0, len(batch))
	accountCount := 0
	stateCount := 0

	for _, out := range batch {
		env := out.Envelope
		payload, err := MarshalEventPayload(env.Payload)
		if err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("marshal").Inc()
			}
			return err
		}
		var accountID *string
		if env.AccountID != nil {
			s := env.AccountID.String()
			accountID = &s
		}
		events = append(events, EventRow{
			Sequence:  env.Sequence,
			EventType: env.EventType.String(),
			VaultID:   env.VaultID,
			AccountID: accountID,
			Payload:   payload,
			Timestamp: env.Timestamp,
		})

		if err := w.writer.UpsertAccounts(ctx, tx, out.Accounts, env.Sequence); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("upsert_accounts").Inc()
			}
			return err
		}
		if err := w.writer.UpsertStates(ctx, tx, out.States, env.Sequence); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("upsert_states").Inc()
			}
			return err
		}
		accountCount += len(out.Accounts)
		stateCount += len(out.States)
	}

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(events)))
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		w.metrics.PersistRecordsWritten.WithLabelValues("vault_accounts").Add(float64(accountCount))
		w.metrics.PersistRecordsWritten.WithLabelValues("vault_states").Add(float64(stateCount))
		if len(events) > 0 {
			w.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}

	return nil
}
