package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agent-orchestrator/internal/guardrails"
)

// ViolationStore is what the audit writer needs from its backing store.
type ViolationStore interface {
	LogViolation(ctx context.Context, v *ViolationRecord) error
}

// AuditWriter buffers guardrail violations and writes them to the store
// in the background, so validation latency never depends on the
// database. It implements guardrails.AuditSink.
type AuditWriter struct {
	store ViolationStore
	ch    chan *ViolationRecord
	wg    sync.WaitGroup
	done  chan struct{}
}

// NewAuditWriter creates a buffered violation writer.
func NewAuditWriter(store ViolationStore, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		store: store,
		ch:    make(chan *ViolationRecord, bufferSize),
		done:  make(chan struct{}),
	}
}

// Start launches the background write loop.
func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Record enqueues a violation. If the buffer is full the entry is
// dropped rather than blocking validation.
func (w *AuditWriter) Record(v guardrails.Violation) {
	rec := &ViolationRecord{
		ID:            v.ID,
		TenantID:      v.TenantID,
		UserID:        v.UserID,
		AgentID:       v.AgentID,
		ViolationType: string(v.Type),
		RiskLevel:     v.RiskLevel.String(),
		ContentHash:   v.ContentHash,
		ContentPrefix: v.ContentPrefix,
		Sanitized:     v.Sanitized,
		Source:        v.Context.Source,
		CreatedAt:     v.Timestamp,
	}

	select {
	case w.ch <- rec:
	default:
		log.Warn().Str("violation_id", v.ID).Msg("audit buffer full, dropping violation")
	}
}

// Flush drains the buffer and stops the writer, waiting at most timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec := <-w.ch:
			w.writeWithRetry(rec)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case rec := <-w.ch:
					w.writeWithRetry(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(rec *ViolationRecord) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.store.LogViolation(ctx, rec)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("violation_id", rec.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("violation write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("violation_id", rec.ID).
				Msg("violation write failed permanently after retries")
		}
	}
}
