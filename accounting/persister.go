package accounting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/modelmux/store"
)

const saveTimeout = 5 * time.Second

// Persister handles async persistence of usage records. Writes are best
// effort: a full queue drops the record rather than blocking dispatch, and
// Close drains whatever is still queued.
type Persister struct {
	store     store.UsageStore
	aggregate *Aggregate // optional, observed on enqueue
	queue     chan *Record
	wg        sync.WaitGroup
	logger    *slog.Logger
	stopCh    chan struct{}
	once      sync.Once
}

// NewPersister creates a new async persister and starts its worker.
// aggregate may be nil when no in-memory rollup is wanted.
func NewPersister(usage store.UsageStore, aggregate *Aggregate, queueSize int, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &Persister{
		store:     usage,
		aggregate: aggregate,
		queue:     make(chan *Record, queueSize),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.processQueue()
	return p
}

// Enqueue queues a usage record for persistence and folds it into the
// aggregate. Returns true if queued, false if the queue is full.
func (p *Persister) Enqueue(record Record) bool {
	if p.aggregate != nil {
		p.aggregate.Observe(record)
	}

	select {
	case p.queue <- &record:
		p.logger.Debug("persister: record enqueued",
			"request_id", record.RequestID,
			"provider", record.Provider,
			"cost_usd", record.CostUSD,
			"queue_size", len(p.queue))
		return true
	default:
		p.logger.Warn("persister: queue full, dropping usage record",
			"request_id", record.RequestID,
			"provider", record.Provider,
			"queue_size", len(p.queue))
		return false
	}
}

// EnqueueLedger queues every record of a ledger. Returns how many were
// accepted.
func (p *Persister) EnqueueLedger(ledger *Ledger) int {
	accepted := 0
	for _, record := range ledger.Records() {
		if p.Enqueue(record) {
			accepted++
		}
	}
	return accepted
}

// processQueue processes usage records in the background.
func (p *Persister) processQueue() {
	defer p.wg.Done()

	for {
		select {
		case record := <-p.queue:
			if record == nil {
				// Nil signal means shutdown
				return
			}
			p.save(record)

		case <-p.stopCh:
			// Drain remaining items before shutdown
			p.drainQueue()
			return
		}
	}
}

// save converts and saves one record to the database.
func (p *Persister) save(record *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	usageRecord := &store.UsageRecord{
		RequestID: record.RequestID,
		TaskID:    record.TaskID,
		UserID:    record.UserID,
		Provider:  record.Provider,
		Model:     record.Model,
		Category:  record.Category,
		Tokens:    record.Tokens,
		CostUSD:   record.CostUSD,
		Partial:   record.Partial,
		LatencyMs: record.LatencyMs,
	}

	if err := p.store.SaveUsage(ctx, usageRecord); err != nil {
		p.logger.Error("persister: failed to save usage record",
			"request_id", record.RequestID,
			"provider", record.Provider,
			"error", err)
		return
	}
	p.logger.Debug("persister: saved usage record",
		"request_id", record.RequestID,
		"provider", record.Provider,
		"cost_usd", record.CostUSD)
}

// drainQueue processes any remaining items in the queue during shutdown.
func (p *Persister) drainQueue() {
	p.logger.Info("persister: draining queue", "remaining", len(p.queue))
	for {
		select {
		case record := <-p.queue:
			if record == nil {
				return
			}
			p.save(record)
		default:
			return
		}
	}
}

// Close waits for the queue to drain and shuts down the persister.
func (p *Persister) Close(timeout time.Duration) error {
	p.once.Do(func() {
		close(p.stopCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("persister: shutdown complete")
		return nil
	case <-time.After(timeout):
		p.logger.Warn("persister: shutdown timeout")
		return context.DeadlineExceeded
	}
}

// QueueSize returns the current queue size.
func (p *Persister) QueueSize() int {
	return len(p.queue)
}
