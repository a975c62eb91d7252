// Package accounting tracks what each dispatch cost: a per-request ledger,
// process-lifetime per-user aggregates, an admission gate enforcing rate and
// daily budget limits, and an async persister that writes usage records
// through to the store.
package accounting

import (
	"sync"
)

// Record is one provider attempt that produced billable output.
type Record struct {
	RequestID string
	TaskID    string
	UserID    string
	Provider  string
	Model     string
	Category  string
	Tokens    int
	CostUSD   float64
	Partial   bool
	LatencyMs int64
}

// Totals is the rolled-up view of a set of records.
type Totals struct {
	Records  int
	Tokens   int64
	CostUSD  float64
	Partials int
}

// Cost converts a token count to dollars using a per-1K-token price.
func Cost(costPer1K float64, tokens int) float64 {
	if tokens <= 0 || costPer1K <= 0 {
		return 0
	}
	return costPer1K * float64(tokens) / 1000
}

// Ledger collects the records of one dispatch request. Parallel sub-tasks
// append concurrently, so access is mutex-guarded. Order of entries follows
// completion order, not sub-task order.
type Ledger struct {
	mu        sync.Mutex
	requestID string
	userID    string
	records   []Record
}

// NewLedger creates an empty ledger bound to one request.
func NewLedger(requestID, userID string) *Ledger {
	return &Ledger{requestID: requestID, userID: userID}
}

// RequestID returns the request this ledger belongs to.
func (l *Ledger) RequestID() string {
	return l.requestID
}

// Add appends a record, stamping the ledger's request and user ids when the
// record leaves them empty.
func (l *Ledger) Add(record Record) {
	if record.RequestID == "" {
		record.RequestID = l.requestID
	}
	if record.UserID == "" {
		record.UserID = l.userID
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
}

// Records returns a copy of the entries so callers can iterate without
// holding the lock.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Totals rolls up the ledger.
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()

	var t Totals
	for _, record := range l.records {
		t.Records++
		t.Tokens += int64(record.Tokens)
		t.CostUSD += record.CostUSD
		if record.Partial {
			t.Partials++
		}
	}
	return t
}
