package engine

import "sync/atomic"

// Metrics tracks engine activity with lock-free counters.
type Metrics struct {
	stored       atomic.Int64
	deduplicated atomic.Int64
	retrieved    atomic.Int64
	associations atomic.Int64
	compressed   atomic.Int64
	swept        atomic.Int64
}

func (m *Metrics) IncStored()            { m.stored.Add(1) }
func (m *Metrics) IncDeduplicated()      { m.deduplicated.Add(1) }
func (m *Metrics) IncRetrieved(n int)    { m.retrieved.Add(int64(n)) }
func (m *Metrics) IncAssociations(n int) { m.associations.Add(int64(n)) }
func (m *Metrics) IncCompressed(n int)   { m.compressed.Add(int64(n)) }
func (m *Metrics) IncSwept(n int64)      { m.swept.Add(n) }

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Stored       int64 `json:"stored"`
	Deduplicated int64 `json:"deduplicated"`
	Retrieved    int64 `json:"retrieved"`
	Associations int64 `json:"associations"`
	Compressed   int64 `json:"compressed"`
	Swept        int64 `json:"swept"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Stored:       m.stored.Load(),
		Deduplicated: m.deduplicated.Load(),
		Retrieved:    m.retrieved.Load(),
		Associations: m.associations.Load(),
		Compressed:   m.compressed.Load(),
		Swept:        m.swept.Load(),
	}
}
