package events

import (
	"sync"

	"itemescrow/core/types"
)

// Log is an append-only, in-memory event journal. Records are cloned on the
// way in and on the way out.
type Log struct {
	mu      sync.RWMutex
	records []*types.Event
}

// NewLog returns an empty journal.
func NewLog() *Log { return &Log{} }

// Emit implements the Emitter interface. Events that cannot be rendered into
// a record are stored with their type only.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	var record *types.Event
	if r, ok := evt.(Record); ok {
		record = r.Event().Clone()
	}
	if record == nil {
		record = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}
	l.mu.Lock()
	l.records = append(l.records, record)
	l.mu.Unlock()
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Events returns a copy of every recorded event in emission order.
func (l *Log) Events() []*types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*types.Event, len(l.records))
	for i, rec := range l.records {
		out[i] = rec.Clone()
	}
	return out
}

// Last returns the most recent event, if any.
func (l *Log) Last() (*types.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return nil, false
	}
	return l.records[len(l.records)-1].Clone(), true
}
