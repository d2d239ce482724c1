package scheduling

import (
	"container/heap"
	"sync"
	"time"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// scheduleHeap is a min-heap of pending events keyed by scheduled_at.  It is
// purely a wakeup cache over the durable event rows: losing it costs an
// early or late tick, never a missed transition, and it is rebuilt from the
// repository at startup.
type scheduleHeap struct {
	mu    sync.Mutex
	items eventItems
	byID  map[common.ID]*eventItem
}

type eventItem struct {
	id           common.ID
	medicationID common.ID
	at           time.Time
	index        int
}

type eventItems []*eventItem

func (h eventItems) Len() int           { return len(h) }
func (h eventItems) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h eventItems) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *eventItems) Push(x interface{}) {
	it := x.(*eventItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *eventItems) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func newScheduleHeap() *scheduleHeap {
	return &scheduleHeap{byID: make(map[common.ID]*eventItem)}
}

// Reset replaces the heap contents with the given pending events.
func (s *scheduleHeap) Reset(events []*doseevent.DoseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = s.items[:0]
	s.byID = make(map[common.ID]*eventItem, len(events))
	for _, e := range events {
		it := &eventItem{id: e.ID, medicationID: e.MedicationID, at: e.ScheduledAt}
		s.items = append(s.items, it)
		s.byID[e.ID] = it
	}
	heap.Init(&s.items)
}

// Add inserts one pending event.
func (s *scheduleHeap) Add(e *doseevent.DoseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[e.ID]; dup {
		return
	}
	it := &eventItem{id: e.ID, medicationID: e.MedicationID, at: e.ScheduledAt}
	s.byID[e.ID] = it
	heap.Push(&s.items, it)
}

// Remove evicts one event by id.
func (s *scheduleHeap) Remove(id common.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.byID[id]; ok {
		heap.Remove(&s.items, it.index)
		delete(s.byID, id)
	}
}

// RemoveMedication evicts every cached event of one medication.
func (s *scheduleHeap) RemoveMedication(medicationID common.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, it := range s.byID {
		if it.medicationID == medicationID {
			heap.Remove(&s.items, it.index)
			delete(s.byID, id)
		}
	}
}

// PopDue removes and returns the ids of all cached events due by now.
func (s *scheduleHeap) PopDue(now time.Time) []common.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []common.ID
	for len(s.items) > 0 && !s.items[0].at.After(now) {
		it := heap.Pop(&s.items).(*eventItem)
		delete(s.byID, it.id)
		due = append(due, it.id)
	}
	return due
}

// NextDue returns the earliest cached dose time, if any.
func (s *scheduleHeap) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return time.Time{}, false
	}
	return s.items[0].at, true
}

// Len reports the cache size.
func (s *scheduleHeap) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
