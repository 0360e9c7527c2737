package requests

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
)

type entry struct {
	seq int64
	req model.Request
}

// MemoryStore keeps requests in a map and remembers insertion order.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*entry
	seq  int64
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]*entry{}, now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, r model.Request) (model.Request, error) {
	if err := Validate(r); err != nil {
		return model.Request{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.data {
		if !e.req.Status.Terminal() && e.req.Origin == r.Origin && e.req.Destination == r.Destination {
			return model.Request{}, ErrDuplicate
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := s.data[r.ID]; ok {
		return model.Request{}, ErrDuplicate
	}
	now := s.now()
	r.Status = model.RequestPending
	r.AssignedDrone = ""
	r.CurrentPosition = nil
	r.CancelSentAt = nil
	r.CreatedAt, r.UpdatedAt = now, now
	s.seq++
	s.data[r.ID] = &entry{seq: s.seq, req: r}
	return r, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok {
		return model.Request{}, ErrUnknownRequest
	}
	return e.req, nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]model.Request, error) {
	return s.ListByStatus(ctx, model.RequestPending)
}

func (s *MemoryStore) ListByStatus(_ context.Context, st model.RequestStatus) ([]model.Request, error) {
	s.mu.RLock()
	matched := make([]entry, 0)
	for _, e := range s.data {
		if e.req.Status == st {
			matched = append(matched, *e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	res := make([]model.Request, 0, len(matched))
	for _, e := range matched {
		res = append(res, e.req)
	}
	return res, nil
}

func (s *MemoryStore) Assign(_ context.Context, requestID, droneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if e.req.Status != model.RequestPending {
		return ErrRequestNotPending
	}
	e.req.Status = model.RequestAssigned
	e.req.AssignedDrone = droneID
	e.req.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, requestID string, p geo.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if e.req.Status != model.RequestOnRoute {
		return nil
	}
	e.req.CurrentPosition = &p
	return nil
}

func (s *MemoryStore) MarkStatus(_ context.Context, requestID string, st model.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if !model.CanTransition(e.req.Status, st) {
		return ErrInvalidTransition
	}
	e.req.Status = st
	if st == model.RequestPending {
		e.req.AssignedDrone = ""
	}
	e.req.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkCancelSent(_ context.Context, requestID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[requestID]
	if !ok {
		return false, ErrUnknownRequest
	}
	if e.req.Status != model.RequestCancelling {
		return false, ErrInvalidTransition
	}
	if e.req.CancelSentAt != nil {
		return false, nil
	}
	e.req.CancelSentAt = &at
	return true, nil
}
