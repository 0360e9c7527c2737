package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/dronedispatch/core/model"
)

// MemoryStore keeps the fleet in a map guarded by a mutex.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.Drone
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]model.Drone{}, now: time.Now}
}

func (s *MemoryStore) Register(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		s.data[id] = model.Drone{ID: id, Status: model.DroneIdle, UpdatedAt: s.now()}
	}
	return nil
}

func (s *MemoryStore) UpsertTelemetry(_ context.Context, id string, rep model.Report) (model.Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return model.Drone{}, ErrUnknownDrone
	}
	d = ApplyReport(d, rep)
	d.UpdatedAt = s.now()
	s.data[id] = d
	return d, nil
}

func (s *MemoryStore) ListIdle(_ context.Context) ([]model.IdleDrone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.IdleDrone, 0, len(s.data))
	for _, d := range s.data {
		if d.Status == model.DroneIdle && d.CurrentRequest == "" {
			res = append(res, model.IdleDrone{ID: d.ID, Position: d.Position})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) MarkBusy(_ context.Context, droneID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[droneID]
	if !ok {
		return ErrUnknownDrone
	}
	if d.Status != model.DroneIdle || d.CurrentRequest != "" {
		return ErrDroneNotIdle
	}
	d.Status = model.DroneOnRoute
	d.CurrentRequest = requestID
	d.UpdatedAt = s.now()
	s.data[droneID] = d
	return nil
}

func (s *MemoryStore) Release(_ context.Context, droneID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[droneID]
	if !ok {
		return ErrUnknownDrone
	}
	if d.CurrentRequest == "" || d.CurrentRequest != requestID {
		return ErrNotReserved
	}
	d.CurrentRequest = ""
	if d.Status != model.DroneOffline {
		d.Status = model.DroneIdle
	}
	d.UpdatedAt = s.now()
	s.data[droneID] = d
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Drone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[id]
	if !ok {
		return model.Drone{}, ErrUnknownDrone
	}
	return d, nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Drone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Drone, 0, len(s.data))
	for _, d := range s.data {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
