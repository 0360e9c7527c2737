// Package requeststest runs the same behavioural checks against every
// requests.Store implementation.
package requeststest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/core/requests"
)

// Run exercises newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) requests.Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreate(t, newStore(t)) })
	t.Run("Duplicate", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("PendingFIFO", func(t *testing.T) { testPendingFIFO(t, newStore(t)) })
	t.Run("Assign", func(t *testing.T) { testAssign(t, newStore(t)) })
	t.Run("ConcurrentAssign", func(t *testing.T) { testConcurrentAssign(t, newStore(t)) })
	t.Run("ListWhileAssigning", func(t *testing.T) { testListWhileAssigning(t, newStore(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("UpdatePosition", func(t *testing.T) { testUpdatePosition(t, newStore(t)) })
	t.Run("ReturnToPending", func(t *testing.T) { testReturnToPending(t, newStore(t)) })
	t.Run("CancelSent", func(t *testing.T) { testCancelSent(t, newStore(t)) })
}

// NewRequest builds a valid request whose origin is derived from i.
func NewRequest(i int) model.Request {
	return model.Request{
		Origin:      geo.Point{Lat: float64(i) * 0.01, Long: 1},
		Destination: geo.Point{Lat: float64(i) * 0.01, Long: 2},
		Weight:      2,
	}
}

func testCreate(t *testing.T, s requests.Store) {
	ctx := context.Background()
	r, err := s.Create(ctx, NewRequest(1))
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.RequestPending, r.Status)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Origin, got.Origin)
	assert.Equal(t, r.Destination, got.Destination)
	assert.Equal(t, 2.0, got.Weight)
	assert.Empty(t, got.AssignedDrone)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, requests.ErrUnknownRequest)

	bad := NewRequest(2)
	bad.Weight = 0
	_, err = s.Create(ctx, bad)
	assert.Error(t, err)

	bad = NewRequest(3)
	bad.Weight = math.NaN()
	_, err = s.Create(ctx, bad)
	assert.Error(t, err)

	bad = NewRequest(4)
	bad.Origin = geo.Point{Lat: math.NaN(), Long: math.NaN()}
	_, err = s.Create(ctx, bad)
	assert.Error(t, err)
}

func testDuplicate(t *testing.T, s requests.Store) {
	ctx := context.Background()
	r, err := s.Create(ctx, NewRequest(1))
	require.NoError(t, err)
	_, err = s.Create(ctx, NewRequest(1))
	assert.ErrorIs(t, err, requests.ErrDuplicate)

	require.NoError(t, s.MarkStatus(ctx, r.ID, model.RequestCancelling))
	require.NoError(t, s.MarkStatus(ctx, r.ID, model.RequestCancelled))
	_, err = s.Create(ctx, NewRequest(1))
	assert.NoError(t, err, "terminal requests do not block new ones")
}

func testPendingFIFO(t *testing.T, s requests.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		r, err := s.Create(ctx, NewRequest(i))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	require.NoError(t, s.Assign(ctx, ids[1], "d1"))
	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	var got []string
	for _, r := range pending {
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{ids[0], ids[2], ids[3], ids[4]}, got)
}

func testAssign(t *testing.T, s requests.Store) {
	ctx := context.Background()
	r, err := s.Create(ctx, NewRequest(1))
	require.NoError(t, err)
	require.NoError(t, s.Assign(ctx, r.ID, "d1"))
	assert.ErrorIs(t, s.Assign(ctx, r.ID, "d2"), requests.ErrRequestNotPending)
	assert.ErrorIs(t, s.Assign(ctx, "missing", "d2"), requests.ErrUnknownRequest)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAssigned, got.Status)
	assert.Equal(t, "d1", got.AssignedDrone)
}

func testConcurrentAssign(t *testing.T, s requests.Store) {
	ctx := context.Background()
	r, err := s.Create(ctx, NewRequest(1))
	require.NoError(t, err)
	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			did := fmt.Sprintf("d%d", i)
			err := s.Assign(ctx, r.ID, did)
			if err == nil {
				mu.Lock()
				winners = append(winners, did)
				mu.Unlock()
				return
			}
			if !errors.Is(err, requests.ErrRequestNotPending) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, winners, 1)
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.AssignedDrone)
}

func testListWhileAssigning(t *testing.T, s requests.Store) {
	ctx := context.Background()
	const n = 50
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		r, err := s.Create(ctx, NewRequest(i))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i, id := range ids {
			if err := s.Assign(ctx, id, fmt.Sprintf("d%d", i)); err != nil {
				t.Errorf("assign %s: %v", id, err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			list, err := s.ListPending(ctx)
			if err != nil {
				t.Errorf("list pending: %v", err)
				return
			}
			for _, r := range list {
				if r.Status != model.RequestPending || r.AssignedDrone != "" {
					t.Errorf("pending snapshot holds %s in %s for %q", r.ID, r.Status, r.AssignedDrone)
				}
			}
		}
	}()
	wg.Wait()
	list, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testLifecycle(t *testing.T, s requests.Store) {
	ctx := context.Background()
	r, err := s.Create(ctx, NewRequest(1))
	require.NoError(t, err)
	assert.ErrorIs(t, s.MarkStatus(ctx, r.ID, model.RequestOnRoute), requests.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkStatus(ctx, r.ID, model.RequestAssigned), requests.ErrInvalidTransition)
	require.NoError(t, s.Assign(ctx, r.ID, "d1"))
	require.NoError(t, s.MarkStatus(ctx, r.ID, model.RequestOnRoute))
	require.NoError(t, s.MarkStatus(ctx, r.ID, model.RequestDone))
	for _, st := range []model.RequestStatus{model.RequestPending, model.RequestCancelling, model.RequestOnRoute} {
		assert.ErrorIs(t, s.MarkStatus(ctx, r.ID, st), requests.ErrInvalidTransition)
	}
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestDone, got.Status)
	assert.Equal(t, "d1", got.AssignedDrone)
	assert.ErrorIs(t, s.MarkStatus(ctx, "missing", model.RequestDone), requests.ErrUnknownRequest)
}

func testUpdatePosition(t *testing.T, s requests.Store) {
	ctx := context.Background()
	r, err := s.Create(ctx, NewRequest(1))
	require.NoError(t, err)
	require.NoError(t, s.UpdatePosition(ctx, r.ID, geo.Point{Lat: 9, Long: 9}))
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentPosition, "position ignored while pending")

	require.NoError(t, s.Assign(ctx, r.ID, "d1"))
	require.NoError(t, s.MarkStatus(ctx, r.ID, model.RequestOnRoute))
	require.NoError(t, s.UpdatePosition(ctx, r.ID, geo.Point{Lat: 3, Long: 4}))
	got, err = s.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentPosition)
	assert.Equal(t, geo.Point{Lat: 3, Long: 4}, *got.CurrentPosition)
}

func testReturnToPending(t *testing.T, s requests.Store) {
	ctx := context.Background()
	r, err := s.Create(ctx, NewRequest(1))
	require.NoError(t, err)
	require.NoError(t, s.Assign(ctx, r.ID, "d1"))
	require.NoError(t, s.MarkStatus(ctx, r.ID, model.RequestPending))
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
	assert.Empty(t, got.AssignedDrone)
	require.NoError(t, s.Assign(ctx, r.ID, "d2"))
}

func testCancelSent(t *testing.T, s requests.Store) {
	ctx := context.Background()
	r, err := s.Create(ctx, NewRequest(1))
	require.NoError(t, err)
	_, err = s.MarkCancelSent(ctx, r.ID, time.Now())
	assert.ErrorIs(t, err, requests.ErrInvalidTransition)

	require.NoError(t, s.Assign(ctx, r.ID, "d1"))
	require.NoError(t, s.MarkStatus(ctx, r.ID, model.RequestCancelling))
	at := time.Now().UTC().Truncate(time.Second)
	first, err := s.MarkCancelSent(ctx, r.ID, at)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := s.MarkCancelSent(ctx, r.ID, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, again)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CancelSentAt)
	assert.True(t, got.CancelSentAt.Equal(at))
	assert.Equal(t, "d1", got.AssignedDrone)
}
