package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
)

func TestNearestSelector(t *testing.T) {
	target := geo.Point{Lat: 45, Long: 5}
	idle := []model.IdleDrone{
		{ID: "far", Position: pt(45.1, 5)},
		{ID: "near", Position: pt(45.001, 5)},
		{ID: "mid", Position: pt(45.01, 5)},
	}
	id, err := NearestSelector{}.Select(idle, target)
	require.NoError(t, err)
	assert.Equal(t, "near", id)
}

func TestNearestSelectorTieGoesToFirst(t *testing.T) {
	target := geo.Point{Lat: 0, Long: 0}
	idle := []model.IdleDrone{
		{ID: "east", Position: pt(0, 0.01)},
		{ID: "west", Position: pt(0, -0.01)},
	}
	id, err := NearestSelector{}.Select(idle, target)
	require.NoError(t, err)
	assert.Equal(t, "east", id)
}

func TestNearestSelectorUnknownPositionRanksLast(t *testing.T) {
	idle := []model.IdleDrone{
		{ID: "lost"},
		{ID: "known", Position: pt(10, 10)},
	}
	id, err := NearestSelector{}.Select(idle, geo.Point{})
	require.NoError(t, err)
	assert.Equal(t, "known", id)

	id, err = NearestSelector{}.Select([]model.IdleDrone{{ID: "a"}, {ID: "b"}}, geo.Point{})
	require.NoError(t, err)
	assert.Equal(t, "a", id)
}

func TestNearestSelectorEmpty(t *testing.T) {
	_, err := NearestSelector{}.Select(nil, geo.Point{})
	assert.ErrorIs(t, err, ErrNoCandidates)
}
