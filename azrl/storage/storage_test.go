package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodes(t *testing.T) {
	db, err := FromMemory()
	require.NoError(t, err)
	defer db.Close()

	first, second := NewRunID(), NewRunID()
	require.NotEqual(t, first, second)

	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 2; i >= 1; i-- {
		require.NoError(t, db.CreateEpisode(&Episode{
			RunID: first, Mode: ModeTrain, Number: i, Timesteps: 10 * i,
			RewardSum: float64(i), StartedAt: now, EndedAt: now.Add(time.Minute),
		}))
	}
	require.NoError(t, db.CreateEpisode(&Episode{RunID: second, Mode: ModeTest, Number: 1, StartedAt: now, EndedAt: now}))

	episodes, err := db.Episodes(first)
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	assert.Equal(t, 1, episodes[0].Number)
	assert.Equal(t, 20, episodes[1].Timesteps)

	runs, err := db.Runs()
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, runs)
}

func TestValuePoints(t *testing.T) {
	db, err := FromFile(filepath.Join(t.TempDir(), "azrl.db"))
	require.NoError(t, err)
	defer db.Close()

	runID := NewRunID()
	day := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.AddValuePoints(nil))
	require.NoError(t, db.AddValuePoints([]ValuePoint{
		{RunID: runID, Date: day, TimeOfDay: "09:30AM", Value: 10000},
		{RunID: runID, Date: day, TimeOfDay: "04:00PM", Value: 10010.5},
	}))

	points, err := db.ValuePoints(runID)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "04:00PM", points[1].TimeOfDay)
	assert.Equal(t, 10010.5, points[1].Value)
	assert.True(t, day.Equal(points[0].Date))
}
