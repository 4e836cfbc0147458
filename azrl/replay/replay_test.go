package replay

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezquant/azrl/azrl/model"
)

func add(t *testing.T, b *Buffer, v float64) {
	t.Helper()
	require.NoError(t, b.Add([]float64{v, v}, []float64{v}, []float64{v + 1, v + 1}, v*10, 0))
}

func TestAddAndAt(t *testing.T) {
	b := New(2, 1, 4, WithSeed(1))
	require.NoError(t, b.Add([]float64{1, 2}, []float64{3}, []float64{4, 5}, 6, 1))

	assert.Equal(t, 1, b.Len())
	tr, err := b.At(0)
	require.NoError(t, err)
	assert.Equal(t, model.Transition{
		State:     []float64{1, 2},
		Action:    []float64{3},
		NextState: []float64{4, 5},
		Reward:    6,
		NotDone:   0,
	}, tr)

	_, err = b.At(1)
	require.Error(t, err)
}

func TestAddDimensionMismatch(t *testing.T) {
	b := New(2, 1, 4)
	err := b.Add([]float64{1}, []float64{3}, []float64{4, 5}, 6, 0)
	require.ErrorIs(t, err, model.ErrDimensionMismatch)
	assert.Equal(t, 0, b.Len())
}

func TestWraparound(t *testing.T) {
	const capacity = 5
	b := New(2, 1, capacity, WithSeed(1))

	add(t, b, -1) // sentinel in slot 0
	for i := 1; i < capacity; i++ {
		add(t, b, float64(i))
	}
	assert.Equal(t, capacity, b.Len())

	first, err := b.At(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -1}, first.State)

	// the capacity+1-th insert lands on slot 0
	add(t, b, 100)
	add(t, b, 101)
	assert.Equal(t, capacity, b.Len())

	first, err = b.At(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 100}, first.State)
	second, err := b.At(1)
	require.NoError(t, err)
	assert.Equal(t, 1010.0, second.Reward)

	// the sentinel can no longer be sampled
	batch, err := b.Sample(500)
	require.NoError(t, err)
	for _, s := range batch.States {
		assert.NotEqual(t, -1.0, s[0])
	}
}

func TestSampleEmpty(t *testing.T) {
	b := New(2, 1, 4)
	_, err := b.Sample(8)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestSampleWithReplacement(t *testing.T) {
	b := New(2, 1, 10, WithSeed(7))
	add(t, b, 3)
	add(t, b, 4)

	batch, err := b.Sample(64)
	require.NoError(t, err)
	assert.Equal(t, 64, batch.Len())

	seen := map[float64]int{}
	for i, s := range batch.States {
		seen[s[0]]++
		assert.Equal(t, s[0]+1, batch.NextStates[i][0])
		assert.Equal(t, s[0]*10, batch.Rewards[i])
		assert.Equal(t, 1.0, batch.NotDones[i])
	}
	assert.Len(t, seen, 2)
	assert.Equal(t, 64, seen[3]+seen[4])
}

func TestSampleReturnsCopies(t *testing.T) {
	b := New(2, 1, 2, WithSeed(3))
	add(t, b, 1)

	batch, err := b.Sample(1)
	require.NoError(t, err)
	batch.States[0][0] = 42

	tr, err := b.At(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, tr.State[0])
}

func TestSaveLoad(t *testing.T) {
	b := New(2, 1, 3, WithSeed(3))
	for i := 0; i < 4; i++ {
		add(t, b, float64(i))
	}

	path := filepath.Join(t.TempDir(), "buffer.gob")
	require.NoError(t, b.Save(path))

	loaded, err := Load(path, WithSeed(3))
	require.NoError(t, err)
	assert.Equal(t, b.Len(), loaded.Len())
	assert.Equal(t, b.Cap(), loaded.Cap())
	for i := 0; i < b.Len(); i++ {
		want, _ := b.At(i)
		got, _ := loaded.At(i)
		assert.Equal(t, want, got)
	}

	// the write pointer survives: the next add overwrites slot 1
	add(t, loaded, 9)
	tr, _ := loaded.At(1)
	assert.Equal(t, 9.0, tr.Action[0])
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	valid := func() snapshot {
		return snapshot{
			StateDim: 2, ActionDim: 1, Capacity: 4, Ptr: 1, Size: 1,
			State: []float64{1, 2}, Action: []float64{3}, NextState: []float64{4, 5},
			Reward: []float64{6}, NotDone: []float64{1},
		}
	}

	tests := map[string]func(s *snapshot){
		"pointer past capacity": func(s *snapshot) { s.Ptr = 4 },
		"negative pointer":      func(s *snapshot) { s.Ptr = -1 },
		"size above capacity":   func(s *snapshot) { s.Size = 5 },
		"short states":          func(s *snapshot) { s.State = []float64{1} },
		"short actions":         func(s *snapshot) { s.Action = nil },
		"long next states":      func(s *snapshot) { s.NextState = []float64{4, 5, 6} },
		"short not dones":       func(s *snapshot) { s.NotDone = nil },
		"zero dimension":        func(s *snapshot) { s.StateDim = 0 },
	}

	dir := t.TempDir()
	write := func(name string, snap snapshot) string {
		path := filepath.Join(dir, name)
		file, err := os.Create(path)
		require.NoError(t, err)
		defer file.Close()
		require.NoError(t, gob.NewEncoder(file).Encode(&snap))
		return path
	}

	loaded, err := Load(write("valid", valid()))
	require.NoError(t, err)
	require.NoError(t, loaded.Add([]float64{0, 0}, []float64{0}, []float64{0, 0}, 0, 0))
	assert.Equal(t, 2, loaded.Len())

	for name, corrupt := range tests {
		t.Run(name, func(t *testing.T) {
			snap := valid()
			corrupt(&snap)
			_, err := Load(write(name, snap))
			assert.Error(t, err)
		})
	}
}
