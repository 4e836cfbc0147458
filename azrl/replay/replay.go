// Package replay implements a fixed-capacity experience replay buffer with
// uniform sampling.
package replay

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/ezquant/azrl/azrl/model"
)

const DefaultCapacity = 1_000_000

// ErrEmpty is returned when sampling before anything was added.
var ErrEmpty = errors.New("replay buffer is empty")

// Buffer stores transitions in parallel row-major arrays. Once full, new
// transitions overwrite the oldest ones.
type Buffer struct {
	stateDim  int
	actionDim int
	capacity  int

	ptr  int
	size int

	state     []float64
	action    []float64
	nextState []float64
	reward    []float64
	notDone   []float64

	rng *rand.Rand
}

type Option func(*Buffer)

func WithSeed(seed int64) Option {
	return func(b *Buffer) {
		b.rng = rand.New(rand.NewSource(seed))
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(b *Buffer) {
		b.rng = rng
	}
}

func New(stateDim, actionDim, capacity int, options ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		stateDim:  stateDim,
		actionDim: actionDim,
		capacity:  capacity,
		state:     make([]float64, capacity*stateDim),
		action:    make([]float64, capacity*actionDim),
		nextState: make([]float64, capacity*stateDim),
		reward:    make([]float64, capacity),
		notDone:   make([]float64, capacity),
	}
	for _, option := range options {
		option(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return b
}

// Add stores a transition; done is 1 for a terminal step and 0 otherwise.
func (b *Buffer) Add(state, action, nextState []float64, reward, done float64) error {
	if err := model.CheckDim("state", state, b.stateDim); err != nil {
		return err
	}
	if err := model.CheckDim("action", action, b.actionDim); err != nil {
		return err
	}
	if err := model.CheckDim("next state", nextState, b.stateDim); err != nil {
		return err
	}

	copy(b.state[b.ptr*b.stateDim:], state)
	copy(b.action[b.ptr*b.actionDim:], action)
	copy(b.nextState[b.ptr*b.stateDim:], nextState)
	b.reward[b.ptr] = reward
	b.notDone[b.ptr] = 1 - done

	b.ptr = (b.ptr + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	return nil
}

// Sample draws batchSize indices uniformly with replacement and returns
// copies of the stored rows.
func (b *Buffer) Sample(batchSize int) (model.Batch, error) {
	if b.size == 0 {
		return model.Batch{}, ErrEmpty
	}

	batch := model.Batch{
		States:     make([][]float64, batchSize),
		Actions:    make([][]float64, batchSize),
		NextStates: make([][]float64, batchSize),
		Rewards:    make([]float64, batchSize),
		NotDones:   make([]float64, batchSize),
	}
	for i := 0; i < batchSize; i++ {
		batch.States[i], batch.Actions[i], batch.NextStates[i], batch.Rewards[i], batch.NotDones[i] =
			b.row(b.rng.Intn(b.size))
	}
	return batch, nil
}

// At returns a copy of the transition stored in slot i.
func (b *Buffer) At(i int) (model.Transition, error) {
	if i < 0 || i >= b.size {
		return model.Transition{}, fmt.Errorf("slot %d outside [0, %d)", i, b.size)
	}
	state, action, nextState, reward, notDone := b.row(i)
	return model.Transition{
		State:     state,
		Action:    action,
		NextState: nextState,
		Reward:    reward,
		NotDone:   notDone,
	}, nil
}

func (b *Buffer) row(i int) (state, action, nextState []float64, reward, notDone float64) {
	state = append([]float64(nil), b.state[i*b.stateDim:(i+1)*b.stateDim]...)
	action = append([]float64(nil), b.action[i*b.actionDim:(i+1)*b.actionDim]...)
	nextState = append([]float64(nil), b.nextState[i*b.stateDim:(i+1)*b.stateDim]...)
	return state, action, nextState, b.reward[i], b.notDone[i]
}

func (b *Buffer) Len() int {
	return b.size
}

func (b *Buffer) Cap() int {
	return b.capacity
}

func (b *Buffer) StateDim() int {
	return b.stateDim
}

func (b *Buffer) ActionDim() int {
	return b.actionDim
}

type snapshot struct {
	StateDim  int
	ActionDim int
	Capacity  int
	Ptr       int
	Size      int
	State     []float64
	Action    []float64
	NextState []float64
	Reward    []float64
	NotDone   []float64
}

func (s snapshot) valid() bool {
	return s.StateDim > 0 && s.ActionDim > 0 && s.Capacity > 0 &&
		s.Size >= 0 && s.Size <= s.Capacity &&
		s.Ptr >= 0 && s.Ptr < s.Capacity &&
		len(s.State) == s.Size*s.StateDim &&
		len(s.Action) == s.Size*s.ActionDim &&
		len(s.NextState) == s.Size*s.StateDim &&
		len(s.Reward) == s.Size &&
		len(s.NotDone) == s.Size
}

// Save writes the filled part of the buffer to path.
func (b *Buffer) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	snap := snapshot{
		StateDim:  b.stateDim,
		ActionDim: b.actionDim,
		Capacity:  b.capacity,
		Ptr:       b.ptr,
		Size:      b.size,
		State:     b.state[:b.size*b.stateDim],
		Action:    b.action[:b.size*b.actionDim],
		NextState: b.nextState[:b.size*b.stateDim],
		Reward:    b.reward[:b.size],
		NotDone:   b.notDone[:b.size],
	}
	if err := gob.NewEncoder(file).Encode(&snap); err != nil {
		return fmt.Errorf("encode replay buffer: %w", err)
	}
	return file.Close()
}

// Load reads a buffer written by Save.
func Load(path string, options ...Option) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var snap snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode replay buffer: %w", err)
	}
	if !snap.valid() {
		return nil, fmt.Errorf("corrupt replay buffer %s", path)
	}

	b := New(snap.StateDim, snap.ActionDim, snap.Capacity, options...)
	copy(b.state, snap.State)
	copy(b.action, snap.Action)
	copy(b.nextState, snap.NextState)
	copy(b.reward, snap.Reward)
	copy(b.notDone, snap.NotDone)
	b.ptr = snap.Ptr
	b.size = snap.Size
	return b, nil
}
