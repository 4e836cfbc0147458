// Package localkv keeps a small index of saved policy checkpoints.
package localkv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/tidwall/buntdb"
)

const checkpointKeyPrefix = "checkpoint:"

// ErrNotFound is returned when no checkpoint is recorded for a prefix.
var ErrNotFound = errors.New("checkpoint not found")

// LocalKV Structure to hold the db client
type LocalKV struct {
	db *buntdb.DB
}

// Checkpoint describes one saved policy.
type Checkpoint struct {
	Prefix   string    `json:"prefix"`
	RunID    string    `json:"run_id"`
	Timestep int       `json:"timestep"`
	Episode  int       `json:"episode"`
	SavedAt  time.Time `json:"saved_at"`
}

// NewLocalKV opens the index under databasePath, in memory when nil.
func NewLocalKV(databasePath *string) (*LocalKV, error) {
	dbPath := ":memory:"
	if databasePath != nil {
		if err := os.MkdirAll(*databasePath, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dbPath = path.Join(*databasePath, "kv.db")
	}

	db, err := buntdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkPercentage: 100,
		AutoShrinkMinSize:    32 * 1024 * 1024,
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	return &LocalKV{db: db}, nil
}

// Close closes the db
func (l *LocalKV) Close() error {
	return l.db.Close()
}

// Get gets a value from the db
func (l *LocalKV) Get(key string) (string, error) {
	var val string
	err := l.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

// Set sets a value in the db
func (l *LocalKV) Set(key, value string) error {
	return l.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, nil)
		return err
	})
}

// SaveCheckpoint records c as the latest checkpoint of its prefix.
func (l *LocalKV) SaveCheckpoint(c Checkpoint) error {
	value, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return l.Set(checkpointKeyPrefix+c.Prefix, string(value))
}

// LastCheckpoint returns the latest checkpoint recorded for prefix.
func (l *LocalKV) LastCheckpoint(prefix string) (Checkpoint, error) {
	value, err := l.Get(checkpointKeyPrefix + prefix)
	if errors.Is(err, buntdb.ErrNotFound) {
		return Checkpoint{}, fmt.Errorf("%s: %w", prefix, ErrNotFound)
	}
	if err != nil {
		return Checkpoint{}, err
	}

	var c Checkpoint
	if err := json.Unmarshal([]byte(value), &c); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", prefix, err)
	}
	return c, nil
}

// Checkpoints lists every recorded checkpoint ordered by prefix.
func (l *LocalKV) Checkpoints() ([]Checkpoint, error) {
	var checkpoints []Checkpoint
	err := l.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys(checkpointKeyPrefix+"*", func(key, value string) bool {
			var c Checkpoint
			if decodeErr = json.Unmarshal([]byte(value), &c); decodeErr != nil {
				decodeErr = fmt.Errorf("decode %s: %w", strings.TrimPrefix(key, checkpointKeyPrefix), decodeErr)
				return false
			}
			checkpoints = append(checkpoints, c)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	return checkpoints, err
}
