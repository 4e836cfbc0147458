// Package storage records the episodes and portfolio values of each run.
package storage

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Mode string

const (
	ModeTrain Mode = "train"
	ModeTest  Mode = "test"
)

// Episode summarizes one episode of a run.
type Episode struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	RunID         string    `gorm:"size:36;index;not null"`
	Mode          Mode      `gorm:"size:8;not null"`
	Number        int       `gorm:"not null"`
	Timesteps     int       `gorm:"not null"`
	RewardSum     float64   `gorm:"not null"`
	StartingValue float64   `gorm:"not null"`
	FinalValue    float64   `gorm:"not null"`
	StartedAt     time.Time `gorm:"not null"`
	EndedAt       time.Time `gorm:"not null"`
}

// ValuePoint is the portfolio value at one half day of a test run.
type ValuePoint struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	RunID     string    `gorm:"size:36;index;not null"`
	Date      time.Time `gorm:"index;not null"`
	TimeOfDay string    `gorm:"size:8;not null"`
	Value     float64   `gorm:"not null"`
}

type SQL struct {
	db *gorm.DB
}

// NewRunID returns a fresh identifier for a run.
func NewRunID() string {
	return uuid.NewString()
}

// FromSQL opens a store over any gorm dialector and migrates its tables.
func FromSQL(dialect gorm.Dialector, opts ...gorm.Option) (*SQL, error) {
	if len(opts) == 0 {
		opts = append(opts, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	}
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Episode{}, &ValuePoint{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQL{db: db}, nil
}

// FromFile opens a SQLite database at path.
func FromFile(path string) (*SQL, error) {
	return FromSQL(sqlite.Open(path))
}

// FromMemory opens a private in-memory SQLite database.
func FromMemory() (*SQL, error) {
	return FromSQL(sqlite.Open(":memory:"))
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQL) CreateEpisode(episode *Episode) error {
	if err := s.db.Create(episode).Error; err != nil {
		return fmt.Errorf("create episode: %w", err)
	}
	return nil
}

// Episodes returns the episodes of a run in order.
func (s *SQL) Episodes(runID string) ([]Episode, error) {
	var episodes []Episode
	err := s.db.Where("run_id = ?", runID).Order("number").Find(&episodes).Error
	return episodes, err
}

func (s *SQL) AddValuePoints(points []ValuePoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.db.CreateInBatches(points, 100).Error; err != nil {
		return fmt.Errorf("add value points: %w", err)
	}
	return nil
}

// ValuePoints returns the values recorded for a run in insertion order.
func (s *SQL) ValuePoints(runID string) ([]ValuePoint, error) {
	var points []ValuePoint
	err := s.db.Where("run_id = ?", runID).Order("id").Find(&points).Error
	return points, err
}

// Runs lists the run ids that recorded episodes, most recent first.
func (s *SQL) Runs() ([]string, error) {
	var runs []string
	err := s.db.Model(&Episode{}).
		Select("run_id").
		Group("run_id").
		Order("MAX(id) DESC").
		Pluck("run_id", &runs).Error
	return runs, err
}
