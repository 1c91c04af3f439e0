// Package store persists the controller state that must survive a restart:
// the heat-runtime accumulator, the RV-fail latch and a fault history.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// checkpointID is the single row holding the latest checkpoint.
const checkpointID = 1

// Checkpoint is the persisted controller state.
type Checkpoint struct {
	ID            uint `gorm:"primaryKey"`
	HeatRuntimeMs uint64
	RVFail        bool
	UpdatedAt     time.Time
}

// FaultRecord is one fault edge or operator action in the history table.
type FaultRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"time"`
	Fault     string    `gorm:"type:varchar(32)" json:"fault"`
	Active    bool      `json:"active"`
	State     string    `gorm:"type:varchar(16)" json:"state"`
	Detail    string    `gorm:"type:varchar(255)" json:"detail,omitempty"`
}

// Store wraps the sqlite database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema. ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get db: %w", err)
	}
	// One connection: sqlite has a single writer, and ":memory:" is
	// per-connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&Checkpoint{}, &FaultRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveCheckpoint upserts the checkpoint row.
func (s *Store) SaveCheckpoint(heatRuntimeMs uint64, rvFail bool) error {
	cp := Checkpoint{
		ID:            checkpointID,
		HeatRuntimeMs: heatRuntimeMs,
		RVFail:        rvFail,
	}
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&cp).Error
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the last checkpoint. ok is false on a fresh
// database.
func (s *Store) LoadCheckpoint() (cp Checkpoint, ok bool, err error) {
	err = s.db.First(&cp, checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, true, nil
}

// RecordFault appends to the fault history.
func (s *Store) RecordFault(rec FaultRecord) error {
	rec.ID = 0
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("record fault %s: %w", rec.Fault, err)
	}
	return nil
}

// RecentFaults returns up to limit history rows, newest first.
func (s *Store) RecentFaults(limit int) ([]FaultRecord, error) {
	var out []FaultRecord
	err := s.db.Order("id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("recent faults: %w", err)
	}
	return out, nil
}

// PruneFaults deletes all but the newest keep history rows.
func (s *Store) PruneFaults(keep int) (int64, error) {
	var cutoff FaultRecord
	err := s.db.Order("id DESC").Offset(keep).Limit(1).Take(&cutoff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("prune faults: %w", err)
	}
	res := s.db.Where("id <= ?", cutoff.ID).Delete(&FaultRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune faults: %w", res.Error)
	}
	return res.RowsAffected, nil
}
