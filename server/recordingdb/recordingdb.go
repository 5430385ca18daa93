// Package recordingdb is an index of the composite videos that the rig has produced.
package recordingdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RecordingDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open or create a recording DB
func Open(logger logs.Log, dbFilename string) (*RecordingDB, error) {
	logger = logs.NewPrefixLogger(logger, "RecordingDB:")
	if err := os.MkdirAll(filepath.Dir(dbFilename), 0770); err != nil {
		return nil, fmt.Errorf("Failed to create recording DB directory: %w", err)
	}
	logger.Infof("Opening recording DB at '%v'", dbFilename)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open recording database %v: %w", dbFilename, err)
	}
	return &RecordingDB{
		Log: logger,
		DB:  db,
	}, nil
}

func NewSessionID() string {
	return uuid.NewString()
}

// Add a recording. If rec.SessionID is empty, a new one is assigned.
func (r *RecordingDB) Add(rec *Recording) error {
	if rec.SessionID == "" {
		rec.SessionID = NewSessionID()
	}
	if err := r.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("Failed to save recording %v: %w", rec.Path, err)
	}
	return nil
}

// List returns all recordings, newest first
func (r *RecordingDB) List() ([]Recording, error) {
	recs := []Recording{}
	if err := r.DB.Order("started_at DESC, id DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Get returns the recording of a session, or gorm.ErrRecordNotFound
func (r *RecordingDB) Get(sessionID string) (*Recording, error) {
	rec := Recording{}
	if err := r.DB.Where("session_id = ?", sessionID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecordingDB) Close() error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
