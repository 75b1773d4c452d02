// Package gormstore persists the submission ledger in PostgreSQL through gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rezonia/einvoicing/internal/ledger"
	"github.com/rezonia/einvoicing/internal/model"
)

// Submission is the table row of a ledger record
type Submission struct {
	InvoiceID        string    `gorm:"primaryKey;size:64"`
	Country          string    `gorm:"size:2;not null"`
	Channel          string    `gorm:"size:64;not null"`
	Hash             string    `gorm:"size:64;not null;index"`
	RegistrationCode string    `gorm:"size:255"`
	Status           string    `gorm:"size:16;not null"`
	Attempts         int       `gorm:"not null;default:0"`
	TenantID         string    `gorm:"size:64;index"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for Submission
func (Submission) TableName() string {
	return "einvoice_submissions"
}

func fromRecord(r *ledger.Record) *Submission {
	return &Submission{
		InvoiceID:        r.InvoiceID,
		Country:          string(r.Country),
		Channel:          r.Channel,
		Hash:             r.Hash,
		RegistrationCode: r.RegistrationCode,
		Status:           string(r.Status),
		Attempts:         r.Attempts,
		TenantID:         r.TenantID,
		CreatedAt:        r.CreatedAt,
	}
}

func (s *Submission) toRecord() *ledger.Record {
	return &ledger.Record{
		InvoiceID:        s.InvoiceID,
		Country:          model.Country(s.Country),
		Channel:          s.Channel,
		Hash:             s.Hash,
		RegistrationCode: s.RegistrationCode,
		Status:           model.Status(s.Status),
		Attempts:         s.Attempts,
		TenantID:         s.TenantID,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// Store is a ledger.Store backed by gorm
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm connection
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and migrates the submissions table
func Open(dsn string, debug bool) (*Store, error) {
	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)

	s := New(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the submissions table
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Submission{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Get returns the record of invoiceID
func (s *Store) Get(ctx context.Context, invoiceID string) (*ledger.Record, error) {
	var row Submission
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger get %s: %w", invoiceID, err)
	}
	return row.toRecord(), nil
}

// GetByHash returns the earliest record carrying hash
func (s *Store) GetByHash(ctx context.Context, hash string) (*ledger.Record, error) {
	var row Submission
	err := s.db.WithContext(ctx).
		Where("hash = ?", hash).
		Order("created_at ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger get by hash: %w", err)
	}
	return row.toRecord(), nil
}

// Save inserts the record or updates the mutable columns of an existing one
func (s *Store) Save(ctx context.Context, rec *ledger.Record) error {
	row := fromRecord(rec)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "invoice_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"hash", "registration_code", "status", "attempts", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("ledger save %s: %w", rec.InvoiceID, err)
	}
	return nil
}

// UpdateStatus changes the status of an existing record
func (s *Store) UpdateStatus(ctx context.Context, invoiceID string, status model.Status) error {
	res := s.db.WithContext(ctx).
		Model(&Submission{}).
		Where("invoice_id = ?", invoiceID).
		Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("ledger update %s: %w", invoiceID, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

var _ ledger.Store = (*Store)(nil)
