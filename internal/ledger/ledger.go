// Package ledger records accepted submissions so that re-sending an identical
// document returns the original registration code.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rezonia/einvoicing/internal/model"
)

// Record is one submission as acknowledged by a channel
type Record struct {
	InvoiceID        string        `json:"invoiceId"`
	Country          model.Country `json:"country"`
	Channel          string        `json:"channel"`
	Hash             string        `json:"hash"`
	RegistrationCode string        `json:"registrationCode"`
	Status           model.Status  `json:"status"`
	Attempts         int           `json:"attempts"`
	TenantID         string        `json:"tenantId,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Store persists submission records. Get and GetByHash return
// model.ErrNotFound when nothing matches.
type Store interface {
	Get(ctx context.Context, invoiceID string) (*Record, error)
	// GetByHash returns the earliest record carrying hash
	GetByHash(ctx context.Context, hash string) (*Record, error)
	// Save inserts or replaces the record of rec.InvoiceID
	Save(ctx context.Context, rec *Record) error
	UpdateStatus(ctx context.Context, invoiceID string, status model.Status) error
}

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Record
	byHash map[string]string
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Record),
		byHash: make(map[string]string),
		now:    time.Now,
	}
}

// Get returns a copy of the record of invoiceID
func (s *MemoryStore) Get(_ context.Context, invoiceID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[invoiceID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetByHash returns a copy of the first record saved with hash
func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

// Save stores a copy of rec
func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	now := s.now()
	if existing, ok := s.byID[rec.InvoiceID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	s.byID[rec.InvoiceID] = &cp
	if _, ok := s.byHash[rec.Hash]; !ok && rec.Hash != "" {
		s.byHash[rec.Hash] = rec.InvoiceID
	}
	return nil
}

// UpdateStatus changes the status of an existing record
func (s *MemoryStore) UpdateStatus(_ context.Context, invoiceID string, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[invoiceID]
	if !ok {
		return model.ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = s.now()
	return nil
}
