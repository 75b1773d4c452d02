package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/ledger"
	"github.com/rezonia/einvoicing/internal/model"
)

func TestMemoryStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetByHash(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	rec := &ledger.Record{
		InvoiceID:        "inv-1",
		Country:          model.CountryFrance,
		Channel:          "chorus-pro",
		Hash:             "abc",
		RegistrationCode: "FLUX-1",
		Status:           model.StatusSent,
		Attempts:         1,
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "FLUX-1", got.RegistrationCode)
	assert.False(t, got.CreatedAt.IsZero())

	// stored value is a copy
	got.RegistrationCode = "changed"
	rec.RegistrationCode = "changed too"
	again, err := s.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "FLUX-1", again.RegistrationCode)

	byHash, err := s.GetByHash(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", byHash.InvoiceID)
}

func TestMemoryStore_HashKeepsFirstRecord(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewMemoryStore()

	require.NoError(t, s.Save(ctx, &ledger.Record{InvoiceID: "a", Hash: "h", RegistrationCode: "R1"}))
	require.NoError(t, s.Save(ctx, &ledger.Record{InvoiceID: "b", Hash: "h", RegistrationCode: "R1"}))

	rec, err := s.GetByHash(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.InvoiceID)

	b, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "R1", b.RegistrationCode)
}

func TestMemoryStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewMemoryStore()

	assert.ErrorIs(t, s.UpdateStatus(ctx, "x", model.StatusAccepted), model.ErrNotFound)

	require.NoError(t, s.Save(ctx, &ledger.Record{InvoiceID: "x", Hash: "h", Status: model.StatusSent}))
	require.NoError(t, s.UpdateStatus(ctx, "x", model.StatusAccepted))

	rec, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, rec.Status)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Save(ctx, &ledger.Record{InvoiceID: "same", Hash: "h", Attempts: i})
			_, _ = s.GetByHash(ctx, "h")
		}(i)
	}
	wg.Wait()

	_, err := s.Get(ctx, "same")
	assert.NoError(t, err)
}
