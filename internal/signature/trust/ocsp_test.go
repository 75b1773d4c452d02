package trust

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

func TestOCSPCache_GetSet(t *testing.T) {
	cache := NewOCSPCache(time.Hour)
	cert, _ := createTestCert(t, "Test Cert", false, nil, nil)

	_, found := cache.Get(cert)
	assert.False(t, found)

	cache.Set(cert, true)
	notRevoked, found := cache.Get(cert)
	assert.True(t, found)
	assert.True(t, notRevoked)

	cache.Set(cert, false)
	notRevoked, found = cache.Get(cert)
	assert.True(t, found)
	assert.False(t, notRevoked)
}

func TestOCSPCache_Expiration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewOCSPCache(time.Minute)
	cache.now = func() time.Time { return now }

	cert, _ := createTestCert(t, "Test Cert", false, nil, nil)
	cache.Set(cert, true)

	_, found := cache.Get(cert)
	assert.True(t, found)

	now = now.Add(2 * time.Minute)
	_, found = cache.Get(cert)
	assert.False(t, found)
	assert.Zero(t, cache.Size())
}

func TestOCSPCache_ClearAndNil(t *testing.T) {
	cache := NewOCSPCache(time.Hour)
	a, _ := createTestCert(t, "A", false, nil, nil)
	b, _ := createTestCert(t, "B", false, nil, nil)

	cache.Set(a, true)
	cache.Set(b, false)
	cache.Set(nil, true)
	assert.Equal(t, 2, cache.Size())

	cache.Clear()
	assert.Zero(t, cache.Size())

	_, found := cache.Get(nil)
	assert.False(t, found)
}

// ocspResponder answers every request with status for the leaf
func ocspResponder(t *testing.T, status int, ca *x509.Certificate, caKey *rsa.PrivateKey, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		req, err := ocsp.ParseRequest(body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp, err := ocsp.CreateResponse(ca, ca, ocsp.Response{
			Status:       status,
			SerialNumber: req.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(time.Hour),
			RevokedAt:    time.Now().Add(-time.Minute),
		}, caKey)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	}))
}

func TestCheckRevocation_OCSP(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		notRevoked bool
	}{
		{name: "good", status: ocsp.Good, notRevoked: true},
		{name: "revoked", status: ocsp.Revoked, notRevoked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca, caKey := createTestCert(t, "Test CA", true, nil, nil)
			var calls atomic.Int32
			srv := ocspResponder(t, tt.status, ca, caKey, &calls)
			defer srv.Close()

			leaf, _ := createTestCert(t, "Signer", false, ca, caKey, srv.URL)
			store := NewEmptyTrustStore(WithCertificates(ca), WithOCSPClient(srv.Client()))

			ok, err := store.CheckRevocation(context.Background(), leaf, ca)
			require.NoError(t, err)
			assert.Equal(t, tt.notRevoked, ok)

			// second lookup is served from the cache
			ok, err = store.CheckRevocation(context.Background(), leaf, ca)
			require.NoError(t, err)
			assert.Equal(t, tt.notRevoked, ok)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestCheckRevocation_ResponderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ca, caKey := createTestCert(t, "Test CA", true, nil, nil)
	leaf, _ := createTestCert(t, "Signer", false, ca, caKey, srv.URL)

	ok, err := NewEmptyTrustStore().CheckRevocation(context.Background(), leaf, ca)
	assert.Error(t, err)
	assert.False(t, ok)

	ok, err = NewEmptyTrustStore(WithSoftFail()).CheckRevocation(context.Background(), leaf, ca)
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestCertCacheKey(t *testing.T) {
	a, _ := createTestCert(t, "A", false, nil, nil)
	b, _ := createTestCert(t, "B", false, nil, nil)
	assert.NotEqual(t, certCacheKey(a), certCacheKey(b))
	assert.Equal(t, certCacheKey(a), certCacheKey(a))
}
