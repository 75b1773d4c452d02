package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/model"
	"github.com/rezonia/einvoicing/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status    int
		category  model.TransportCategory
		rejection bool
		retryable bool
	}{
		{http.StatusUnauthorized, model.TransportAuth, false, true},
		{http.StatusForbidden, model.TransportAuth, false, true},
		{http.StatusNotFound, model.TransportBadResponse, false, false},
		{http.StatusRequestTimeout, model.TransportTimeout, false, true},
		{http.StatusGatewayTimeout, model.TransportTimeout, false, true},
		{http.StatusTooManyRequests, model.TransportRateLimited, false, true},
		{http.StatusInternalServerError, model.TransportUnavailable, false, true},
		{http.StatusServiceUnavailable, model.TransportUnavailable, false, true},
		{http.StatusBadRequest, "", true, false},
		{http.StatusUnprocessableEntity, "", true, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := transport.Classify("test", tt.status, nil)
			require.Error(t, err)

			if tt.rejection {
				var br *model.BusinessRejection
				assert.True(t, errors.As(err, &br))
				return
			}
			var te *model.TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.category, te.Category)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.retryable, model.IsRetryable(err))
		})
	}

	assert.NoError(t, transport.Classify("test", http.StatusCreated, nil))
}

func TestClassify_RejectionDetails(t *testing.T) {
	err := transport.Classify("chorus-pro", http.StatusBadRequest,
		[]byte(`{"codeRetour":"20001","libelle":"Service exécutant inconnu"}`))

	var br *model.BusinessRejection
	require.True(t, errors.As(err, &br))
	assert.Equal(t, "20001", br.Code)
	assert.Equal(t, "Service exécutant inconnu", br.Message)
	assert.Equal(t, "chorus-pro", br.Channel)
}

func TestHTTPClient_DoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/factures/soumettre", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"numeroFlux":"FLUX-42"}`))
	}))
	defer srv.Close()

	c := transport.NewHTTPClient(transport.HTTPConfig{Channel: "chorus-pro", BaseURL: srv.URL + "/", Token: "secret"})

	var out struct {
		NumeroFlux string `json:"numeroFlux"`
	}
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, "/factures/soumettre", map[string]string{"a": "b"}, &out))
	assert.Equal(t, "FLUX-42", out.NumeroFlux)
}

func TestHTTPClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := transport.NewHTTPClient(transport.HTTPConfig{Channel: "x", BaseURL: srv.URL})
	var out map[string]string
	err := c.DoJSON(context.Background(), http.MethodGet, "/", nil, &out)

	var te *model.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.TransportBadResponse, te.Category)
	assert.False(t, te.Retryable)
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := transport.NewHTTPClient(transport.HTTPConfig{Channel: "slow", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, http.MethodGet, "/", "", nil)

	var te *model.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.TransportTimeout, te.Category)
	assert.True(t, te.Retryable)
}

func TestHTTPClient_Cancelled(t *testing.T) {
	c := transport.NewHTTPClient(transport.HTTPConfig{Channel: "x", BaseURL: "http://127.0.0.1:1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Do(ctx, http.MethodGet, "/", "", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_Misconfigured(t *testing.T) {
	c := transport.NewHTTPClient(transport.HTTPConfig{Channel: "x"})
	_, err := c.Do(context.Background(), http.MethodGet, "/", "", nil)

	var te *model.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.TransportMisconfigured, te.Category)
}
