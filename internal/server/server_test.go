package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/jurisdiction/supported"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
	xmlparser "github.com/rezonia/einvoicing/internal/parser/xml"
	"github.com/rezonia/einvoicing/internal/processor"
	"github.com/rezonia/einvoicing/internal/server"
)

const invoiceJSON = `{
  "country": "FR",
  "id": "fr-0100",
  "number": "FA-2026-0100",
  "issueDate": "2026-03-01",
  "currency": "EUR",
  "seller": {
    "name": "Atelier Rezonia",
    "taxId": "FR12345678901",
    "address": {"street": "1 rue des Luthiers", "city": "Lyon", "postalCode": "69001", "country": "FR"}
  },
  "buyer": {"name": "Salle Rameau", "address": {"city": "Lyon", "country": "FR"}},
  "lines": [{"description": "Accord de piano", "quantity": "1", "unitPrice": "100", "taxRate": "20"}]
}`

func newTestServer(t *testing.T, cfg *server.Config) *server.Server {
	t.Helper()
	log := logger.Nop()
	reg := prometheus.NewRegistry()
	gw := gateway.New(gateway.Config{Registerer: reg, Logger: &log})
	registry, err := supported.NewRegistry(supported.Deps{Gateway: gw, Logger: &log})
	require.NoError(t, err)

	if cfg == nil {
		cfg = &server.Config{Address: ":0"}
	}
	pipeline := processor.NewPipeline(registry, processor.WithLogger(log))
	return server.NewServer(cfg, pipeline, server.WithGatherer(reg), server.WithLogger(log))
}

func do(t *testing.T, srv *server.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.NotEmpty(t, response["time"])
	assert.NotEmpty(t, w.Header().Get(server.RequestIDHeader))
}

func TestRequestID(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name string
		id   string
		kept bool
	}{
		{name: "client id kept", id: "trace.span_1234", kept: true},
		{name: "injection replaced", id: "bad\ninjected", kept: false},
		{name: "oversized replaced", id: strings.Repeat("a", 129), kept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set(server.RequestIDHeader, tt.id)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			got := w.Header().Get(server.RequestIDHeader)
			require.NotEmpty(t, got)
			assert.Equal(t, tt.kept, got == tt.id)
		})
	}
}

func TestCountriesEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/countries", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list server.CountriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	enabled := map[string]bool{}
	for _, c := range list.Countries {
		enabled[c.Code] = c.EInvoicing
	}
	assert.True(t, enabled["FR"])
	assert.True(t, enabled["DE"])
	assert.True(t, enabled["ES"])
	assert.False(t, enabled["IT"])

	w = do(t, srv, http.MethodGet, "/api/v1/countries/es", "")
	require.Equal(t, http.StatusOK, w.Code)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, "ES", cfg["code"])
	assert.Equal(t, "EUR", cfg["currency"])

	w = do(t, srv, http.MethodGet, "/api/v1/countries/XX", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidateEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/invoices/validate", invoiceJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	invalid := strings.Replace(invoiceJSON, `"number": "FA-2026-0100"`, `"number": ""`, 1)
	w = do(t, srv, http.MethodPost, "/api/v1/invoices/validate", invalid)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var res server.ValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Errors)

	w = do(t, srv, http.MethodPost, "/api/v1/invoices/validate", `{"country":"FR","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/invoices/validate", strings.Replace(invoiceJSON, `"country": "FR"`, `"country": "IT"`, 1))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errResp server.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, model.ErrCodeUnsupportedJurisdiction, errResp.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/invoices/validate", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateAndInspectEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/invoices/generate", invoiceJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc server.DocumentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, model.CountryFrance, doc.Country)
	assert.Equal(t, model.FormatXML, doc.Format)
	assert.Len(t, doc.Hash, 64)
	require.NotEmpty(t, doc.Content)

	w = do(t, srv, http.MethodPost, "/api/v1/invoices/generate?download=1", invoiceJSON)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, doc.Content, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), doc.FileName)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/inspect", bytes.NewReader(doc.Content))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var parsed xmlparser.ParsedInvoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, "FA-2026-0100", parsed.Number)
	assert.Equal(t, "120.00", parsed.Total.StringFixed(2))

	w = do(t, srv, http.MethodPost, "/api/v1/documents/inspect", "<Order/>")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSendAndStatusEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/invoices/fr-0100/status?country=FR", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st server.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, model.StatusDraft, st.Status)

	w = do(t, srv, http.MethodPost, "/api/v1/invoices/send", invoiceJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res model.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, model.StatusAccepted, res.Status)

	w = do(t, srv, http.MethodGet, "/api/v1/invoices/fr-0100/status?country=fr", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, model.StatusAccepted, st.Status)
	assert.Equal(t, model.CountryFrance, st.Country)

	w = do(t, srv, http.MethodGet, "/api/v1/invoices/fr-0100/status", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "einvoicing_submissions_total")
}

func TestSendEndpoint_ValidationFailure(t *testing.T) {
	srv := newTestServer(t, nil)

	bad := strings.Replace(invoiceJSON, `"currency": "EUR",`, `"currency": "EUR", "total": "999",`, 1)
	w := do(t, srv, http.MethodPost, "/api/v1/invoices/send", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var res model.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, model.ErrCodeValidation, res.ErrorCode)
}

func TestVerifyEndpoint_Disabled(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodPost, "/api/v1/documents/verify", "<Invoice/>")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, &server.Config{RateLimit: 1, RateBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, srv, http.MethodGet, "/health", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(server.TenantHeader, "tenant-b")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, &server.Config{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/countries", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
