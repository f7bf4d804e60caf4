package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/ehrledger/internal/config"
	"github.com/ehr/ehrledger/internal/platform/auth"
	"github.com/ehr/ehrledger/internal/platform/events"
	"github.com/ehr/ehrledger/internal/platform/metrics"
)

const (
	admin   = "0xadmin"
	doctor  = "0xdoc"
	patient = "0xpatient"
	acme    = "0xacme"
)

func devConfig() *config.Config {
	return &config.Config{
		Env:              "development",
		AdminAddress:     admin,
		LedgerDriver:     config.LedgerMemory,
		AttachmentDriver: config.AttachmentMemory,
		CORSOrigins:      []string{"http://localhost:3000"},
		BodyLimit:        "10M",
		MetricsEnabled:   true,
	}
}

type testApp struct {
	e      *echo.Echo
	events *events.Recorder
}

func newTestApp(t *testing.T, cfg *config.Config) *testApp {
	t.Helper()
	be, err := openBackends(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(be.Close)

	rec := events.NewRecorder()
	e, err := newServer(cfg, zerolog.Nop(), be, rec, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	return &testApp{e: e, events: rec}
}

func (a *testApp) do(t *testing.T, method, path, body, caller string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if caller != "" {
		req.Header.Set(auth.CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) upload(t *testing.T, path, caller, fileField string, fields map[string]string, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if content != "" {
		fw, err := w.CreateFormFile(fileField, "scan.pdf")
		require.NoError(t, err)
		fw.Write([]byte(content))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(auth.CallerHeader, caller)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (a *testApp) onboard(t *testing.T, addr, role, body string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/credentials/"+role, body, addr)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = a.do(t, http.MethodPost, "/api/v1/credentials/"+role+"/"+addr+"/approve", "", admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, devConfig())

	rec := app.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), version)

	rec = app.do(t, http.MethodGet, "/health/backends", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

// A practitioner is onboarded, files a record and the patient approves it.
func TestRecordWorkflow(t *testing.T) {
	app := newTestApp(t, devConfig())
	app.onboard(t, doctor, "practitioners", `{"name":"Dr. Rao","hospital":"City General","specialization":"Cardiology"}`)

	rec := app.do(t, http.MethodPost, "/api/v1/login", `{"role":"practitioner"}`, doctor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.upload(t, "/api/v1/records", doctor, "file",
		map[string]string{"patient_address": patient, "category": "Lab"}, "cbc results")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID            string `json:"id"`
		AttachmentRef string `json:"attachment_ref"`
	}
	decode(t, rec, &created)

	rec = app.do(t, http.MethodPost, "/api/v1/records/"+created.ID+"/approve", "", patient)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.do(t, http.MethodPost, "/api/v1/records/"+created.ID+"/decline", "", patient)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/v1/patients/"+patient+"/records?category=Lab", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"practitioner_name":"Dr. Rao"`)
	assert.Contains(t, rec.Body.String(), `"verification":"approved"`)

	rec = app.do(t, http.MethodGet, "/api/v1/attachments/"+created.AttachmentRef, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cbc results", rec.Body.String())

	assert.Equal(t, []string{
		events.CredentialRequested, events.CredentialApproved,
		events.RecordCreated, events.RecordDecided,
	}, app.events.Types())
}

func TestInsuranceWorkflow(t *testing.T) {
	app := newTestApp(t, devConfig())
	app.onboard(t, acme, "insurers", `{"name":"Acme Health","license_number":"LIC-9"}`)

	rec := app.do(t, http.MethodGet, "/api/v1/insurers/"+acme+"/status", "", "")
	assert.Contains(t, rec.Body.String(), `"approved"`)

	rec = app.do(t, http.MethodPost, "/api/v1/policy-requests",
		`{"insurer_address":"0xacme","company_name":"Acme Health","policy_number":"POL-1"}`, patient)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var req struct {
		ID string `json:"id"`
	}
	decode(t, rec, &req)

	rec = app.do(t, http.MethodPost, "/api/v1/policy-requests/"+req.ID+"/reject", "", acme)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.do(t, http.MethodPost, "/api/v1/policy-requests/"+req.ID+"/approve", "", acme)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.upload(t, "/api/v1/claims", patient, "bill",
		map[string]string{"insurer_address": acme, "policy_number": "POL-1", "reason": "ER visit"}, "invoice")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var claim struct {
		ID   string `json:"id"`
		Bill string `json:"bill_attachment_ref"`
	}
	decode(t, rec, &claim)
	assert.NotEmpty(t, claim.Bill)

	rec = app.do(t, http.MethodPost, "/api/v1/claims/"+claim.ID+"/approve", "", acme)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/api/v1/claims", "", acme)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"approved"`)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, devConfig())
	app.do(t, http.MethodPost, "/api/v1/credentials/practitioners", `{"name":"Dr. Rao"}`, doctor)

	rec := app.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ehr_workflow_operations_total{operation="request_credential",result="invalid_input"} 1`)
	assert.Contains(t, body, "ehr_http_request_duration_seconds")
}

func TestBodyLimitOnJSON(t *testing.T) {
	app := newTestApp(t, devConfig())
	big := `{"name":"` + strings.Repeat("a", 2<<20) + `"}`
	rec := app.do(t, http.MethodPost, "/api/v1/credentials/practitioners", big, doctor)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestJWTAuth(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	cfg := devConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = hex.EncodeToString(key)
	cfg.AuthIssuer = "ehrledger-test"
	app := newTestApp(t, cfg)

	rec := app.do(t, http.MethodPost, "/api/v1/login", `{"role":"patient"}`, patient)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "caller header must be ignored outside development")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   patient,
		Issuer:    "ehrledger-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", strings.NewReader(`{"role":"patient"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+signed)
	out := httptest.NewRecorder()
	app.e.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
	assert.Contains(t, out.Body.String(), `"role":"patient"`)
}

func TestProductionPublicRoutes(t *testing.T) {
	cfg := devConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	app := newTestApp(t, cfg)

	for _, path := range []string{"/health", "/health/backends", "/metrics", "/api/v1/patients/0xp/records", "/api/v1/identities/0xp"} {
		rec := app.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code, "GET %s without a token", path)
	}

	rec := app.do(t, http.MethodPost, "/api/v1/policy-requests", `{"insurer_address":"0xacme"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "writes still need a token")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	out := httptest.NewRecorder()
	app.e.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code, "a presented token is always verified")
}

func TestRateLimitConfig(t *testing.T) {
	cfg := devConfig()
	cfg.RateLimitRPS = 50
	cfg.RateLimitBurst = 75

	rc := rateLimitConfig(cfg)
	assert.Equal(t, 50.0, rc.RequestsPerSecond)
	assert.Equal(t, 75, rc.BurstSize)
	assert.Equal(t, 10*time.Minute, rc.IdleTTL, "buckets must be evicted even when rps is configured")

	cfg.RateLimitIdleTTL = time.Minute
	assert.Equal(t, time.Minute, rateLimitConfig(cfg).IdleTTL)
}

func TestOpenBackends_Defaults(t *testing.T) {
	be, err := openBackends(context.Background(), devConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer be.Close()
	assert.NotNil(t, be.ledger)
	assert.NotNil(t, be.blobs)
	assert.Empty(t, be.checks)
}

func TestOpenBackends_LevelDB(t *testing.T) {
	cfg := devConfig()
	cfg.LedgerDriver = config.LedgerLevelDB
	cfg.LevelDBPath = t.TempDir()

	be, err := openBackends(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer be.Close()

	rec := newServerFor(t, cfg, be)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func newServerFor(t *testing.T, cfg *config.Config, be *backends) *httptest.ResponseRecorder {
	t.Helper()
	e, err := newServer(cfg, zerolog.Nop(), be, nil, nil)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/identities/0xanyone", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}
