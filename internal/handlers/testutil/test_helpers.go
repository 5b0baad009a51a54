package testutil

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/inviteqr/internal/api"
	"github.com/charlesng35/inviteqr/internal/app"
	"github.com/charlesng35/inviteqr/internal/cache"
	sharedtestutil "github.com/charlesng35/inviteqr/internal/database/testutil"
	"github.com/charlesng35/inviteqr/internal/middleware"
	"github.com/charlesng35/inviteqr/internal/monitoring"
	"github.com/charlesng35/inviteqr/internal/monitoring/checks"
	"github.com/charlesng35/inviteqr/internal/qrcodec"
	"github.com/charlesng35/inviteqr/internal/services"
	"github.com/charlesng35/inviteqr/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T       *testing.T
	DB      *gorm.DB
	Router  *gin.Engine
	Config  *app.Config
	Codec   *qrcodec.Codec
	Invites *services.InviteService
}

// EnvOption customises the handler test environment.
type EnvOption func(*app.Config)

// WithMaxUploadBytes lowers the upload limit of the read endpoint.
func WithMaxUploadBytes(limit int64) EnvOption {
	return func(cfg *app.Config) {
		cfg.Server.MaxUploadBytes = limit
	}
}

// WithRateLimit enables rate limiting backed by an in-memory store.
func WithRateLimit(requests int) EnvOption {
	return func(cfg *app.Config) {
		cfg.Server.RateLimit.Requests = requests
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Server: app.ServerConfig{
			MaxUploadBytes: 10 << 20,
			CORS:           app.CORSConfig{AllowedOrigins: []string{"*"}},
			RateLimit:      app.RateLimitConfig{Window: time.Minute},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	scans, err := services.NewScanLogService(db)
	require.NoError(t, err)

	codec := qrcodec.New()
	invites, err := services.NewInviteService(db, codec,
		services.WithScanLog(scans),
		services.WithInviteCache(cache.NewMemoryInviteCache(0)),
	)
	require.NoError(t, err)

	health := monitoring.NewHealthManager()
	health.RegisterReadiness(checks.Database(db, 0))
	health.RegisterReadiness(checks.Redis(nil, false, 0))

	router, err := api.NewRouter(cfg, invites, health, middleware.NewRateStore(cache.NewMemoryStore()))
	require.NoError(t, err)

	return &Env{
		T:       t,
		DB:      db,
		Router:  router,
		Config:  cfg,
		Codec:   codec,
		Invites: invites,
	}
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, JSON encoding body when present.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Upload posts data as a multipart file under field with the given content type.
func (e *Env) Upload(path, field, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	e.T.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	require.NoError(e.T, err)
	_, err = part.Write(data)
	require.NoError(e.T, err)
	require.NoError(e.T, writer.Close())

	req, err := http.NewRequest(http.MethodPost, path, &body)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
