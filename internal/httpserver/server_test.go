package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_translator/internal/app"
	"github.com/ncecere/voice_translator/internal/config"
	"github.com/ncecere/voice_translator/internal/models"
	"github.com/ncecere/voice_translator/internal/translator"
)

type stubEngine struct {
	transcribeErr error
	healthErr     error
}

func (s *stubEngine) Transcribe(_ context.Context, req models.TranscriptionRequest) (models.TranscriptionResponse, error) {
	if s.transcribeErr != nil {
		return models.TranscriptionResponse{}, s.transcribeErr
	}
	return models.TranscriptionResponse{Text: "good morning", Model: req.Model}, nil
}

func (s *stubEngine) Translate(_ context.Context, req models.TextTranslationRequest) (models.TextTranslationResponse, error) {
	return models.TextTranslationResponse{Text: "günaydın", Model: req.Model}, nil
}

func (s *stubEngine) HealthCheck(context.Context) error { return s.healthErr }

type harness struct {
	t         *testing.T
	server    *Server
	container *app.Container
	engine    *stubEngine
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{MaxAudioMB: 1, BodyLimitMB: 2, EngineTimeout: time.Second},
		Ledger: config.LedgerConfig{
			Store:               "memory",
			FreeMinutes:         30,
			MaxRecordingMinutes: 2,
			AdminUserIDs:        []string{"admin-1"},
		},
		Pricing: config.PricingConfig{
			DefaultTier:     "premium",
			BaseCostPerMin:  0.006,
			ChargePrecision: 4,
			EnablePrompting: true,
			EnableFallback:  true,
		},
		Engine:        config.EngineConfig{Provider: "openai", OpenAIKey: "sk-test"},
		Observability: config.ObservabilityConfig{EnableMetrics: true},
		Reporting:     config.ReportingConfig{Timezone: "UTC"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	engine := &stubEngine{}
	container, err := app.NewContainer(context.Background(), cfg, nil, nil, app.WithEngine(engine))
	require.NoError(t, err)
	server, err := New(container)
	require.NoError(t, err)
	return &harness{t: t, server: server, container: container, engine: engine}
}

func (h *harness) do(method, path string, body any, headers map[string]string) (int, []byte) {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return h.send(req)
}

// upload posts audio as a multipart "file" part alongside the form fields.
// A nil audio slice omits the file part.
func (h *harness) upload(path, contentType string, audio []byte, fields, headers map[string]string) (int, []byte) {
	h.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(h.t, w.WriteField(k, v))
	}
	if audio != nil {
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Disposition": {`form-data; name="file"; filename="clip.wav"`},
			"Content-Type":        {contentType},
		})
		require.NoError(h.t, err)
		_, err = part.Write(audio)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return h.send(req)
}

func (h *harness) send(req *http.Request) (int, []byte) {
	h.t.Helper()
	resp, err := h.server.App().Test(req, -1)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, data
}

func translateRequest(userID, requestID string) models.TranslateRequest {
	return models.TranslateRequest{
		AudioBase64:        base64.StdEncoding.EncodeToString(make([]byte, 3*88200)),
		UserID:             userID,
		SourceLanguage:     "en",
		TargetLanguage:     "tr",
		SourceLanguageName: "English",
		TargetLanguageName: "Turkish",
		RequestID:          requestID,
	}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	status, body := h.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "healthy", decode[models.HealthResponse](t, body).Status)
}

func TestHealthzReportsDegradedEngine(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.healthErr = fmt.Errorf("upstream 502")
	status, body := h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, status)
	got := decode[struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}](t, body)
	require.Equal(t, "degraded", got.Status)
	require.Equal(t, "error", got.Checks["engine"]["status"])
	require.Equal(t, "ok", got.Checks["ledger"]["status"])
}

func TestTranslateChargesThenReplays(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.do(http.MethodPost, "/api/translate", translateRequest("u1", "req-1"), nil)
	require.Equal(t, http.StatusOK, status, string(body))
	first := decode[models.TranslateResponse](t, body)
	require.True(t, first.Success)
	require.Equal(t, "günaydın", *first.TargetText)
	require.InDelta(t, 0.0583, first.CreditsUsed, 1e-9)
	require.InDelta(t, 29.9417, first.UserCredits.RemainingMinutes, 1e-9)

	status, body = h.do(http.MethodPost, "/api/translate", translateRequest("u1", "req-1"), nil)
	require.Equal(t, http.StatusOK, status)
	second := decode[models.TranslateResponse](t, body)
	require.True(t, second.Replayed)
	require.InDelta(t, 29.9417, second.UserCredits.RemainingMinutes, 1e-9)

	status, body = h.do(http.MethodGet, "/api/credits/u1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.InDelta(t, 29.9417, decode[models.UserCredits](t, body).RemainingMinutes, 1e-9)
}

func TestTranslateUsesIdempotencyHeader(t *testing.T) {
	h := newHarness(t, nil)
	req := translateRequest("u1", "")
	headers := map[string]string{idempotencyHeaderForTest: "hdr-1"}

	status, body := h.do(http.MethodPost, "/api/translate", req, headers)
	require.Equal(t, http.StatusOK, status, string(body))
	require.Equal(t, "hdr-1", decode[models.TranslateResponse](t, body).RequestID)

	status, body = h.do(http.MethodPost, "/api/translate", req, headers)
	require.Equal(t, http.StatusOK, status)
	require.True(t, decode[models.TranslateResponse](t, body).Replayed)
}

const idempotencyHeaderForTest = "Idempotency-Key"

func TestTranslateStatusCodes(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		h := newHarness(t, nil)
		req := translateRequest("u1", "bad-lang")
		req.TargetLanguage = "xx"
		status, body := h.do(http.MethodPost, "/api/translate", req, nil)
		require.Equal(t, http.StatusBadRequest, status)
		require.NotEmpty(t, decode[models.TranslateResponse](t, body).Error)
	})
	t.Run("insufficient credits", func(t *testing.T) {
		h := newHarness(t, func(c *config.Config) { c.Ledger.FreeMinutes = 0 })
		status, body := h.do(http.MethodPost, "/api/translate", translateRequest("u1", "broke"), nil)
		require.Equal(t, http.StatusPaymentRequired, status)
		resp := decode[models.TranslateResponse](t, body)
		require.NotNil(t, resp.UserCredits)
		require.Zero(t, resp.UserCredits.RemainingMinutes)
	})
	t.Run("payload too large", func(t *testing.T) {
		h := newHarness(t, nil)
		req := translateRequest("u1", "big")
		req.AudioBase64 = base64.StdEncoding.EncodeToString(make([]byte, 1<<20+1024))
		status, _ := h.do(http.MethodPost, "/api/translate", req, nil)
		require.Equal(t, http.StatusRequestEntityTooLarge, status)
	})
	t.Run("engine unavailable", func(t *testing.T) {
		h := newHarness(t, nil)
		h.engine.transcribeErr = fmt.Errorf("%w: connection refused", translator.ErrUnavailable)
		status, body := h.do(http.MethodPost, "/api/translate", translateRequest("u1", "down"), nil)
		require.Equal(t, http.StatusServiceUnavailable, status)
		require.Equal(t, "Translation service unavailable", decode[models.TranslateResponse](t, body).Error)

		status, body = h.do(http.MethodGet, "/api/credits/u1", nil, nil)
		require.Equal(t, http.StatusOK, status)
		require.InDelta(t, 30, decode[models.UserCredits](t, body).RemainingMinutes, 1e-9)
	})
	t.Run("engine failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.engine.transcribeErr = fmt.Errorf("model exploded")
		status, _ := h.do(http.MethodPost, "/api/translate", translateRequest("u1", "boom"), nil)
		require.Equal(t, http.StatusInternalServerError, status)
	})
	t.Run("malformed body", func(t *testing.T) {
		h := newHarness(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/translate", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		resp, err := h.server.App().Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func uploadFields(userID, requestID string) map[string]string {
	return map[string]string{
		"user_id":         userID,
		"source_language": "en",
		"target_language": "tr",
		"request_id":      requestID,
	}
}

func TestTranslateFile(t *testing.T) {
	h := newHarness(t, nil)
	clip := make([]byte, 3*88200)

	status, body := h.upload("/api/translate-file", "audio/wav", clip, uploadFields("u1", "file-1"), nil)
	require.Equal(t, http.StatusOK, status, string(body))
	first := decode[models.TranslateResponse](t, body)
	require.True(t, first.Success)
	require.Equal(t, "günaydın", *first.TargetText)
	require.InDelta(t, 0.0583, first.CreditsUsed, 1e-9)

	status, body = h.upload("/api/translate-file", "audio/wav", clip, uploadFields("u1", "file-1"), nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, decode[models.TranslateResponse](t, body).Replayed)

	status, body = h.do(http.MethodGet, "/api/credits/u1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.InDelta(t, 29.9417, decode[models.UserCredits](t, body).RemainingMinutes, 1e-9)
}

func TestTranslateFileRejections(t *testing.T) {
	t.Run("not audio", func(t *testing.T) {
		h := newHarness(t, nil)
		status, _ := h.upload("/api/translate-file", "text/plain", []byte("hello"), uploadFields("u1", "txt"), nil)
		require.Equal(t, http.StatusBadRequest, status)
	})
	t.Run("missing file", func(t *testing.T) {
		h := newHarness(t, nil)
		status, _ := h.upload("/api/translate-file", "", nil, uploadFields("u1", "none"), nil)
		require.Equal(t, http.StatusBadRequest, status)
	})
	t.Run("too large", func(t *testing.T) {
		h := newHarness(t, nil)
		status, body := h.upload("/api/translate-file", "audio/wav", make([]byte, 1<<20+1024), uploadFields("u1", "big"), nil)
		require.Equal(t, http.StatusRequestEntityTooLarge, status)
		require.NotEmpty(t, decode[models.TranslateResponse](t, body).Error)

		status, body = h.do(http.MethodGet, "/api/credits/u1", nil, nil)
		require.Equal(t, http.StatusOK, status)
		require.InDelta(t, 30, decode[models.UserCredits](t, body).RemainingMinutes, 1e-9)
	})
	t.Run("wrong subject", func(t *testing.T) {
		h := newHarness(t, func(c *config.Config) { c.Auth.JWTSecret = "test-secret" })
		other, _, err := h.container.Tokens.Issue("u2", time.Hour)
		require.NoError(t, err)
		status, _ := h.upload("/api/translate-file", "audio/wav", make([]byte, 88200), uploadFields("u1", "auth"),
			map[string]string{"Authorization": "Bearer " + other})
		require.Equal(t, http.StatusForbidden, status)
	})
}

func TestAuthRequiresMatchingSubject(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Auth.JWTSecret = "test-secret" })
	own, _, err := h.container.Tokens.Issue("u1", time.Hour)
	require.NoError(t, err)
	other, _, err := h.container.Tokens.Issue("u2", time.Hour)
	require.NoError(t, err)

	status, _ := h.do(http.MethodGet, "/api/credits/u1", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(http.MethodGet, "/api/credits/u1", nil, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(http.MethodGet, "/api/credits/u1", nil, map[string]string{"Authorization": "Bearer " + other})
	require.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(http.MethodPost, "/api/translate", translateRequest("u1", "auth-1"), map[string]string{"Authorization": "Bearer " + other})
	require.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(http.MethodPost, "/api/translate", translateRequest("u1", "auth-1"), map[string]string{"Authorization": "Bearer " + own})
	require.Equal(t, http.StatusOK, status)

	// health and languages stay public
	status, _ = h.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(http.MethodGet, "/languages", nil, nil)
	require.Equal(t, http.StatusOK, status)
}

func TestAddCredits(t *testing.T) {
	h := newHarness(t, nil)
	purchase := models.AddCreditsRequest{
		UserID:        "u1",
		ProductID:     "com.voicetranslator.popular",
		TransactionID: "tx-1",
	}
	status, body := h.do(http.MethodPost, "/api/add-credits", purchase, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	resp := decode[models.AddCreditsResponse](t, body)
	require.True(t, resp.Success)
	require.InDelta(t, 930, resp.UserCredits.RemainingMinutes, 1e-9)

	status, body = h.do(http.MethodPost, "/api/add-credits", purchase, nil)
	require.Equal(t, http.StatusOK, status)
	resp = decode[models.AddCreditsResponse](t, body)
	require.True(t, resp.Duplicate)
	require.InDelta(t, 930, resp.UserCredits.RemainingMinutes, 1e-9)

	status, body = h.do(http.MethodPost, "/api/add-credits", models.AddCreditsRequest{UserID: "u1"}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, decode[models.AddCreditsResponse](t, body).Success)

	forged := models.AddCreditsRequest{UserID: "u1", ProductID: "com.example.free", TransactionID: "tx-2", Minutes: 100000}
	status, body = h.do(http.MethodPost, "/api/add-credits", forged, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, decode[models.AddCreditsResponse](t, body).Success)

	status, body = h.do(http.MethodGet, "/api/credits/u1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.InDelta(t, 930, decode[models.UserCredits](t, body).RemainingMinutes, 1e-9)
}

func TestLanguages(t *testing.T) {
	h := newHarness(t, nil)
	status, body := h.do(http.MethodGet, "/languages", nil, nil)
	require.Equal(t, http.StatusOK, status)
	got := decode[models.LanguagesResponse](t, body)
	require.Equal(t, len(got.Languages), got.Count)
	require.NotZero(t, got.Count)
	found := false
	for _, l := range got.Languages {
		if l.Code == "tr" {
			found = true
			require.Equal(t, "Turkish", l.Name)
		}
	}
	require.True(t, found)
}

func TestConfigRoutes(t *testing.T) {
	h := newHarness(t, nil)
	status, body := h.do(http.MethodGet, "/config", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "premium", decode[models.ServiceConfig](t, body).QualityTier)

	tier := "ultra"
	status, body = h.do(http.MethodPost, "/config", models.ServiceConfigUpdate{QualityTier: &tier}, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	updated := decode[struct {
		Config models.ServiceConfig `json:"config"`
	}](t, body)
	require.Equal(t, "gpt-4o", updated.Config.TranslationModel)
	require.InDelta(t, 0.009, updated.Config.CostPerMinute, 1e-9)

	bad := "gold"
	status, _ = h.do(http.MethodPost, "/config", models.ServiceConfigUpdate{QualityTier: &bad}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(http.MethodPost, "/config", map[string]any{}, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestConfigUpdateRequiresAdminToken(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Auth.JWTSecret = "test-secret" })
	user, _, err := h.container.Tokens.Issue("u1", time.Hour)
	require.NoError(t, err)
	admin, _, err := h.container.Tokens.Issue("admin-1", time.Hour)
	require.NoError(t, err)
	off := false
	update := models.ServiceConfigUpdate{EnableFallback: &off}

	status, _ := h.do(http.MethodPost, "/config", update, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.do(http.MethodPost, "/config", update, map[string]string{"Authorization": "Bearer " + user})
	require.Equal(t, http.StatusForbidden, status)
	status, _ = h.do(http.MethodPost, "/config", update, map[string]string{"Authorization": "Bearer " + admin})
	require.Equal(t, http.StatusOK, status)
	require.False(t, h.container.Pricing.Fallback())
}

func TestUsageAnalytics(t *testing.T) {
	h := newHarness(t, nil)
	status, _ := h.do(http.MethodPost, "/api/translate", translateRequest("u1", "usage-1"), nil)
	require.Equal(t, http.StatusOK, status)

	status, body := h.do(http.MethodGet, "/api/analytics/usage/u1?period=7d", nil, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	got := decode[models.UsageSummary](t, body)
	require.Equal(t, 1, got.Translations)
	require.Equal(t, "en->tr", got.ByLanguagePair[0].Key)

	status, body = h.do(http.MethodGet, "/api/analytics/usage/u1?days=3", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "3d", decode[models.UsageSummary](t, body).Period)

	status, _ = h.do(http.MethodGet, "/api/analytics/usage/u1?period=fortnight", nil, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestSystemAnalytics(t *testing.T) {
	h := newHarness(t, nil)
	for _, user := range []string{"u1", "u2"} {
		status, body := h.do(http.MethodPost, "/api/translate", translateRequest(user, "sys-"+user), nil)
		require.Equal(t, http.StatusOK, status, string(body))
	}

	status, body := h.do(http.MethodGet, "/api/analytics/system", nil, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	got := decode[models.SystemUsage](t, body)
	require.Equal(t, 2, got.TotalTranslations)
	require.Equal(t, 2, got.Users)
	require.InDelta(t, 0.1, got.TotalMinutes, 1e-9)
	require.Len(t, got.ByModel, 1)
	require.Equal(t, "gpt-4o-transcribe+gpt-4o-mini", got.ByModel[0].Key)
	require.Equal(t, "premium", got.CurrentConfig.QualityTier)
	require.InDelta(t, 0.007, got.AverageCostPerMinute, 1e-9)

	status, _ = h.do(http.MethodGet, "/api/analytics/system?period=soon", nil, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestSystemAnalyticsRequiresAdminToken(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Auth.JWTSecret = "test-secret" })
	user, _, err := h.container.Tokens.Issue("u1", time.Hour)
	require.NoError(t, err)
	admin, _, err := h.container.Tokens.Issue("admin-1", time.Hour)
	require.NoError(t, err)

	status, _ := h.do(http.MethodGet, "/api/analytics/system", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.do(http.MethodGet, "/api/analytics/system", nil, map[string]string{"Authorization": "Bearer " + user})
	require.Equal(t, http.StatusForbidden, status)
	status, _ = h.do(http.MethodGet, "/api/analytics/system", nil, map[string]string{"Authorization": "Bearer " + admin})
	require.Equal(t, http.StatusOK, status)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/health", nil, nil)
	status, body := h.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "voice_translator_http_requests_total")
}
