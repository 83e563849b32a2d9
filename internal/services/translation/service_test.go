package translation

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_translator/internal/cache"
	"github.com/ncecere/voice_translator/internal/ledger"
	"github.com/ncecere/voice_translator/internal/limits"
	"github.com/ncecere/voice_translator/internal/models"
	"github.com/ncecere/voice_translator/internal/translator"
)

type stubEngine struct {
	transcribeFn   func(context.Context, models.TranscriptionRequest) (models.TranscriptionResponse, error)
	translateFn    func(context.Context, models.TextTranslationRequest) (models.TextTranslationResponse, error)
	transcribes    atomic.Int32
	translates     atomic.Int32
	lastTranscribe models.TranscriptionRequest
}

func (s *stubEngine) Transcribe(ctx context.Context, req models.TranscriptionRequest) (models.TranscriptionResponse, error) {
	s.transcribes.Add(1)
	s.lastTranscribe = req
	if s.transcribeFn != nil {
		return s.transcribeFn(ctx, req)
	}
	return models.TranscriptionResponse{Text: "hello", Model: req.Model}, nil
}

func (s *stubEngine) Translate(ctx context.Context, req models.TextTranslationRequest) (models.TextTranslationResponse, error) {
	s.translates.Add(1)
	if s.translateFn != nil {
		return s.translateFn(ctx, req)
	}
	return models.TextTranslationResponse{Text: "merhaba", Model: req.Model}, nil
}

func (s *stubEngine) HealthCheck(context.Context) error { return nil }

type fixture struct {
	svc    *Service
	store  *ledger.MemoryStore
	engine *stubEngine
}

func newFixture(t *testing.T, mutate func(*Options), admins ...string) *fixture {
	t.Helper()
	policy := ledger.NewPolicy(30, 999999, admins, time.Minute, 365*24*time.Hour)
	store := ledger.NewMemoryStore(policy)
	pricing, err := ledger.NewPricing(ledger.PricingOptions{DefaultTier: "premium", BaseCostPerMin: 0.006, Precision: 4, EnablePrompting: true, EnableFallback: true})
	require.NoError(t, err)
	engine := &stubEngine{}
	opts := Options{
		Store:         store,
		Pricing:       pricing,
		Engine:        engine,
		MaxAudioBytes: 1 << 20,
		MaxMinutes:    2,
		EngineTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewService(opts)
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, engine: engine}
}

// twoSeconds is 2s of PCM at the billing byte rate.
func twoSeconds() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 2*88200))
}

func request(id string) models.TranslateRequest {
	return models.TranslateRequest{
		AudioBase64:        twoSeconds(),
		UserID:             "user-1234567890",
		SourceLanguage:     "en",
		TargetLanguage:     "tr",
		SourceLanguageName: "English",
		TargetLanguageName: "Turkish",
		RequestID:          id,
	}
}

func TestTranslateChargesAndResponds(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.svc.Translate(context.Background(), request("req-1"))
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "hello", *resp.SourceText)
	require.Equal(t, "merhaba", *resp.TargetText)
	require.Equal(t, "req-1", resp.RequestID)
	require.InDelta(t, 0.0333, resp.DurationMinutes, 1e-9)
	require.InDelta(t, 0.0389, resp.CreditsUsed, 1e-9)
	require.Equal(t, "gpt-4o-transcribe + gpt-4o-mini", resp.ModelUsed)
	require.Equal(t, "premium", resp.QualityTier)
	require.NotNil(t, resp.UserCredits)
	require.InDelta(t, 29.9611, resp.UserCredits.RemainingMinutes, 1e-9)
	require.Equal(t, int64(2), *resp.UserCredits.Version)

	require.Equal(t, translator.FallbackModel, f.engine.lastTranscribe.FallbackModel)
	require.Contains(t, f.engine.lastTranscribe.Prompt, "English conversation")
	require.Equal(t, "en", f.engine.lastTranscribe.Language)
}

func TestTranslateReplaysWithoutCharging(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Translate(ctx, request("req-1"))
	require.NoError(t, err)
	second, err := f.svc.Translate(ctx, request("req-1"))
	require.NoError(t, err)

	require.True(t, second.Replayed)
	require.Equal(t, *first.TargetText, *second.TargetText)
	require.Equal(t, first.UserCredits.RemainingMinutes, second.UserCredits.RemainingMinutes)
	require.EqualValues(t, 1, f.engine.transcribes.Load())

	acct, err := f.store.EnsureAccount(ctx, "user-1234567890")
	require.NoError(t, err)
	require.Equal(t, "29.9611", acct.RemainingMinutes.String())
}

func TestTranslateReplaysFromCache(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	f := newFixture(t, func(o *Options) { o.Replay = cache.NewReplayCache(client, time.Minute) })
	ctx := context.Background()

	_, err := f.svc.Translate(ctx, request("req-1"))
	require.NoError(t, err)
	require.True(t, server.Exists("idem:user-1234567890:req-1"))

	resp, err := f.svc.Translate(ctx, request("req-1"))
	require.NoError(t, err)
	require.True(t, resp.Replayed)
	require.EqualValues(t, 1, f.engine.transcribes.Load())
}

func TestTranslateInsufficientCredits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	// Drain the free allowance.
	_, _, err := f.store.BeginRequest(ctx, ledger.BeginParams{RequestID: "drain", UserID: "user-1234567890"})
	require.NoError(t, err)
	_, _, err = f.store.CompleteRequest(ctx, ledger.CompleteParams{RequestID: "drain", UserID: "user-1234567890", Charge: decimalFromString(t, "29.99")})
	require.NoError(t, err)

	resp, err := f.svc.Translate(ctx, request("req-1"))
	require.ErrorIs(t, err, ErrInsufficientCredits)
	require.Equal(t, "Insufficient credits. Please purchase a premium package.", resp.Error)
	require.NotNil(t, resp.UserCredits)
	require.InDelta(t, 0.01, resp.UserCredits.RemainingMinutes, 1e-9)
	require.Zero(t, f.engine.transcribes.Load())

	rec, ok := f.store.Request("req-1")
	require.True(t, ok)
	require.Equal(t, ledger.StatusFailed, rec.Status)
}

func TestTranslateAdminNotCharged(t *testing.T) {
	f := newFixture(t, nil, "user-1234567890")
	resp, err := f.svc.Translate(context.Background(), request("req-1"))
	require.NoError(t, err)
	require.Zero(t, resp.CreditsUsed)
	require.True(t, resp.UserCredits.IsUnlimited)
	require.Equal(t, 999999.0, resp.UserCredits.RemainingMinutes)
}

func TestTranslateRecordingTooLong(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxMinutes = 0.02 })
	resp, err := f.svc.Translate(context.Background(), request("req-1"))
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "Recording too long. Maximum duration is 0.02 minutes.", resp.Error)
	require.Zero(t, f.engine.transcribes.Load())
}

func TestTranslateEngineFailureLeavesBalanceAndAllowsRetry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	var fail atomic.Bool
	fail.Store(true)
	f.engine.transcribeFn = func(_ context.Context, req models.TranscriptionRequest) (models.TranscriptionResponse, error) {
		if fail.Load() {
			return models.TranscriptionResponse{}, translator.ErrUnavailable
		}
		return models.TranscriptionResponse{Text: "hello", Model: req.Model}, nil
	}

	resp, err := f.svc.Translate(ctx, request("req-1"))
	require.ErrorIs(t, err, ErrEngineUnavailable)
	require.Equal(t, "Translation service unavailable", resp.Error)
	acct, _ := f.store.EnsureAccount(ctx, "user-1234567890")
	require.Equal(t, "30", acct.RemainingMinutes.String())

	fail.Store(false)
	resp, err = f.svc.Translate(ctx, request("req-1"))
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.False(t, resp.Replayed)
}

func TestTranslateAudioTooShort(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.transcribeFn = func(context.Context, models.TranscriptionRequest) (models.TranscriptionResponse, error) {
		return models.TranscriptionResponse{}, translator.ErrAudioTooShort
	}
	resp, err := f.svc.Translate(context.Background(), request("req-1"))
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, "Audio too short - please record for at least 0.5 seconds", resp.Error)
}

func TestTranslateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := request("req-1")
	req.TargetLanguage = "xx"
	_, err := f.svc.Translate(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req = request("req-2")
	req.UserID = ""
	_, err = f.svc.Translate(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req = request("req-3")
	req.AudioBase64 = "%%%"
	_, err = f.svc.Translate(ctx, req)
	require.ErrorIs(t, err, ErrValidation)
	require.Zero(t, f.engine.transcribes.Load())
}

func TestTranslatePayloadTooLarge(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxAudioBytes = 1000 })
	_, err := f.svc.Translate(context.Background(), request("req-1"))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestTranslateRateLimited(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	f := newFixture(t, func(o *Options) {
		o.Limiter = limits.NewRateLimiter(client, limits.LimitConfig{RequestsPerMinute: 1})
	})
	ctx := context.Background()

	_, err := f.svc.Translate(ctx, request("req-1"))
	require.NoError(t, err)
	resp, err := f.svc.Translate(ctx, request("req-2"))
	require.ErrorIs(t, err, ErrRateLimited)
	require.NotEmpty(t, resp.Error)
}

func TestTranslateSameLanguageStillCharges(t *testing.T) {
	f := newFixture(t, nil)
	req := request("req-1")
	req.TargetLanguage = "en"
	resp, err := f.svc.Translate(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotZero(t, resp.CreditsUsed)
}

func TestAddCredits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := models.AddCreditsRequest{UserID: "user-1", ProductID: "com.voicetranslator.popular", TransactionID: "tx-1"}

	resp, err := f.svc.AddCredits(ctx, req)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.False(t, resp.Duplicate)
	require.Equal(t, 930.0, resp.UserCredits.RemainingMinutes)
	require.Equal(t, "premium", *resp.UserCredits.SubscriptionType)

	resp, err = f.svc.AddCredits(ctx, req)
	require.NoError(t, err)
	require.True(t, resp.Duplicate)
	require.Equal(t, 930.0, resp.UserCredits.RemainingMinutes)

	_, err = f.svc.AddCredits(ctx, models.AddCreditsRequest{UserID: "user-1", TransactionID: "tx-2"})
	require.True(t, errors.Is(err, ErrValidation))
}

func TestAddCreditsRejectsUnknownProduct(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.AddCredits(ctx, models.AddCreditsRequest{
		UserID: "user-1", ProductID: "com.attacker.free", TransactionID: "tx-1", Minutes: 100000,
	})
	require.ErrorIs(t, err, ErrValidation)
	require.False(t, resp.Success)
	require.Nil(t, resp.UserCredits)

	credits, err := f.svc.Credits(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 30.0, credits.RemainingMinutes)
	require.Equal(t, 0.0, credits.TotalPurchasedMinutes)
}

func decimalFromString(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func TestCredits(t *testing.T) {
	f := newFixture(t, nil)
	credits, err := f.svc.Credits(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 30.0, credits.RemainingMinutes)
	require.Equal(t, "free", *credits.SubscriptionType)

	_, err = f.svc.Credits(context.Background(), "")
	require.ErrorIs(t, err, ErrValidation)
}
