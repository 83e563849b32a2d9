// Package translation runs one translate request end to end on the backend:
// validation, idempotent replay, balance checks, the engine calls and the
// atomic charge.
package translation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ncecere/voice_translator/internal/cache"
	"github.com/ncecere/voice_translator/internal/languages"
	"github.com/ncecere/voice_translator/internal/ledger"
	"github.com/ncecere/voice_translator/internal/limits"
	"github.com/ncecere/voice_translator/internal/models"
	"github.com/ncecere/voice_translator/internal/observability"
	"github.com/ncecere/voice_translator/internal/storage/blob"
	"github.com/ncecere/voice_translator/internal/translator"
)

const (
	msgInsufficientCredits = "Insufficient credits. Please purchase a premium package."
	msgAudioTooShort       = "Audio too short - please record for at least 0.5 seconds"
)

var (
	ErrValidation          = errors.New("invalid request")
	ErrPayloadTooLarge     = errors.New("audio payload too large")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInProgress          = errors.New("request still processing")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrEngineUnavailable   = errors.New("translation engine unavailable")
	ErrEngineFailed        = errors.New("translation failed")
)

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type Options struct {
	Store         ledger.Store
	Pricing       *ledger.Pricing
	Engine        translator.Engine
	Detector      *translator.Detector
	Replay        *cache.ReplayCache
	Limiter       *limits.RateLimiter
	Archive       blob.Store
	Metrics       *observability.Provider
	MaxAudioBytes int
	MaxMinutes    float64
	EngineTimeout time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

type Service struct {
	store         ledger.Store
	pricing       *ledger.Pricing
	engine        translator.Engine
	detector      *translator.Detector
	replay        *cache.ReplayCache
	limiter       *limits.RateLimiter
	archive       blob.Store
	metrics       *observability.Provider
	maxAudioBytes int
	maxMinutes    decimal.Decimal
	engineTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("translation: ledger store required")
	}
	if opts.Pricing == nil {
		return nil, errors.New("translation: pricing required")
	}
	if opts.Engine == nil {
		return nil, errors.New("translation: engine required")
	}
	if opts.MaxMinutes <= 0 {
		opts.MaxMinutes = 2
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = 90 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:         opts.Store,
		pricing:       opts.Pricing,
		engine:        opts.Engine,
		detector:      opts.Detector,
		replay:        opts.Replay,
		limiter:       opts.Limiter,
		archive:       opts.Archive,
		metrics:       opts.Metrics,
		maxAudioBytes: opts.MaxAudioBytes,
		maxMinutes:    decimal.NewFromFloat(opts.MaxMinutes),
		engineTimeout: opts.EngineTimeout,
		logger:        opts.Logger,
		now:           opts.Now,
	}, nil
}

// Translate processes req. On error the returned response still carries a
// body suitable for the client (error message and, where known, the balance).
func (s *Service) Translate(ctx context.Context, req models.TranslateRequest) (models.TranslateResponse, error) {
	if err := normalize(&req); err != nil {
		return models.TranslateResponse{Error: errorMessage(err)}, err
	}
	tier := s.pricing.Resolve(req.QualityTier)
	log := s.logger.With("request_id", req.RequestID, "user", shortID(req.UserID))

	if body, ok := s.replay.Get(ctx, req.UserID, req.RequestID); ok {
		if resp, err := decodeReplay(body); err == nil {
			log.Info("replayed translation from cache")
			s.metrics.RecordTranslation(tier.Name, "replay")
			return resp, nil
		}
	}

	if s.maxAudioBytes > 0 && base64.StdEncoding.DecodedLen(len(req.AudioBase64)) > s.maxAudioBytes+2 {
		return models.TranslateResponse{Error: ErrPayloadTooLarge.Error()}, ErrPayloadTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil || len(data) == 0 {
		err = validation("audio_base64 must be non-empty base64")
		return models.TranslateResponse{Error: errorMessage(err)}, err
	}
	if s.maxAudioBytes > 0 && len(data) > s.maxAudioBytes {
		return models.TranslateResponse{Error: ErrPayloadTooLarge.Error()}, ErrPayloadTooLarge
	}

	minutes := ledger.EstimateMinutes(len(data))
	if minutes.GreaterThan(s.maxMinutes) {
		s.metrics.RecordTranslation(tier.Name, "too_long")
		return models.TranslateResponse{
			Error:       fmt.Sprintf("Recording too long. Maximum duration is %s minutes.", s.maxMinutes.String()),
			QualityTier: tier.Name,
			RequestID:   req.RequestID,
		}, nil
	}
	charge := s.pricing.Charge(minutes, tier)

	release, err := s.limiter.Acquire(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			s.metrics.RecordTranslation(tier.Name, "rate_limited")
			return models.TranslateResponse{Error: ErrRateLimited.Error()}, ErrRateLimited
		}
		// Redis trouble should not block translations.
		log.Warn("rate limiter unavailable", "error", err)
	}
	defer release()

	rec, outcome, err := s.store.BeginRequest(ctx, ledger.BeginParams{
		RequestID:       req.RequestID,
		UserID:          req.UserID,
		SourceLanguage:  req.SourceLanguage,
		TargetLanguage:  req.TargetLanguage,
		DurationMinutes: minutes,
	})
	switch {
	case errors.Is(err, ledger.ErrRequestInFlight):
		return models.TranslateResponse{Error: ErrInProgress.Error(), RequestID: req.RequestID}, ErrInProgress
	case errors.Is(err, ledger.ErrRequestConflict):
		err = validation("request_id %s is already in use", req.RequestID)
		return models.TranslateResponse{Error: errorMessage(err)}, err
	case err != nil:
		return models.TranslateResponse{Error: "internal error"}, fmt.Errorf("begin request: %w", err)
	}
	if outcome == ledger.BeginReplay {
		resp, err := decodeReplay(rec.Response)
		if err != nil {
			return models.TranslateResponse{Error: "internal error"}, fmt.Errorf("decode stored response: %w", err)
		}
		s.replay.Put(ctx, req.UserID, req.RequestID, rec.Response)
		log.Info("replayed completed translation")
		s.metrics.RecordTranslation(tier.Name, "replay")
		return resp, nil
	}

	resp, err := s.process(ctx, log, req, data, minutes, charge, tier)
	if err != nil {
		if failErr := s.store.FailRequest(context.WithoutCancel(ctx), req.RequestID, err.Error()); failErr != nil {
			log.Error("release failed request", "error", failErr)
		}
		return resp, err
	}
	return resp, nil
}

func (s *Service) process(ctx context.Context, log *slog.Logger, req models.TranslateRequest, data []byte, minutes, charge decimal.Decimal, tier ledger.Tier) (models.TranslateResponse, error) {
	acct, err := s.store.EnsureAccount(ctx, req.UserID)
	if err != nil {
		return models.TranslateResponse{Error: "internal error"}, fmt.Errorf("load account: %w", err)
	}
	if !acct.Covers(charge) {
		log.Info("insufficient credits", "remaining", acct.RemainingMinutes.String(), "cost", charge.String())
		s.metrics.RecordTranslation(tier.Name, "insufficient_credits")
		wire := acct.Wire()
		return models.TranslateResponse{
			Error:       msgInsufficientCredits,
			UserCredits: &wire,
			QualityTier: tier.Name,
			RequestID:   req.RequestID,
		}, ErrInsufficientCredits
	}

	if s.archive != nil {
		if _, err := blob.Archive(ctx, s.archive, blob.Recording{
			RequestID:      req.RequestID,
			UserID:         req.UserID,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
			Audio:          data,
			ReceivedAt:     s.now(),
		}); err != nil {
			log.Warn("archive recording failed", "error", err)
		}
	}

	result, err := s.runEngine(ctx, log, req, data, tier)
	if err != nil {
		wire := acct.Wire()
		resp := models.TranslateResponse{
			Error:       errorMessage(err),
			UserCredits: &wire,
			QualityTier: tier.Name,
			RequestID:   req.RequestID,
		}
		s.metrics.RecordTranslation(tier.Name, "engine_error")
		return resp, err
	}

	roundedMinutes := minutes.Round(4)
	updated, body, err := s.store.CompleteRequest(ctx, ledger.CompleteParams{
		RequestID:        req.RequestID,
		UserID:           req.UserID,
		Charge:           charge,
		DurationMinutes:  roundedMinutes,
		QualityTier:      tier.Name,
		AudioModel:       result.audioModel,
		TranslationModel: tier.TranslationModel,
		Render: func(a ledger.Account, charged decimal.Decimal) ([]byte, error) {
			return json.Marshal(buildResponse(req, result, a, roundedMinutes, charged, tier))
		},
	})
	if errors.Is(err, ledger.ErrInsufficientCredits) {
		wire := updated.Wire()
		s.metrics.RecordTranslation(tier.Name, "insufficient_credits")
		return models.TranslateResponse{Error: msgInsufficientCredits, UserCredits: &wire, QualityTier: tier.Name, RequestID: req.RequestID}, ErrInsufficientCredits
	}
	if err != nil {
		return models.TranslateResponse{Error: "internal error"}, fmt.Errorf("complete request: %w", err)
	}

	var resp models.TranslateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.TranslateResponse{Error: "internal error"}, fmt.Errorf("decode response: %w", err)
	}
	s.replay.Put(ctx, req.UserID, req.RequestID, body)
	s.metrics.RecordTranslation(tier.Name, "ok")
	s.metrics.RecordCharge(tier.Name, resp.CreditsUsed)
	log.Info("translation completed",
		"audio_model", result.audioModel,
		"translation_model", tier.TranslationModel,
		"credits_used", resp.CreditsUsed,
	)
	return resp, nil
}

type engineResult struct {
	sourceText string
	targetText string
	detected   string
	audioModel string
}

func (s *Service) runEngine(ctx context.Context, log *slog.Logger, req models.TranslateRequest, data []byte, tier ledger.Tier) (engineResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.engineTimeout)
	defer cancel()

	treq := models.TranscriptionRequest{
		Model:    tier.AudioModel,
		Input:    models.AudioInput{Reader: bytes.NewReader(data), Filename: "audio.wav", ContentType: "audio/wav", Bytes: int64(len(data))},
		Language: req.SourceLanguage,
	}
	if s.pricing.Prompting() {
		treq.Prompt = translator.TranscriptionPrompt(req.SourceLanguage, req.SourceLanguageName)
	}
	if s.pricing.Fallback() {
		treq.FallbackModel = translator.FallbackModel
	}

	started := time.Now()
	transcript, err := s.engine.Transcribe(ctx, treq)
	s.metrics.RecordEngineStep("transcribe", tier.AudioModel, err, time.Since(started))
	if err != nil {
		log.Error("transcription failed", "model", tier.AudioModel, "error", err)
		return engineResult{}, classifyEngine(err)
	}
	result := engineResult{sourceText: transcript.Text, audioModel: transcript.Model}
	if result.audioModel == "" {
		result.audioModel = tier.AudioModel
	}

	if s.detector != nil {
		if detected := s.detector.Detect(transcript.Text); detected != "" {
			result.detected = detected
			if detected != req.SourceLanguage {
				log.Warn("transcript language differs from selected source", "selected", req.SourceLanguage, "detected", detected)
			}
		}
	}

	started = time.Now()
	translated, err := s.engine.Translate(ctx, models.TextTranslationRequest{
		Model:          tier.TranslationModel,
		Text:           transcript.Text,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		SourceName:     req.SourceLanguageName,
		TargetName:     req.TargetLanguageName,
	})
	s.metrics.RecordEngineStep("translate", tier.TranslationModel, err, time.Since(started))
	if err != nil {
		log.Error("text translation failed", "model", tier.TranslationModel, "error", err)
		return engineResult{}, classifyEngine(err)
	}
	result.targetText = translated.Text
	return result, nil
}

func buildResponse(req models.TranslateRequest, r engineResult, acct ledger.Account, minutes, charged decimal.Decimal, tier ledger.Tier) models.TranslateResponse {
	source, target := r.sourceText, r.targetText
	wire := acct.Wire()
	mins, _ := minutes.Float64()
	used, _ := charged.Float64()
	return models.TranslateResponse{
		SourceText:       &source,
		TargetText:       &target,
		SourceLanguage:   req.SourceLanguage,
		TargetLanguage:   req.TargetLanguage,
		DetectedLanguage: r.detected,
		DurationMinutes:  mins,
		CreditsUsed:      used,
		UserCredits:      &wire,
		ModelUsed:        r.audioModel + " + " + tier.TranslationModel,
		QualityTier:      tier.Name,
		RequestID:        req.RequestID,
		Success:          true,
	}
}

func decodeReplay(body []byte) (models.TranslateResponse, error) {
	var resp models.TranslateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.TranslateResponse{}, err
	}
	resp.Replayed = true
	return resp, nil
}

func classifyEngine(err error) error {
	switch {
	case errors.Is(err, translator.ErrAudioTooShort):
		return fmt.Errorf("%w: %s", ErrValidation, msgAudioTooShort)
	case errors.Is(err, translator.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}
}

func normalize(req *models.TranslateRequest) error {
	if req.UserID == "" {
		return validation("user_id is required")
	}
	req.SourceLanguage = languages.Normalize(req.SourceLanguage)
	req.TargetLanguage = languages.Normalize(req.TargetLanguage)
	if !languages.Supported(req.SourceLanguage) {
		return validation("unsupported source_language %q", req.SourceLanguage)
	}
	if !languages.Supported(req.TargetLanguage) {
		return validation("unsupported target_language %q", req.TargetLanguage)
	}
	if req.SourceLanguageName == "" {
		req.SourceLanguageName = languages.Name(req.SourceLanguage)
	}
	if req.TargetLanguageName == "" {
		req.TargetLanguageName = languages.Name(req.TargetLanguage)
	}
	if req.AudioBase64 == "" {
		return validation("audio_base64 is required")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return nil
}

// errorMessage renders err for the response body.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
	case errors.Is(err, ErrEngineUnavailable):
		return "Translation service unavailable"
	case errors.Is(err, ErrEngineFailed):
		return "Translation failed: " + strings.TrimPrefix(err.Error(), ErrEngineFailed.Error()+": ")
	}
	return err.Error()
}

// Credits returns the user's balance, creating the account on first use.
func (s *Service) Credits(ctx context.Context, userID string) (models.UserCredits, error) {
	if userID == "" {
		return models.UserCredits{}, validation("user_id is required")
	}
	acct, err := s.store.EnsureAccount(ctx, userID)
	if err != nil {
		return models.UserCredits{}, fmt.Errorf("load account: %w", err)
	}
	return acct.Wire(), nil
}

// AddCredits applies a purchase. Repeating a transaction id is reported as a
// successful duplicate with the current balance.
func (s *Service) AddCredits(ctx context.Context, req models.AddCreditsRequest) (models.AddCreditsResponse, error) {
	params, err := ledger.ResolvePurchase(req)
	if err != nil {
		err = validation("user_id, transaction_id and a known product_id are required")
		return models.AddCreditsResponse{Error: errorMessage(err)}, err
	}
	acct, err := s.store.AddCredits(ctx, params)
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		wire := acct.Wire()
		s.metrics.RecordPurchase(params.ProductID, "duplicate")
		return models.AddCreditsResponse{Success: true, Duplicate: true, UserCredits: &wire}, nil
	case errors.Is(err, ledger.ErrRequestConflict):
		err = validation("transaction_id %s belongs to another user", params.TransactionID)
		return models.AddCreditsResponse{Error: errorMessage(err)}, err
	case err != nil:
		return models.AddCreditsResponse{Error: "internal error"}, fmt.Errorf("add credits: %w", err)
	}
	wire := acct.Wire()
	s.metrics.RecordPurchase(params.ProductID, "applied")
	s.logger.Info("credits added",
		"user", shortID(params.UserID),
		"product", params.ProductID,
		"unlimited", params.Unlimited,
		"minutes", params.Minutes.String(),
	)
	return models.AddCreditsResponse{Success: true, UserCredits: &wire}, nil
}

// Ready checks the ledger and the upstream engine.
func (s *Service) Ready(ctx context.Context) map[string]error {
	return map[string]error{
		"ledger": s.store.Ping(ctx),
		"engine": s.engine.HealthCheck(ctx),
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
