package translator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/ncecere/voice_translator/internal/models"
)

// FallbackModel handles transcription when the tier model fails.
const FallbackModel = "whisper-1"

// Options configure the OpenAI engine.
type Options struct {
	APIKey      string
	BaseURL     string
	Temperature float64
	TopP        float64
	MaxTokens   int64
	Logger      *slog.Logger
	Extra       []option.RequestOption
}

// OpenAIEngine wraps the official OpenAI SDK.
type OpenAIEngine struct {
	client      *openai.Client
	temperature float64
	topP        float64
	maxTokens   int64
	logger      *slog.Logger
}

func NewOpenAI(opts Options) (*OpenAIEngine, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
	}
	requestOpts = append(requestOpts, opts.Extra...)
	client := openai.NewClient(requestOpts...)

	if opts.Temperature <= 0 {
		opts.Temperature = 0.1
	}
	if opts.TopP <= 0 {
		opts.TopP = 0.9
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIEngine{
		client:      &client,
		temperature: opts.Temperature,
		topP:        opts.TopP,
		maxTokens:   opts.MaxTokens,
		logger:      logger,
	}, nil
}

// Transcribe runs speech-to-text with the requested model, retrying once with
// FallbackModel when one is configured.
func (e *OpenAIEngine) Transcribe(ctx context.Context, req models.TranscriptionRequest) (models.TranscriptionResponse, error) {
	if req.Input.Reader == nil {
		return models.TranscriptionResponse{}, errors.New("openai: audio input required")
	}
	data, err := io.ReadAll(req.Input.Reader)
	if err != nil {
		return models.TranscriptionResponse{}, fmt.Errorf("read audio: %w", err)
	}

	text, err := e.transcribe(ctx, req.Model, data, req)
	if err == nil {
		return models.TranscriptionResponse{Text: text, Model: req.Model}, nil
	}
	if errors.Is(err, ErrAudioTooShort) || errors.Is(err, context.Canceled) {
		return models.TranscriptionResponse{}, err
	}
	e.logger.Error("transcription failed", "model", req.Model, "error", err)
	if req.FallbackModel == "" || req.FallbackModel == req.Model {
		return models.TranscriptionResponse{}, err
	}

	e.logger.Info("falling back to secondary transcription model", "model", req.FallbackModel)
	text, fbErr := e.transcribe(ctx, req.FallbackModel, data, req)
	if fbErr != nil {
		e.logger.Error("fallback transcription also failed", "model", req.FallbackModel, "error", fbErr)
		return models.TranscriptionResponse{}, err
	}
	return models.TranscriptionResponse{Text: text, Model: req.FallbackModel, Fallback: true}, nil
}

func (e *OpenAIEngine) transcribe(ctx context.Context, model string, data []byte, req models.TranscriptionRequest) (string, error) {
	filename := req.Input.Filename
	if filename == "" {
		filename = "audio.wav"
	}
	contentType := req.Input.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(data), filename, contentType),
		Model: openai.AudioModel(model),
	}
	// whisper-1 takes the language hint directly and ignores prompts.
	if model == FallbackModel {
		if lang := strings.TrimSpace(req.Language); lang != "" {
			params.Language = openai.String(lang)
		}
	} else if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// Translate renders text in the target language. Identical languages pass through.
func (e *OpenAIEngine) Translate(ctx context.Context, req models.TextTranslationRequest) (models.TextTranslationResponse, error) {
	if req.SourceLanguage == req.TargetLanguage {
		return models.TextTranslationResponse{Text: req.Text, Model: req.Model}, nil
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req.SourceName, req.TargetName)),
			openai.UserMessage(userPrompt(req.SourceName, req.TargetName, req.Text)),
		},
		Temperature: param.NewOpt(e.temperature),
		TopP:        param.NewOpt(e.topP),
		MaxTokens:   param.NewOpt(e.maxTokens),
	}
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.TextTranslationResponse{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return models.TextTranslationResponse{}, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return models.TextTranslationResponse{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: req.Model,
	}, nil
}

// HealthCheck uses the Models API as a lightweight readiness probe.
func (e *OpenAIEngine) HealthCheck(ctx context.Context) error {
	if _, err := e.client.Models.List(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if strings.Contains(apiErr.Error(), "audio_too_short") {
			return ErrAudioTooShort
		}
		if apiErr.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("openai rejected request: %w", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
