package models

import "io"

// AudioInput wraps a decoded recording handed to the speech engine.
type AudioInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Bytes       int64
}

// TranscriptionRequest captures speech-to-text parameters for one recording.
type TranscriptionRequest struct {
	Model         string
	FallbackModel string
	Input         AudioInput
	Prompt        string
	Language      string
}

// TranscriptionResponse is a normalized transcription payload.
type TranscriptionResponse struct {
	Text     string
	Model    string
	Fallback bool
}

// TextTranslationRequest drives the text translation step.
type TextTranslationRequest struct {
	Model          string
	Text           string
	SourceLanguage string
	TargetLanguage string
	SourceName     string
	TargetName     string
}

type TextTranslationResponse struct {
	Text  string
	Model string
}
