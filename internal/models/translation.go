package models

// TranslateRequest is the body of POST /api/translate.
type TranslateRequest struct {
	AudioBase64        string `json:"audio_base64"`
	UserID             string `json:"user_id"`
	SourceLanguage     string `json:"source_language"`
	TargetLanguage     string `json:"target_language"`
	SourceLanguageName string `json:"source_language_name"`
	TargetLanguageName string `json:"target_language_name"`
	QualityTier        string `json:"quality_tier,omitempty"`
	RequestID          string `json:"request_id,omitempty"`
}

// TranslateResponse is returned by POST /api/translate. Error is set instead of
// the text fields when the backend rejects the request.
type TranslateResponse struct {
	SourceText       *string      `json:"source_text,omitempty"`
	TargetText       *string      `json:"target_text,omitempty"`
	SourceLanguage   string       `json:"source_language,omitempty"`
	TargetLanguage   string       `json:"target_language,omitempty"`
	DetectedLanguage string       `json:"detected_language,omitempty"`
	DurationMinutes  float64      `json:"duration_minutes,omitempty"`
	CreditsUsed      float64      `json:"credits_used,omitempty"`
	UserCredits      *UserCredits `json:"user_credits,omitempty"`
	ModelUsed        string       `json:"model_used,omitempty"`
	QualityTier      string       `json:"quality_tier,omitempty"`
	RequestID        string       `json:"request_id,omitempty"`
	Replayed         bool         `json:"replayed,omitempty"`
	Success          bool         `json:"success"`
	Error            string       `json:"error,omitempty"`
}

// UserCredits mirrors the ledger row exposed to clients.
type UserCredits struct {
	UserID                string  `json:"user_id"`
	IsAdmin               bool    `json:"is_admin"`
	IsPremium             bool    `json:"is_premium"`
	IsUnlimited           bool    `json:"is_unlimited"`
	RemainingMinutes      float64 `json:"remaining_minutes"`
	TotalPurchasedMinutes float64 `json:"total_purchased_minutes"`
	UsedMinutes           float64 `json:"used_minutes"`
	SubscriptionType      *string `json:"subscription_type,omitempty"`
	SubscriptionExpiry    *string `json:"subscription_expiry,omitempty"`
	Version               *int64  `json:"version,omitempty"`
}

// AddCreditsRequest is the body of POST /api/add-credits.
type AddCreditsRequest struct {
	UserID        string  `json:"user_id"`
	ProductID     string  `json:"product_id"`
	TransactionID string  `json:"transaction_id"`
	Minutes       float64 `json:"minutes"`
	PackageType   string  `json:"package_type"`
}

type AddCreditsResponse struct {
	Success     bool         `json:"success"`
	Duplicate   bool         `json:"duplicate,omitempty"`
	UserCredits *UserCredits `json:"user_credits,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Language is one entry of GET /languages.
type Language struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

type LanguagesResponse struct {
	Languages []Language `json:"languages"`
	Count     int        `json:"count"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ServiceConfig is the tunable engine configuration exposed on /config.
type ServiceConfig struct {
	QualityTier      string  `json:"quality_tier"`
	AudioModel       string  `json:"audio_model"`
	TranslationModel string  `json:"translation_model"`
	CostPerMinute    float64 `json:"cost_per_minute"`
	EnablePrompting  bool    `json:"enable_prompting"`
	EnableFallback   bool    `json:"enable_fallback"`
}

// ServiceConfigUpdate is the body of POST /config; nil fields are left unchanged.
type ServiceConfigUpdate struct {
	QualityTier     *string `json:"quality_tier,omitempty"`
	EnablePrompting *bool   `json:"enable_prompting,omitempty"`
	EnableFallback  *bool   `json:"enable_fallback,omitempty"`
}

// UsageSummary is returned by GET /api/analytics/usage/:user_id.
type UsageSummary struct {
	UserID         string        `json:"user_id"`
	Period         string        `json:"period"`
	Days           int           `json:"days"`
	Start          string        `json:"start"`
	End            string        `json:"end"`
	Translations   int           `json:"translations"`
	TotalMinutes   float64       `json:"total_minutes"`
	CreditsUsed    float64       `json:"credits_used"`
	ByLanguagePair []UsageBucket `json:"by_language_pair"`
	ByModel        []UsageBucket `json:"by_model"`
	Daily          []UsagePoint  `json:"daily"`
}

// SystemUsage is returned by GET /api/analytics/system.
type SystemUsage struct {
	Period               string        `json:"period"`
	Start                string        `json:"start"`
	End                  string        `json:"end"`
	TotalTranslations    int           `json:"total_translations"`
	TotalMinutes         float64       `json:"total_minutes_processed"`
	Users                int           `json:"users"`
	ByModel              []UsageBucket `json:"model_usage_stats"`
	Truncated            bool          `json:"truncated"`
	CurrentConfig        ServiceConfig `json:"current_config"`
	AverageCostPerMinute float64       `json:"average_cost_per_minute"`
}

// UsagePoint is one calendar day in a usage summary.
type UsagePoint struct {
	Date         string  `json:"date"`
	Translations int     `json:"translations"`
	Minutes      float64 `json:"minutes"`
	CreditsUsed  float64 `json:"credits_used"`
}

type UsageBucket struct {
	Key          string  `json:"key"`
	Translations int     `json:"translations"`
	Minutes      float64 `json:"minutes"`
}
