package ledger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ncecere/voice_translator/internal/audio"
	"github.com/ncecere/voice_translator/internal/models"
)

const (
	ModelWhisper1            = "whisper-1"
	ModelGPT4oTranscribe     = "gpt-4o-transcribe"
	ModelGPT4oMiniTranscribe = "gpt-4o-mini-transcribe"
	ModelGPT4o               = "gpt-4o"
	ModelGPT4oMini           = "gpt-4o-mini"
	ModelGPT4Turbo           = "gpt-4-turbo"
)

var audioCost = map[string]decimal.Decimal{
	ModelWhisper1:            decimal.RequireFromString("0.006"),
	ModelGPT4oTranscribe:     decimal.RequireFromString("0.006"),
	ModelGPT4oMiniTranscribe: decimal.RequireFromString("0.003"),
}

var translationCost = map[string]decimal.Decimal{
	ModelGPT4oMini: decimal.RequireFromString("0.001"),
	ModelGPT4o:     decimal.RequireFromString("0.003"),
	ModelGPT4Turbo: decimal.RequireFromString("0.002"),
}

// Tier pairs a speech model with a translation model.
type Tier struct {
	Name             string
	AudioModel       string
	TranslationModel string
}

var tiers = map[string]Tier{
	"basic":   {Name: "basic", AudioModel: ModelWhisper1, TranslationModel: ModelGPT4oMini},
	"premium": {Name: "premium", AudioModel: ModelGPT4oTranscribe, TranslationModel: ModelGPT4oMini},
	"ultra":   {Name: "ultra", AudioModel: ModelGPT4oTranscribe, TranslationModel: ModelGPT4o},
}

// LookupTier resolves a tier name.
func LookupTier(name string) (Tier, bool) {
	t, ok := tiers[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// CostPerMinute is the upstream cost of one minute at this tier.
func (t Tier) CostPerMinute() decimal.Decimal {
	return audioCost[t.AudioModel].Add(translationCost[t.TranslationModel])
}

// Package is a purchasable credit bundle. Minutes of -1 grant unlimited use.
type Package struct {
	ProductID string
	Name      string
	Minutes   int64
}

var packages = map[string]Package{
	"com.voicetranslator.starter":      {ProductID: "com.voicetranslator.starter", Name: "Starter Pack", Minutes: 300},
	"com.voicetranslator.popular":      {ProductID: "com.voicetranslator.popular", Name: "Popular Pack", Minutes: 900},
	"com.voicetranslator.professional": {ProductID: "com.voicetranslator.professional", Name: "Professional Pack", Minutes: 1800},
	"com.voicetranslator.unlimited":    {ProductID: "com.voicetranslator.unlimited", Name: "Unlimited Pack", Minutes: -1},
}

func LookupPackage(productID string) (Package, bool) {
	p, ok := packages[strings.TrimSpace(productID)]
	return p, ok
}

var (
	minBilledMinutes = decimal.RequireFromString("0.01")
	sixty            = decimal.NewFromInt(60)
	pcmRate          = decimal.NewFromInt(audio.PCMBytesPerSecond)
)

// EstimateMinutes bills raw audio at the PCM byte rate with a 0.01 minute floor.
func EstimateMinutes(bytes int) decimal.Decimal {
	minutes := decimal.NewFromInt(int64(bytes)).Div(pcmRate).Div(sixty)
	if minutes.LessThan(minBilledMinutes) {
		return minBilledMinutes
	}
	return minutes
}

// Pricing holds the runtime-adjustable engine configuration exposed on /config.
type Pricing struct {
	mu              sync.RWMutex
	tier            Tier
	enablePrompting bool
	enableFallback  bool
	baseCost        decimal.Decimal
	precision       int32
}

type PricingOptions struct {
	DefaultTier     string
	BaseCostPerMin  float64
	Precision       int32
	EnablePrompting bool
	EnableFallback  bool
}

func NewPricing(opts PricingOptions) (*Pricing, error) {
	tier, ok := LookupTier(opts.DefaultTier)
	if !ok {
		return nil, fmt.Errorf("unknown quality tier %q", opts.DefaultTier)
	}
	base := decimal.NewFromFloat(opts.BaseCostPerMin)
	if !base.IsPositive() {
		base = decimal.RequireFromString("0.006")
	}
	if opts.Precision <= 0 {
		opts.Precision = 4
	}
	return &Pricing{
		tier:            tier,
		enablePrompting: opts.EnablePrompting,
		enableFallback:  opts.EnableFallback,
		baseCost:        base,
		precision:       opts.Precision,
	}, nil
}

// Resolve picks the tier for a request, falling back to the configured default.
func (p *Pricing) Resolve(requested string) Tier {
	if t, ok := LookupTier(requested); ok {
		return t
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tier
}

// Charge converts billed minutes at tier into credit minutes.
func (p *Pricing) Charge(minutes decimal.Decimal, tier Tier) decimal.Decimal {
	p.mu.RLock()
	base, precision := p.baseCost, p.precision
	p.mu.RUnlock()
	return minutes.Mul(tier.CostPerMinute()).Div(base).Round(precision)
}

func (p *Pricing) Prompting() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enablePrompting
}

func (p *Pricing) Fallback() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enableFallback
}

// Snapshot returns the wire form of the current configuration.
func (p *Pricing) Snapshot() models.ServiceConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cost, _ := p.tier.CostPerMinute().Float64()
	return models.ServiceConfig{
		QualityTier:      p.tier.Name,
		AudioModel:       p.tier.AudioModel,
		TranslationModel: p.tier.TranslationModel,
		CostPerMinute:    cost,
		EnablePrompting:  p.enablePrompting,
		EnableFallback:   p.enableFallback,
	}
}

// Update applies a partial configuration change.
func (p *Pricing) Update(u models.ServiceConfigUpdate) (models.ServiceConfig, error) {
	if u.QualityTier != nil {
		if _, ok := LookupTier(*u.QualityTier); !ok {
			return models.ServiceConfig{}, fmt.Errorf("unknown quality tier %q", *u.QualityTier)
		}
	}
	p.mu.Lock()
	if u.QualityTier != nil {
		p.tier, _ = LookupTier(*u.QualityTier)
	}
	if u.EnablePrompting != nil {
		p.enablePrompting = *u.EnablePrompting
	}
	if u.EnableFallback != nil {
		p.enableFallback = *u.EnableFallback
	}
	p.mu.Unlock()
	return p.Snapshot(), nil
}
