// Package usage aggregates ledger usage rows into per-user and system reports.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ncecere/voice_translator/internal/ledger"
	"github.com/ncecere/voice_translator/internal/models"
	"github.com/ncecere/voice_translator/internal/timeutil"
)

const DefaultPeriod = "30d"

// SystemUsageLimit caps how many recent rows a system summary reads.
const SystemUsageLimit = 1000

var ErrInvalidUser = errors.New("user_id is required")

type Service struct {
	store ledger.Store
	loc   *time.Location
	now   func() time.Time
}

func NewService(store ledger.Store, loc *time.Location) *Service {
	return &Service{store: store, loc: timeutil.EnsureLocation(loc), now: time.Now}
}

// WithClock overrides the reference time, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type bucket struct {
	translations int
	minutes      decimal.Decimal
	credits      decimal.Decimal
}

func (b *bucket) add(e ledger.UsageEntry) {
	b.translations++
	b.minutes = b.minutes.Add(e.DurationMinutes)
	b.credits = b.credits.Add(e.CreditsCharged)
}

// Summarize reports a user's translations over period ("7d", "24h", or a day count).
func (s *Service) Summarize(ctx context.Context, userID, period string) (models.UsageSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.UsageSummary{}, ErrInvalidUser
	}
	if strings.TrimSpace(period) == "" {
		period = DefaultPeriod
	}
	win, err := timeutil.NewWindow(period, s.now(), s.loc)
	if err != nil {
		return models.UsageSummary{}, err
	}
	entries, err := s.store.UsageSince(ctx, userID, win.Start())
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("load usage: %w", err)
	}

	var total bucket
	pairs := map[string]*bucket{}
	modelsUsed := map[string]*bucket{}
	daily := map[int64]*bucket{}
	for _, e := range entries {
		if !win.Contains(e.CreatedAt) {
			continue
		}
		total.add(e)
		addTo(pairs, e.SourceLanguage+"->"+e.TargetLanguage, e)
		addTo(modelsUsed, modelKey(e), e)
		addTo(daily, timeutil.TruncateToDay(e.CreatedAt, win.Location()).Unix(), e)
	}

	return models.UsageSummary{
		UserID:         userID,
		Period:         win.Period(),
		Days:           win.Days(),
		Start:          win.Start().Format(time.RFC3339),
		End:            win.End().Format(time.RFC3339),
		Translations:   total.translations,
		TotalMinutes:   toFloat(total.minutes),
		CreditsUsed:    toFloat(total.credits),
		ByLanguagePair: buckets(pairs),
		ByModel:        buckets(modelsUsed),
		Daily:          buildDailyPoints(win, daily),
	}, nil
}

// SystemSummary reports translations across all users over period, reading at
// most SystemUsageLimit of the newest rows. current is echoed back as the
// active engine configuration.
func (s *Service) SystemSummary(ctx context.Context, period string, current models.ServiceConfig) (models.SystemUsage, error) {
	if strings.TrimSpace(period) == "" {
		period = DefaultPeriod
	}
	win, err := timeutil.NewWindow(period, s.now(), s.loc)
	if err != nil {
		return models.SystemUsage{}, err
	}
	entries, err := s.store.RecentUsage(ctx, win.Start(), SystemUsageLimit)
	if err != nil {
		return models.SystemUsage{}, fmt.Errorf("load recent usage: %w", err)
	}

	var total bucket
	users := map[string]struct{}{}
	modelsUsed := map[string]*bucket{}
	for _, e := range entries {
		if !win.Contains(e.CreatedAt) {
			continue
		}
		total.add(e)
		users[e.UserID] = struct{}{}
		addTo(modelsUsed, modelKey(e), e)
	}

	return models.SystemUsage{
		Period:               win.Period(),
		Start:                win.Start().Format(time.RFC3339),
		End:                  win.End().Format(time.RFC3339),
		TotalTranslations:    total.translations,
		TotalMinutes:         toFloat(total.minutes),
		Users:                len(users),
		ByModel:              buckets(modelsUsed),
		Truncated:            len(entries) >= SystemUsageLimit,
		CurrentConfig:        current,
		AverageCostPerMinute: current.CostPerMinute,
	}, nil
}

func addTo[K comparable](m map[K]*bucket, key K, e ledger.UsageEntry) {
	b, ok := m[key]
	if !ok {
		b = &bucket{}
		m[key] = b
	}
	b.add(e)
}

func modelKey(e ledger.UsageEntry) string {
	switch {
	case e.AudioModel == "" && e.TranslationModel == "":
		return "unknown"
	case e.TranslationModel == "":
		return e.AudioModel
	default:
		return e.AudioModel + "+" + e.TranslationModel
	}
}

// buckets orders by translation count, then key.
func buckets(m map[string]*bucket) []models.UsageBucket {
	out := make([]models.UsageBucket, 0, len(m))
	for key, b := range m {
		out = append(out, models.UsageBucket{Key: key, Translations: b.translations, Minutes: toFloat(b.minutes)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Translations != out[j].Translations {
			return out[i].Translations > out[j].Translations
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// buildDailyPoints emits one point per calendar day in the window, zero-filled.
func buildDailyPoints(win timeutil.Window, daily map[int64]*bucket) []models.UsagePoint {
	loc := win.Location()
	first := timeutil.TruncateToDay(win.Start(), loc)
	last := timeutil.TruncateToDay(win.End(), loc)
	var points []models.UsagePoint
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		p := models.UsagePoint{Date: day.Format(time.RFC3339)}
		if b, ok := daily[day.Unix()]; ok {
			p.Translations = b.translations
			p.Minutes = toFloat(b.minutes)
			p.CreditsUsed = toFloat(b.credits)
		}
		points = append(points, p)
	}
	return points
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(4).Float64()
	return f
}
