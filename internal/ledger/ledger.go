// Package ledger owns user balances and the idempotent translate+charge record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ncecere/voice_translator/internal/models"
)

var (
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrRequestInFlight      = errors.New("request still processing")
	ErrRequestConflict      = errors.New("request id belongs to another user")
	ErrDuplicateTransaction = errors.New("transaction already applied")
	ErrUnknownRequest       = errors.New("unknown request")
	ErrInvalidPurchase      = errors.New("invalid purchase")
)

// Account is one user's balance row.
type Account struct {
	UserID                string
	RemainingMinutes      decimal.Decimal
	UsedMinutes           decimal.Decimal
	TotalPurchasedMinutes decimal.Decimal
	IsAdmin               bool
	IsPremium             bool
	IsUnlimited           bool
	SubscriptionType      string
	SubscriptionExpiry    *time.Time
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Metered reports whether translations decrement the balance.
func (a Account) Metered() bool {
	return !a.IsAdmin && !a.IsUnlimited
}

// Covers reports whether the account can pay charge.
func (a Account) Covers(charge decimal.Decimal) bool {
	return !a.Metered() || a.RemainingMinutes.GreaterThanOrEqual(charge)
}

// Wire converts the account into the user_credits object.
func (a Account) Wire() models.UserCredits {
	remaining, _ := a.RemainingMinutes.Float64()
	used, _ := a.UsedMinutes.Float64()
	total, _ := a.TotalPurchasedMinutes.Float64()
	version := a.Version
	out := models.UserCredits{
		UserID:                a.UserID,
		IsAdmin:               a.IsAdmin,
		IsPremium:             a.IsPremium,
		IsUnlimited:           a.IsUnlimited,
		RemainingMinutes:      remaining,
		TotalPurchasedMinutes: total,
		UsedMinutes:           used,
		Version:               &version,
	}
	if a.SubscriptionType != "" {
		st := a.SubscriptionType
		out.SubscriptionType = &st
	}
	if a.SubscriptionExpiry != nil {
		exp := a.SubscriptionExpiry.UTC().Format(time.RFC3339)
		out.SubscriptionExpiry = &exp
	}
	return out
}

type RequestStatus string

const (
	StatusInFlight  RequestStatus = "in_flight"
	StatusCompleted RequestStatus = "completed"
	StatusFailed    RequestStatus = "failed"
)

// RequestRecord tracks one logical translation by its idempotency key.
type RequestRecord struct {
	RequestID       string
	UserID          string
	Status          RequestStatus
	SourceLanguage  string
	TargetLanguage  string
	DurationMinutes decimal.Decimal
	CreditsCharged  decimal.Decimal
	Response        []byte
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BeginOutcome tells the caller what to do with a claimed request id.
type BeginOutcome int

const (
	// BeginNew means the caller now owns the request and must complete or fail it.
	BeginNew BeginOutcome = iota + 1
	// BeginReplay means the request already completed; Response holds the stored body.
	BeginReplay
)

type BeginParams struct {
	RequestID       string
	UserID          string
	SourceLanguage  string
	TargetLanguage  string
	DurationMinutes decimal.Decimal
}

type CompleteParams struct {
	RequestID        string
	UserID           string
	Charge           decimal.Decimal
	DurationMinutes  decimal.Decimal
	QualityTier      string
	AudioModel       string
	TranslationModel string
	// Render builds the stored response from the post-charge account. It runs
	// inside the charging transaction.
	Render func(account Account, charged decimal.Decimal) ([]byte, error)
}

type AddCreditsParams struct {
	UserID        string
	ProductID     string
	TransactionID string
	PackageType   string
	Minutes       decimal.Decimal
	Unlimited     bool
}

// UsageEntry is one charged translation.
type UsageEntry struct {
	RequestID        string
	UserID           string
	SourceLanguage   string
	TargetLanguage   string
	DurationMinutes  decimal.Decimal
	CreditsCharged   decimal.Decimal
	QualityTier      string
	AudioModel       string
	TranslationModel string
	CreatedAt        time.Time
}

// Store is the durable ledger.
type Store interface {
	// EnsureAccount returns the account, creating it with the free allowance.
	EnsureAccount(ctx context.Context, userID string) (Account, error)
	// BeginRequest claims a request id. A completed id yields BeginReplay; an
	// id still being processed yields ErrRequestInFlight.
	BeginRequest(ctx context.Context, p BeginParams) (RequestRecord, BeginOutcome, error)
	// CompleteRequest charges the account and stores the response atomically.
	// Completing an already completed request returns the stored response.
	CompleteRequest(ctx context.Context, p CompleteParams) (Account, []byte, error)
	// FailRequest releases an in-flight claim without charging.
	FailRequest(ctx context.Context, requestID, reason string) error
	// AddCredits applies a purchase once per transaction id.
	AddCredits(ctx context.Context, p AddCreditsParams) (Account, error)
	UsageSince(ctx context.Context, userID string, since time.Time) ([]UsageEntry, error)
	// RecentUsage returns up to limit entries across all users created at or
	// after since, newest first.
	RecentUsage(ctx context.Context, since time.Time, limit int) ([]UsageEntry, error)
	Ping(ctx context.Context) error
}

// Policy decides the initial state of new accounts.
type Policy struct {
	FreeMinutes        decimal.Decimal
	UnlimitedMinutes   decimal.Decimal
	AdminUserIDs       map[string]struct{}
	InFlightTimeout    time.Duration
	SubscriptionPeriod time.Duration
	Now                func() time.Time
}

func NewPolicy(freeMinutes, unlimitedMinutes float64, admins []string, inFlight, period time.Duration) Policy {
	set := make(map[string]struct{}, len(admins))
	for _, id := range admins {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	if unlimitedMinutes <= 0 {
		unlimitedMinutes = 999999
	}
	if inFlight <= 0 {
		inFlight = 2 * time.Minute
	}
	if period <= 0 {
		period = 365 * 24 * time.Hour
	}
	return Policy{
		FreeMinutes:        decimal.NewFromFloat(freeMinutes),
		UnlimitedMinutes:   decimal.NewFromFloat(unlimitedMinutes),
		AdminUserIDs:       set,
		InFlightTimeout:    inFlight,
		SubscriptionPeriod: period,
		Now:                time.Now,
	}
}

func (p Policy) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

// NewAccount builds the initial row for userID.
func (p Policy) NewAccount(userID string) Account {
	now := p.now()
	acct := Account{
		UserID:           userID,
		RemainingMinutes: p.FreeMinutes,
		SubscriptionType: "free",
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, ok := p.AdminUserIDs[userID]; ok {
		acct.IsAdmin = true
		acct.IsUnlimited = true
		acct.RemainingMinutes = p.UnlimitedMinutes
		acct.TotalPurchasedMinutes = p.UnlimitedMinutes
		acct.SubscriptionType = "unlimited"
	}
	return acct
}

// ApplyPurchase mutates acct for a purchase.
func (p Policy) ApplyPurchase(acct *Account, params AddCreditsParams) {
	now := p.now()
	acct.IsPremium = true
	if params.Unlimited {
		acct.IsUnlimited = true
		acct.RemainingMinutes = p.UnlimitedMinutes
		acct.TotalPurchasedMinutes = acct.TotalPurchasedMinutes.Add(p.UnlimitedMinutes)
		acct.SubscriptionType = "unlimited"
		acct.SubscriptionExpiry = nil
	} else {
		acct.RemainingMinutes = acct.RemainingMinutes.Add(params.Minutes)
		acct.TotalPurchasedMinutes = acct.TotalPurchasedMinutes.Add(params.Minutes)
		if !acct.IsUnlimited {
			acct.SubscriptionType = "premium"
			expiry := now.Add(p.SubscriptionPeriod)
			acct.SubscriptionExpiry = &expiry
		}
	}
	acct.Version++
	acct.UpdatedAt = now
}

// ResolvePurchase validates an add-credits request against the package catalog.
// Only catalog products are accepted and the granted minutes come from the
// catalog; the minutes echoed by the client are ignored.
func ResolvePurchase(req models.AddCreditsRequest) (AddCreditsParams, error) {
	params := AddCreditsParams{
		UserID:        strings.TrimSpace(req.UserID),
		ProductID:     strings.TrimSpace(req.ProductID),
		TransactionID: strings.TrimSpace(req.TransactionID),
		PackageType:   strings.TrimSpace(req.PackageType),
	}
	if params.UserID == "" || params.TransactionID == "" {
		return params, ErrInvalidPurchase
	}
	pkg, ok := LookupPackage(params.ProductID)
	if !ok {
		return params, fmt.Errorf("%w: unknown product id %q", ErrInvalidPurchase, params.ProductID)
	}
	if params.PackageType == "" {
		params.PackageType = pkg.Name
	}
	if pkg.Minutes == -1 {
		params.Unlimited = true
	} else {
		params.Minutes = decimal.NewFromInt(pkg.Minutes)
	}
	return params, nil
}
