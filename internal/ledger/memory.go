package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is a process-local Store used for development and tests.
type MemoryStore struct {
	policy Policy

	mu        sync.Mutex
	accounts  map[string]*Account
	requests  map[string]*RequestRecord
	purchases map[string]string
	usage     map[string][]UsageEntry
}

func NewMemoryStore(policy Policy) *MemoryStore {
	return &MemoryStore{
		policy:    policy,
		accounts:  make(map[string]*Account),
		requests:  make(map[string]*RequestRecord),
		purchases: make(map[string]string),
		usage:     make(map[string][]UsageEntry),
	}
}

func (s *MemoryStore) account(userID string) *Account {
	acct, ok := s.accounts[userID]
	if !ok {
		fresh := s.policy.NewAccount(userID)
		acct = &fresh
		s.accounts[userID] = acct
	}
	return acct
}

func (s *MemoryStore) EnsureAccount(_ context.Context, userID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.account(userID), nil
}

func (s *MemoryStore) BeginRequest(_ context.Context, p BeginParams) (RequestRecord, BeginOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.policy.now()
	if rec, ok := s.requests[p.RequestID]; ok {
		if rec.UserID != p.UserID {
			return RequestRecord{}, 0, ErrRequestConflict
		}
		switch {
		case rec.Status == StatusCompleted:
			return *rec, BeginReplay, nil
		case rec.Status == StatusInFlight && now.Sub(rec.UpdatedAt) < s.policy.InFlightTimeout:
			return *rec, 0, ErrRequestInFlight
		}
		rec.Status = StatusInFlight
		rec.Error = ""
		rec.UpdatedAt = now
		return *rec, BeginNew, nil
	}
	rec := &RequestRecord{
		RequestID:       p.RequestID,
		UserID:          p.UserID,
		Status:          StatusInFlight,
		SourceLanguage:  p.SourceLanguage,
		TargetLanguage:  p.TargetLanguage,
		DurationMinutes: p.DurationMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.requests[p.RequestID] = rec
	return *rec, BeginNew, nil
}

func (s *MemoryStore) CompleteRequest(_ context.Context, p CompleteParams) (Account, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.requests[p.RequestID]
	if !ok {
		return Account{}, nil, ErrUnknownRequest
	}
	if rec.UserID != p.UserID {
		return Account{}, nil, ErrRequestConflict
	}
	acct := s.account(p.UserID)
	if rec.Status == StatusCompleted {
		return *acct, rec.Response, nil
	}
	if !acct.Covers(p.Charge) {
		return *acct, nil, ErrInsufficientCredits
	}

	next := *acct
	charged := decimal.Zero
	if next.Metered() {
		charged = p.Charge
		next.RemainingMinutes = next.RemainingMinutes.Sub(p.Charge)
	}
	next.UsedMinutes = next.UsedMinutes.Add(p.DurationMinutes)
	next.Version++
	next.UpdatedAt = s.policy.now()

	var body []byte
	if p.Render != nil {
		var err error
		if body, err = p.Render(next, charged); err != nil {
			return *acct, nil, fmt.Errorf("render response: %w", err)
		}
	}

	*acct = next
	rec.Status = StatusCompleted
	rec.CreditsCharged = charged
	rec.DurationMinutes = p.DurationMinutes
	rec.Response = body
	rec.UpdatedAt = next.UpdatedAt
	s.usage[p.UserID] = append(s.usage[p.UserID], UsageEntry{
		RequestID:        p.RequestID,
		UserID:           p.UserID,
		SourceLanguage:   rec.SourceLanguage,
		TargetLanguage:   rec.TargetLanguage,
		DurationMinutes:  p.DurationMinutes,
		CreditsCharged:   charged,
		QualityTier:      p.QualityTier,
		AudioModel:       p.AudioModel,
		TranslationModel: p.TranslationModel,
		CreatedAt:        next.UpdatedAt,
	})
	return next, body, nil
}

func (s *MemoryStore) FailRequest(_ context.Context, requestID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if rec.Status == StatusCompleted {
		return nil
	}
	rec.Status = StatusFailed
	rec.Error = reason
	rec.UpdatedAt = s.policy.now()
	return nil
}

func (s *MemoryStore) AddCredits(_ context.Context, p AddCreditsParams) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(p.UserID)
	if owner, ok := s.purchases[p.TransactionID]; ok {
		if owner != p.UserID {
			return Account{}, ErrRequestConflict
		}
		return *acct, ErrDuplicateTransaction
	}
	s.policy.ApplyPurchase(acct, p)
	s.purchases[p.TransactionID] = p.UserID
	return *acct, nil
}

func (s *MemoryStore) UsageSince(_ context.Context, userID string, since time.Time) ([]UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []UsageEntry
	for _, e := range s.usage[userID] {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecentUsage(_ context.Context, since time.Time, limit int) ([]UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []UsageEntry
	for _, entries := range s.usage {
		for _, e := range entries {
			if !e.CreatedAt.Before(since) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Request returns a copy of the stored record.
func (s *MemoryStore) Request(requestID string) (RequestRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[requestID]
	if !ok {
		return RequestRecord{}, false
	}
	return *rec, true
}
