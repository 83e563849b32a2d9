// Package credits holds the client's read-only copy of the user's balance.
package credits

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ncecere/voice_translator/internal/models"
)

// Snapshot is an immutable copy of the ledger's view of one user.
type Snapshot struct {
	UserID                string
	RemainingMinutes      decimal.Decimal
	UsedMinutes           decimal.Decimal
	TotalPurchasedMinutes decimal.Decimal
	IsUnlimited           bool
	IsAdmin               bool
	IsPremium             bool
	SubscriptionType      string
	SubscriptionExpiry    *time.Time
	// Version is the server's monotonically increasing account version; zero
	// when the server did not report one.
	Version int64
}

var ErrNegativeBalance = errors.New("credits: remaining minutes below zero")

// Validate enforces the non-negative balance rule for metered accounts.
func (s Snapshot) Validate() error {
	if s.IsUnlimited || s.IsAdmin {
		return nil
	}
	if s.RemainingMinutes.IsNegative() {
		return ErrNegativeBalance
	}
	return nil
}

// Metered reports whether translations decrement this account.
func (s Snapshot) Metered() bool {
	return !s.IsUnlimited && !s.IsAdmin
}

// FromWire converts the backend's user_credits object.
func FromWire(w models.UserCredits) (Snapshot, error) {
	snap := Snapshot{
		UserID:                w.UserID,
		RemainingMinutes:      decimal.NewFromFloat(w.RemainingMinutes),
		UsedMinutes:           decimal.NewFromFloat(w.UsedMinutes),
		TotalPurchasedMinutes: decimal.NewFromFloat(w.TotalPurchasedMinutes),
		IsUnlimited:           w.IsUnlimited,
		IsAdmin:               w.IsAdmin,
		IsPremium:             w.IsPremium,
	}
	if w.SubscriptionType != nil {
		snap.SubscriptionType = *w.SubscriptionType
	}
	if w.SubscriptionExpiry != nil && *w.SubscriptionExpiry != "" {
		ts, err := time.Parse(time.RFC3339, *w.SubscriptionExpiry)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse subscription_expiry: %w", err)
		}
		snap.SubscriptionExpiry = &ts
	}
	if w.Version != nil {
		snap.Version = *w.Version
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Ticket orders snapshot writes by the moment their network call started.
type Ticket uint64

type entry struct {
	snap   Snapshot
	ticket Ticket
}

// Store is the single writer-protected holder of the current snapshot.
// Readers never block and never see a partially written value.
type Store struct {
	current atomic.Pointer[entry]
	issued  atomic.Uint64

	mu   sync.Mutex
	next int
	subs map[int]func(Snapshot)
}

func NewStore() *Store {
	return &Store{}
}

// Issue returns a ticket; take it before the network call whose result will be applied.
func (s *Store) Issue() Ticket {
	return Ticket(s.issued.Add(1))
}

// Current returns the latest snapshot and whether one has been applied.
func (s *Store) Current() (Snapshot, bool) {
	e := s.current.Load()
	if e == nil {
		return Snapshot{}, false
	}
	return e.snap, true
}

// Apply installs snap unless the stored value is newer. Server versions decide
// when both sides carry one; otherwise the later-issued ticket wins.
func (s *Store) Apply(snap Snapshot, ticket Ticket) bool {
	next := &entry{snap: snap, ticket: ticket}
	for {
		prev := s.current.Load()
		if prev != nil && !newer(next, prev) {
			return false
		}
		if s.current.CompareAndSwap(prev, next) {
			break
		}
	}
	s.publish(snap)
	return true
}

func newer(next, prev *entry) bool {
	if prev.snap.UserID != "" && next.snap.UserID != "" && prev.snap.UserID != next.snap.UserID {
		return true
	}
	if next.snap.Version > 0 && prev.snap.Version > 0 && next.snap.Version != prev.snap.Version {
		return next.snap.Version > prev.snap.Version
	}
	return next.ticket >= prev.ticket
}

// Subscribe registers fn for snapshot-changed events.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(Snapshot))
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) publish(snap Snapshot) {
	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
