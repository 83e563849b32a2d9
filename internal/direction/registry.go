// Package direction keeps the active translation pair along with the user's
// recent and favorite pairs.
package direction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ncecere/voice_translator/internal/languages"
)

// MaxRecents caps the recent-directions list.
const MaxRecents = 10

var ErrUnsupportedLanguage = errors.New("direction: unsupported language")

// Direction is an ordered (source, target) language pair.
type Direction struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func New(source, target string) Direction {
	return Direction{Source: languages.Normalize(source), Target: languages.Normalize(target)}
}

// Swap returns the pair with source and target exchanged.
func (d Direction) Swap() Direction {
	return Direction{Source: d.Target, Target: d.Source}
}

func (d Direction) Key() string {
	return d.Source + "->" + d.Target
}

// Validate checks both codes against set.
func (d Direction) Validate(set languages.Set) error {
	if set == nil {
		set = languages.Default
	}
	if !set.Supported(d.Source) || !set.Supported(d.Target) {
		return ErrUnsupportedLanguage
	}
	return nil
}

// State is the persisted form of a registry.
type State struct {
	Active    Direction   `json:"active"`
	Recents   []Direction `json:"recents"`
	Favorites []Direction `json:"favorites"`
}

// Mirror persists registry state between sessions.
type Mirror interface {
	Load(ctx context.Context) (State, bool, error)
	Save(ctx context.Context, state State) error
}

// Registry holds the active direction, recents and favorites.
type Registry struct {
	mu        sync.RWMutex
	active    Direction
	recents   []Direction
	favorites []Direction

	set           languages.Set
	mirror        Mirror
	mirrorTimeout time.Duration
	logger        *slog.Logger
}

type Options struct {
	Default   Direction
	Languages languages.Set
	Mirror    Mirror
	Logger    *slog.Logger
}

// NewRegistry builds a registry, restoring mirrored state when available.
func NewRegistry(ctx context.Context, opts Options) *Registry {
	r := &Registry{
		active:        opts.Default,
		set:           opts.Languages,
		mirror:        opts.Mirror,
		mirrorTimeout: 2 * time.Second,
		logger:        opts.Logger,
	}
	if r.set == nil {
		r.set = languages.Default
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.active == (Direction{}) {
		r.active = New("en", "tr")
	}
	if r.mirror == nil {
		return r
	}

	state, ok, err := r.mirror.Load(ctx)
	if err != nil {
		r.logger.Warn("load direction state failed", slog.String("error", err.Error()))
		return r
	}
	if !ok {
		return r
	}
	if state.Active.Validate(r.set) == nil {
		r.active = state.Active
	}
	for _, d := range state.Recents {
		if d.Validate(r.set) == nil && len(r.recents) < MaxRecents && indexOf(r.recents, d) < 0 {
			r.recents = append(r.recents, d)
		}
	}
	for _, d := range state.Favorites {
		if d.Validate(r.set) == nil && indexOf(r.favorites, d) < 0 {
			r.favorites = append(r.favorites, d)
		}
	}
	return r
}

func (r *Registry) Active() Direction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActive makes d the active direction and moves it to the front of recents.
func (r *Registry) SetActive(d Direction) error {
	d = New(d.Source, d.Target)
	if err := d.Validate(r.set); err != nil {
		return err
	}
	r.mu.Lock()
	r.active = d
	r.recents = pushRecent(r.recents, d)
	state := r.stateLocked()
	r.mu.Unlock()
	r.persist(state)
	return nil
}

// Swap exchanges source and target of the active direction.
func (r *Registry) Swap() Direction {
	r.mu.Lock()
	r.active = r.active.Swap()
	r.recents = pushRecent(r.recents, r.active)
	d := r.active
	state := r.stateLocked()
	r.mu.Unlock()
	r.persist(state)
	return d
}

// Recents returns a copy of the most-recently-used list, newest first.
func (r *Registry) Recents() []Direction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Direction(nil), r.recents...)
}

func (r *Registry) Favorites() []Direction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Direction(nil), r.favorites...)
}

func (r *Registry) IsFavorite(d Direction) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return indexOf(r.favorites, New(d.Source, d.Target)) >= 0
}

// ToggleFavorite adds or removes d and reports whether it is now a favorite.
func (r *Registry) ToggleFavorite(d Direction) (bool, error) {
	d = New(d.Source, d.Target)
	if err := d.Validate(r.set); err != nil {
		return false, err
	}
	r.mu.Lock()
	var now bool
	if i := indexOf(r.favorites, d); i >= 0 {
		r.favorites = append(r.favorites[:i:i], r.favorites[i+1:]...)
	} else {
		r.favorites = append(r.favorites, d)
		now = true
	}
	state := r.stateLocked()
	r.mu.Unlock()
	r.persist(state)
	return now, nil
}

func (r *Registry) stateLocked() State {
	return State{
		Active:    r.active,
		Recents:   append([]Direction(nil), r.recents...),
		Favorites: append([]Direction(nil), r.favorites...),
	}
}

func (r *Registry) persist(state State) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTimeout)
	defer cancel()
	if err := r.mirror.Save(ctx, state); err != nil {
		r.logger.Warn("save direction state failed", slog.String("error", err.Error()))
	}
}

func pushRecent(list []Direction, d Direction) []Direction {
	out := make([]Direction, 0, MaxRecents)
	out = append(out, d)
	for _, existing := range list {
		if existing == d {
			continue
		}
		if len(out) == MaxRecents {
			break
		}
		out = append(out, existing)
	}
	return out
}

func indexOf(list []Direction, d Direction) int {
	for i, existing := range list {
		if existing == d {
			return i
		}
	}
	return -1
}
