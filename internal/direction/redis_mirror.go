package direction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMirror stores one owner's registry state in a redis hash. The source
// and target codes are kept as plain fields so other tools can read them.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(client *redis.Client, prefix, owner string) *RedisMirror {
	if prefix == "" {
		prefix = "translator:direction"
	}
	return &RedisMirror{client: client, key: prefix + ":" + owner}
}

func (m *RedisMirror) Load(ctx context.Context) (State, bool, error) {
	if m == nil || m.client == nil {
		return State{}, false, nil
	}
	fields, err := m.client.HGetAll(ctx, m.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("load direction: %w", err)
	}
	if len(fields) == 0 {
		return State{}, false, nil
	}
	state := State{Active: Direction{Source: fields["source"], Target: fields["target"]}}
	if raw := fields["recents"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Recents); err != nil {
			return State{}, false, fmt.Errorf("decode recents: %w", err)
		}
	}
	if raw := fields["favorites"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Favorites); err != nil {
			return State{}, false, fmt.Errorf("decode favorites: %w", err)
		}
	}
	return state, true, nil
}

func (m *RedisMirror) Save(ctx context.Context, state State) error {
	if m == nil || m.client == nil {
		return nil
	}
	recents, err := json.Marshal(state.Recents)
	if err != nil {
		return err
	}
	favorites, err := json.Marshal(state.Favorites)
	if err != nil {
		return err
	}
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, m.key,
			"source", state.Active.Source,
			"target", state.Active.Target,
			"recents", string(recents),
			"favorites", string(favorites),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save direction: %w", err)
	}
	return nil
}
