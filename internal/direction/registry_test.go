package direction

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_translator/internal/languages"
)

func newTestMirror(t *testing.T, owner string) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewRedisMirror(client, "test:direction", owner), server
}

func TestRecentsAreMRUDedupedAndCapped(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	codes := languages.Codes()
	for i := 0; i < 12; i++ {
		require.NoError(t, r.SetActive(New("en", codes[i])))
	}
	recents := r.Recents()
	require.Len(t, recents, MaxRecents)
	require.Equal(t, New("en", codes[11]), recents[0])

	require.NoError(t, r.SetActive(New("en", codes[5])))
	recents = r.Recents()
	require.Len(t, recents, MaxRecents)
	require.Equal(t, New("en", codes[5]), recents[0])
	seen := map[Direction]bool{}
	for _, d := range recents {
		if seen[d] {
			t.Fatalf("duplicate recent %s", d.Key())
		}
		seen[d] = true
	}
}

func TestSwapReinsertsIntoRecents(t *testing.T) {
	r := NewRegistry(context.Background(), Options{Default: New("en", "tr")})
	require.NoError(t, r.SetActive(New("en", "tr")))

	swapped := r.Swap()
	require.Equal(t, Direction{Source: "tr", Target: "en"}, swapped)
	require.Equal(t, swapped, r.Active())
	require.Equal(t, []Direction{swapped, New("en", "tr")}, r.Recents())
}

func TestSameLanguageAllowed(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	require.NoError(t, r.SetActive(New("en", "en")))
	require.Equal(t, New("en", "en"), r.Active().Swap())
}

func TestSetActiveRejectsUnsupported(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	require.ErrorIs(t, r.SetActive(New("en", "xx")), ErrUnsupportedLanguage)
	require.Equal(t, New("en", "tr"), r.Active())
}

func TestToggleFavorite(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	on, err := r.ToggleFavorite(New("de", "fr"))
	require.NoError(t, err)
	require.True(t, on)
	require.True(t, r.IsFavorite(New("DE", "fr")))

	on, err = r.ToggleFavorite(New("de", "fr"))
	require.NoError(t, err)
	require.False(t, on)
	require.Empty(t, r.Favorites())
}

func TestRedisMirrorRoundTrip(t *testing.T) {
	mirror, server := newTestMirror(t, "user-1")
	r := NewRegistry(context.Background(), Options{Mirror: mirror})
	require.NoError(t, r.SetActive(New("es", "fr")))
	_, err := r.ToggleFavorite(New("en", "ja"))
	require.NoError(t, err)

	require.Equal(t, "es", server.HGet("test:direction:user-1", "source"))
	require.Equal(t, "fr", server.HGet("test:direction:user-1", "target"))

	restored := NewRegistry(context.Background(), Options{Mirror: mirror})
	require.Equal(t, New("es", "fr"), restored.Active())
	require.Equal(t, []Direction{New("es", "fr")}, restored.Recents())
	require.True(t, restored.IsFavorite(New("en", "ja")))
}

func TestRedisMirrorIgnoresUnsupportedStoredCodes(t *testing.T) {
	mirror, server := newTestMirror(t, "user-2")
	server.HSet("test:direction:user-2", "source", "klingon")
	server.HSet("test:direction:user-2", "target", "en")
	server.HSet("test:direction:user-2", "recents", `[{"source":"en","target":"de"},{"source":"xx","target":"en"}]`)

	r := NewRegistry(context.Background(), Options{Mirror: mirror, Default: New("fr", "en")})
	require.Equal(t, New("fr", "en"), r.Active())
	require.Equal(t, []Direction{New("en", "de")}, r.Recents())
}
