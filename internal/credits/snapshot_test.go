package credits

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_translator/internal/models"
)

func snapshotWith(remaining string, version int64) Snapshot {
	return Snapshot{UserID: "user-1", RemainingMinutes: decimal.RequireFromString(remaining), Version: version}
}

func TestFromWire(t *testing.T) {
	sub := "premium"
	expiry := "2027-01-02T03:04:05Z"
	version := int64(7)
	snap, err := FromWire(models.UserCredits{
		UserID:             "user-1",
		RemainingMinutes:   29.967,
		UsedMinutes:        0.033,
		SubscriptionType:   &sub,
		SubscriptionExpiry: &expiry,
		Version:            &version,
	})
	require.NoError(t, err)
	require.True(t, snap.RemainingMinutes.Equal(decimal.RequireFromString("29.967")))
	require.Equal(t, "premium", snap.SubscriptionType)
	require.NotNil(t, snap.SubscriptionExpiry)
	require.Equal(t, int64(7), snap.Version)
	require.True(t, snap.Metered())
}

func TestFromWireRejectsNegativeMeteredBalance(t *testing.T) {
	_, err := FromWire(models.UserCredits{UserID: "u", RemainingMinutes: -1})
	require.ErrorIs(t, err, ErrNegativeBalance)

	snap, err := FromWire(models.UserCredits{UserID: "u", RemainingMinutes: -1, IsUnlimited: true})
	require.NoError(t, err)
	require.False(t, snap.Metered())
}

func TestStorePrefersServerVersion(t *testing.T) {
	s := NewStore()
	early := s.Issue()
	late := s.Issue()

	require.True(t, s.Apply(snapshotWith("10", 5), late))
	// issued earlier but carries a newer server version
	require.True(t, s.Apply(snapshotWith("9", 6), early))
	// issued later but carries an older server version
	require.False(t, s.Apply(snapshotWith("11", 4), s.Issue()))

	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, int64(6), cur.Version)
}

func TestStoreFallsBackToIssueOrder(t *testing.T) {
	s := NewStore()
	first := s.Issue()
	second := s.Issue()

	require.True(t, s.Apply(snapshotWith("20", 0), second))
	require.False(t, s.Apply(snapshotWith("25", 0), first))

	cur, _ := s.Current()
	require.True(t, cur.RemainingMinutes.Equal(decimal.NewFromInt(20)))
}

func TestStorePublishesOnlyAppliedSnapshots(t *testing.T) {
	s := NewStore()
	var got []string
	unsubscribe := s.Subscribe(func(snap Snapshot) { got = append(got, snap.RemainingMinutes.String()) })

	t2 := s.Issue()
	t1 := Ticket(0)
	s.Apply(snapshotWith("3", 0), t2)
	s.Apply(snapshotWith("4", 0), t1)
	unsubscribe()
	s.Apply(snapshotWith("5", 0), s.Issue())

	require.Equal(t, []string{"3"}, got)
}

func TestStoreConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v := int64(i*1000 + j)
				s.Apply(Snapshot{UserID: "u", RemainingMinutes: decimal.NewFromInt(v), UsedMinutes: decimal.NewFromInt(v)}, s.Issue())
				if cur, ok := s.Current(); ok && !cur.RemainingMinutes.Equal(cur.UsedMinutes) {
					t.Errorf("torn snapshot %s/%s", cur.RemainingMinutes, cur.UsedMinutes)
				}
			}
		}(i)
	}
	wg.Wait()
}
