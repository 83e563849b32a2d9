package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_translator/internal/models"
)

func newPricing(t *testing.T, tier string) *Pricing {
	t.Helper()
	p, err := NewPricing(PricingOptions{DefaultTier: tier, BaseCostPerMin: 0.006, Precision: 4, EnablePrompting: true, EnableFallback: true})
	require.NoError(t, err)
	return p
}

func TestChargeByTier(t *testing.T) {
	p := newPricing(t, "premium")
	minutes := decimal.RequireFromString("0.5")

	cases := map[string]string{
		"basic":   "0.5833",
		"premium": "0.5833",
		"ultra":   "0.75",
	}
	for name, want := range cases {
		tier, ok := LookupTier(name)
		require.True(t, ok, name)
		require.Equal(t, want, p.Charge(minutes, tier).String(), name)
	}
}

func TestEstimateMinutesFloor(t *testing.T) {
	require.Equal(t, "0.01", EstimateMinutes(100).String())
	require.Equal(t, "1", EstimateMinutes(88200*60).String())
}

func TestResolveFallsBackToDefault(t *testing.T) {
	p := newPricing(t, "basic")
	require.Equal(t, "basic", p.Resolve("").Name)
	require.Equal(t, "ultra", p.Resolve("ULTRA").Name)
	require.Equal(t, "basic", p.Resolve("platinum").Name)
}

func TestPricingUpdate(t *testing.T) {
	p := newPricing(t, "premium")
	tier := "ultra"
	off := false
	cfg, err := p.Update(models.ServiceConfigUpdate{QualityTier: &tier, EnableFallback: &off})
	require.NoError(t, err)
	require.Equal(t, "ultra", cfg.QualityTier)
	require.Equal(t, ModelGPT4o, cfg.TranslationModel)
	require.InDelta(t, 0.009, cfg.CostPerMinute, 1e-9)
	require.False(t, cfg.EnableFallback)
	require.True(t, cfg.EnablePrompting)

	bad := "platinum"
	_, err = p.Update(models.ServiceConfigUpdate{QualityTier: &bad})
	require.Error(t, err)
	require.Equal(t, "ultra", p.Snapshot().QualityTier)
}

func TestResolvePurchase(t *testing.T) {
	params, err := ResolvePurchase(models.AddCreditsRequest{UserID: "u1", ProductID: "com.voicetranslator.popular", TransactionID: "tx1", Minutes: 5})
	require.NoError(t, err)
	require.Equal(t, "900", params.Minutes.String())
	require.Equal(t, "Popular Pack", params.PackageType)

	params, err = ResolvePurchase(models.AddCreditsRequest{UserID: "u1", ProductID: "com.voicetranslator.unlimited", TransactionID: "tx2"})
	require.NoError(t, err)
	require.True(t, params.Unlimited)

	_, err = ResolvePurchase(models.AddCreditsRequest{UserID: "u1", ProductID: "com.voicetranslator.starter"})
	require.ErrorIs(t, err, ErrInvalidPurchase)
}

func TestResolvePurchaseRejectsUnknownProducts(t *testing.T) {
	cases := map[string]models.AddCreditsRequest{
		"self-granted minutes":   {UserID: "u1", ProductID: "com.attacker.free", TransactionID: "tx1", Minutes: 100000},
		"self-granted unlimited": {UserID: "u1", ProductID: "custom", TransactionID: "tx2", Minutes: -1},
		"missing product":        {UserID: "u1", TransactionID: "tx3", Minutes: 300},
	}
	for name, req := range cases {
		_, err := ResolvePurchase(req)
		require.ErrorIs(t, err, ErrInvalidPurchase, name)
	}
}
