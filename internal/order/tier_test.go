package order

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fatfinger/internal/model"
)

func TestBuyPrice(t *testing.T) {
	testCases := []struct {
		last     string
		discount float64
		places   int32
		want     string
	}{
		{"50000", 15, 8, "42500"},
		{"2000", 15, 8, "1700"},
		{"0.5", 10, 8, "0.45"},
		{"0.123456789", 15, 4, "0.1049"},
	}
	for _, tc := range testCases {
		got := BuyPrice(d(tc.last), tc.discount, tc.places)
		assert.True(t, got.Equal(d(tc.want)), "%s -%v%%: got %s", tc.last, tc.discount, got)
	}
}

func TestTierPrice(t *testing.T) {
	entry := d("42500")
	for i, want := range []string{"44625", "46750", "48875"} {
		got := TierPrice(entry, model.DefaultTierPlan()[i].ProfitPercent, 8)
		assert.True(t, got.Equal(d(want)), "tier %d: got %s", i, got)
	}
	assert.True(t, TierPrice(d("0.3"), 5, 2).Equal(d("0.32")))
}

func TestSplitTiersDustGoesToLastTier(t *testing.T) {
	parts := SplitTiers(d("0.00000001"), model.DefaultTierPlan(), 8)
	assert.Len(t, parts, 3)
	assert.True(t, parts[0].IsZero())
	assert.True(t, parts[1].IsZero())
	assert.True(t, parts[2].Equal(d("0.00000001")))

	assert.Empty(t, SplitTiers(d("1"), nil, 8))
}
