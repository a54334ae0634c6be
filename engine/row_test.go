package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/engine"
)

// =============================================================================
// AMOUNT PARSING TESTS
// =============================================================================

func TestParseAmount_Formats(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"2000", "2000"},
		{"1234.56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"$1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"1,5", "1.5"},
		{"1,500", "1500"},       // lone comma with three trailing digits groups
		{"1.234", "1.234"},      // lone dot stays the decimal point
		{"12.345", "12.345"},
		{"€ 2.000,00", "2000"},  // european grouping
		{" 42 ", "42"},
		{"-150", "-150"},
	}

	for _, c := range cases {
		got, err := engine.ParseAmount(c.raw)
		require.NoError(t, err, "raw=%q", c.raw)
		assert.True(t, got.Equal(dec(c.want)), "raw=%q: got %s want %s", c.raw, got, c.want)
	}
}

func TestParseAmount_Garbage_Rejected(t *testing.T) {
	for _, raw := range []string{"", "   ", "abc", "-", "n/a"} {
		_, err := engine.ParseAmount(raw)
		assert.ErrorIs(t, err, engine.ErrUnparsableAmount, "raw=%q", raw)
	}
}

// =============================================================================
// LABEL NORMALIZATION TESTS
// =============================================================================

func TestNormalizeLabel_Equivalence(t *testing.T) {
	// GIVEN: Label variants differing only in case and whitespace
	// THEN: All normalize to the same handle

	variants := []string{"Alice Smith", "  alice   smith ", "ALICE\tSMITH", "alice smith"}
	for _, v := range variants {
		assert.Equal(t, "alice smith", engine.NormalizeLabel(v), "variant=%q", v)
	}

	assert.Equal(t, "", engine.NormalizeLabel("   "))
}

// =============================================================================
// MILESTONE TRIGGER TESTS
// =============================================================================

func TestRow_Achieved_ExactTriggersOnly(t *testing.T) {
	// GIVEN: A row where only some cells carry the exact trigger value
	// WHEN: Reading the achieved set
	// THEN: "yes", "1", "149" and empty cells do NOT count

	row := engine.Row{
		Milestones: map[engine.MilestoneKind]string{
			engine.MilestoneS: "150",
			engine.MilestoneN: "yes",
			engine.MilestoneO: " 1000 ", // trimmed before comparison
			engine.MilestoneP: "239",
		},
	}

	got := row.Achieved()
	assert.True(t, got[engine.MilestoneS])
	assert.False(t, got[engine.MilestoneN])
	assert.True(t, got[engine.MilestoneO])
	assert.False(t, got[engine.MilestoneP])
}

func TestRow_Achieved_NilMilestones(t *testing.T) {
	row := engine.Row{}
	assert.Empty(t, row.Achieved())
}

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestParsePeriod(t *testing.T) {
	p, err := engine.ParsePeriod("202508")
	require.NoError(t, err)
	assert.Equal(t, engine.Period("202508"), p)

	for _, raw := range []string{"", "2025", "20258", "202513", "202500", "abcdef", "2025-08"} {
		_, err := engine.ParsePeriod(raw)
		assert.ErrorIs(t, err, engine.ErrInvalidPeriod, "raw=%q", raw)
	}
}

// =============================================================================
// BONUS KEY TESTS
// =============================================================================

func TestBonusKey_Deterministic(t *testing.T) {
	// GIVEN: The same (manager, period, type, context)
	// THEN: The key is identical across calls; any component change alters it

	a := engine.BonusKey("m1", "202508", engine.BonusMilestoneS, "c1")
	b := engine.BonusKey("m1", "202508", engine.BonusMilestoneS, "c1")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, engine.BonusKey("m2", "202508", engine.BonusMilestoneS, "c1"))
	assert.NotEqual(t, a, engine.BonusKey("m1", "202509", engine.BonusMilestoneS, "c1"))
	assert.NotEqual(t, a, engine.BonusKey("m1", "202508", engine.BonusMilestoneN, "c1"))
	assert.NotEqual(t, a, engine.BonusKey("m1", "202508", engine.BonusMilestoneS, "c2"))
}

func TestDownlineRate(t *testing.T) {
	for level, want := range map[engine.DownlineLevel]string{
		engine.LevelA: "0.1",
		engine.LevelB: "0.075",
		engine.LevelC: "0.05",
	} {
		rate, err := engine.DownlineRate(level)
		require.NoError(t, err)
		assert.True(t, rate.Equal(dec(want)), "level=%s", level)
	}

	_, err := engine.DownlineRate("D")
	assert.ErrorIs(t, err, engine.ErrInvalidLevel)
}
