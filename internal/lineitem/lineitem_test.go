package lineitem

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sorted(items []Item) []Item {
	out := append([]Item(nil), items...)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductName < out[j].ProductName })
	return out
}

func aggregate(t *testing.T, items []Item) []Item {
	t.Helper()
	out, err := Aggregate(items)
	require.NoError(t, err)
	return out
}

func TestAggregateMergesByName(t *testing.T) {
	got := aggregate(t, []Item{{"kale", 5}, {"spinach", 2}, {"kale", 3}})
	assert.Equal(t, []Item{{"kale", 8}, {"spinach", 2}}, got)
}

func TestAggregateKeepsZeroQuantities(t *testing.T) {
	got := aggregate(t, []Item{{"kale", 0}, {"kale", 0}, {"beet", 1}})
	assert.Equal(t, []Item{{"kale", 0}, {"beet", 1}}, got)
}

func TestAggregateIsPermutationInvariant(t *testing.T) {
	input := []Item{{"kale", 5}, {"beet", 1}, {"kale", 3}, {"chard", 0}, {"beet", 9}, {" kale ", 2}}
	want := sorted(aggregate(t, input))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Item(nil), input...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, sorted(aggregate(t, shuffled)))
	}
}

func TestAggregateIsFixedPoint(t *testing.T) {
	once := aggregate(t, []Item{{"kale", 5}, {"kale", 3}, {"beet", 4}})
	assert.Equal(t, once, aggregate(t, once))
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, aggregate(t, nil))
}

func TestAggregateRejectsOverflow(t *testing.T) {
	_, err := Aggregate([]Item{{"kale", math.MaxInt64}, {"kale", math.MaxInt64}, {"kale", 2}})
	require.ErrorIs(t, err, ErrOverflow)
	assert.Contains(t, err.Error(), `"kale"`)

	_, err = Aggregate([]Item{{"kale", math.MinInt64}, {"kale", -1}})
	require.ErrorIs(t, err, ErrOverflow)

	got := aggregate(t, []Item{{"kale", math.MaxInt64 - 1}, {"kale", 1}})
	assert.Equal(t, []Item{{"kale", math.MaxInt64}}, got)
}

func TestParseList(t *testing.T) {
	items, err := ParseList(" 5 kale; 3 swiss chard ;; ")
	require.NoError(t, err)
	assert.Equal(t, []Item{{"kale", 5}, {"swiss chard", 3}}, items)

	items, err = ParseList("")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseListRejectsMalformedEntries(t *testing.T) {
	for _, raw := range []string{"kale", "five kale", "-2 kale", "5"} {
		_, err := ParseList(raw)
		assert.Error(t, err, raw)
	}
}

func TestFormatListRoundTrip(t *testing.T) {
	items := []Item{{"kale", 8}, {"swiss chard", 0}}
	parsed, err := ParseList(FormatList(items))
	require.NoError(t, err)
	assert.Equal(t, items, parsed)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"kale", "beet"}, Names([]Item{{"kale", 1}, {"beet", 2}, {"kale", 3}}))
}
