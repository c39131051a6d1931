package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	winterDay = time.Date(2026, time.January, 12, 8, 0, 0, 0, time.UTC)
	summerDay = time.Date(2026, time.July, 3, 8, 0, 0, 0, time.UTC)
	autumnDay = time.Date(2026, time.October, 20, 8, 0, 0, 0, time.UTC)
)

// MockSpotRegistry is a mock implementation of SpotRegistry
type MockSpotRegistry struct {
	mock.Mock
}

func (m *MockSpotRegistry) Register(ctx context.Context, spotType string) (bool, error) {
	args := m.Called(ctx, spotType)
	return args.Bool(0), args.Error(1)
}

func (m *MockSpotRegistry) Spots(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func newTestEngine(t *testing.T) (*RuleEngine, *JSONBackend) {
	t.Helper()
	b := newTestJSONBackend(t)
	return NewRuleEngine(b.Spots(), zerolog.Nop()), b
}

func ptr(f float64) *float64 { return &f }

func TestSuggest_PercheWinterPondClouds(t *testing.T) {
	e, _ := newTestEngine(t)

	rec := e.Suggest(context.Background(), SuggestRequest{
		Species:    "perche",
		Structure:  []string{},
		Conditions: []string{"nuages"},
		SpotType:   "étang",
		At:         winterDay,
	})

	assert.Contains(t, rec.LureNames(), "Dropshot")
	assert.Equal(t, LureAdvice{"Dropshot", "animation lente près du fond"}, rec.Lures[0])
	assert.NotNil(t, rec.DepthAdvice)
	assert.Empty(t, rec.DepthAdvice)
}

func TestSuggest_UnknownInputsFallBackToCatchAll(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, at := range []time.Time{winterDay, summerDay, autumnDay} {
		rec := e.Suggest(context.Background(), SuggestRequest{
			Species:     "truite",
			Structure:   []string{"cascade"},
			Conditions:  []string{"brouillard"},
			SpotType:    "lac de montagne",
			Temperature: ptr(12),
			At:          at,
		})
		require.Len(t, rec.Lures, 1)
		assert.Equal(t, catchAllAdvice, rec.Lures[0])
		assert.Empty(t, rec.DepthAdvice)
	}
}

func TestSuggest_EmptyRequestNeverEmpty(t *testing.T) {
	e, b := newTestEngine(t)

	rec := e.Suggest(context.Background(), SuggestRequest{})
	assert.Equal(t, []LureAdvice{catchAllAdvice}, rec.Lures)

	spots, err := b.Spots().Spots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, spots, "blank spot types are not registered")
}

func TestSuggest_TokenMatchingIgnoresSubstrings(t *testing.T) {
	e, _ := newTestEngine(t)

	rec := e.Suggest(context.Background(), SuggestRequest{
		Species:    "perchette",
		Conditions: []string{"nuageux"},
		SpotType:   "étang",
		At:         winterDay,
	})
	assert.Equal(t, []LureAdvice{catchAllAdvice}, rec.Lures)
}

func TestSuggest_SeveralSpeciesInFreeText(t *testing.T) {
	e, _ := newTestEngine(t)

	rec := e.Suggest(context.Background(), SuggestRequest{
		Species:    "Perche et BROCHET",
		Conditions: []string{"nuages"},
		SpotType:   "Étang",
		At:         winterDay,
	})
	assert.Equal(t, []string{"Dropshot", "Leurre souple 5 cm", "Shad 15 cm"}, rec.LureNames())
}

func TestSuggest_FallbackRulesAreSeasonIndependent(t *testing.T) {
	e, _ := newTestEngine(t)

	rec := e.Suggest(context.Background(), SuggestRequest{
		Species:    "perche",
		Structure:  []string{"herbiers denses"},
		Conditions: []string{"trouble"},
		SpotType:   "lac",
		At:         summerDay,
	})
	assert.Equal(t, []string{"Spinnerbait", "Leurre vibrant"}, rec.LureNames())
}

func TestSuggest_DuplicatesArePreserved(t *testing.T) {
	e, _ := newTestEngine(t)

	rec := e.Suggest(context.Background(), SuggestRequest{
		Species:   "perche",
		Structure: []string{"fond"},
		SpotType:  "rivière",
		At:        autumnDay,
	})
	assert.Equal(t, []string{"Dropshot", "Dropshot"}, rec.LureNames())
}

func TestSuggest_DepthAdvicePerMatchedSpecies(t *testing.T) {
	e, _ := newTestEngine(t)

	rec := e.Suggest(context.Background(), SuggestRequest{
		Species:     "perche chevesne sandre",
		SpotType:    "rivière",
		Temperature: ptr(12),
		At:          summerDay,
	})
	require.Len(t, rec.DepthAdvice, 2, "chevesne has no depth bands")
	assert.Contains(t, rec.DepthAdvice[0], "perche")
	assert.Contains(t, rec.DepthAdvice[0], "3-6 m")
	assert.Contains(t, rec.DepthAdvice[1], "sandre")
	assert.Contains(t, rec.DepthAdvice[1], "4-8 m")
}

func TestSuggest_UsesClockWhenNoInstantGiven(t *testing.T) {
	e, _ := newTestEngine(t)
	e.now = func() time.Time { return winterDay }

	rec := e.Suggest(context.Background(), SuggestRequest{
		Species:    "perche",
		Conditions: []string{"nuages"},
		SpotType:   "étang",
	})
	assert.Contains(t, rec.LureNames(), "Dropshot")

	e.now = func() time.Time { return summerDay }
	rec = e.Suggest(context.Background(), SuggestRequest{
		Species:    "perche",
		Conditions: []string{"nuages"},
		SpotType:   "étang",
	})
	assert.NotContains(t, rec.LureNames(), "Dropshot")
}

func TestSuggest_RegistersSpotOnce(t *testing.T) {
	e, b := newTestEngine(t)
	ctx := context.Background()

	for _, spot := range []string{"étang", "Étang ", "étang", "rivière"} {
		e.Suggest(ctx, SuggestRequest{Species: "bass", SpotType: spot, At: summerDay})
	}

	spots, err := b.Spots().Spots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"étang", "rivière"}, spots)
}

func TestSuggest_RegistryFailureDoesNotFail(t *testing.T) {
	reg := new(MockSpotRegistry)
	reg.On("Register", mock.Anything, "rivière").Return(false, errors.New("disk full"))
	e := NewRuleEngine(reg, zerolog.Nop())

	rec := e.Suggest(context.Background(), SuggestRequest{Species: "chevesne", SpotType: "rivière", At: summerDay})

	assert.NotEmpty(t, rec.Lures)
	reg.AssertExpectations(t)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"perche", "et", "brochet"}, tokenize("Perche, et-BROCHET!"))
	assert.Equal(t, []string{"étang"}, tokenize("  Étang "))
	assert.Empty(t, tokenize(""))
}
