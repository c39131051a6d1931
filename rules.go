package main

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// LureAdvice is one (lure, technique) suggestion.
type LureAdvice struct {
	Lure      string `json:"lure"`
	Technique string `json:"technique"`
}

// Recommendation is computed per request and never stored.
type Recommendation struct {
	Lures       []LureAdvice `json:"lures"`
	DepthAdvice []string     `json:"depthAdvice"`
}

// LureNames returns the lure of every suggestion, in order.
func (r Recommendation) LureNames() []string {
	names := make([]string, len(r.Lures))
	for i, l := range r.Lures {
		names[i] = l.Lure
	}
	return names
}

// SuggestRequest carries the context of a recommendation. At selects the
// instant used for the season; zero means the engine's clock.
type SuggestRequest struct {
	Species     string
	Structure   []string
	Conditions  []string
	SpotType    string
	Temperature *float64
	At          time.Time
}

// rule matches when every non-empty field matches. Empty means any.
type rule struct {
	season    Season
	spot      string
	condition string
	advice    LureAdvice
}

func (r rule) matches(season Season, spot string, conditions map[string]bool) bool {
	if r.season != "" && r.season != season {
		return false
	}
	if r.spot != "" && r.spot != spot {
		return false
	}
	if r.condition != "" && !conditions[r.condition] {
		return false
	}
	return true
}

// speciesVocabulary is the evaluation order when several species match.
var speciesVocabulary = []string{"perche", "brochet", "bass", "chevesne", "sandre"}

var speciesRules = map[string][]rule{
	"perche": {
		{Winter, "étang", "nuages", LureAdvice{"Dropshot", "animation lente près du fond"}},
		{Winter, "", "", LureAdvice{"Leurre souple 5 cm", "tête plombée légère, pauses longues"}},
		{Spring, "", "soleil", LureAdvice{"Cuillère tournante n°2", "récupération régulière le long des bordures"}},
		{Spring, "rivière", "", LureAdvice{"Micro-crankbait", "lancer en amont des obstacles"}},
		{Summer, "étang", "soleil", LureAdvice{"Petit popper", "en surface tôt le matin"}},
		{Summer, "", "nuages", LureAdvice{"Leurre souple 5 cm", "linéaire à mi-profondeur"}},
		{Autumn, "", "", LureAdvice{"Dropshot", "sur les chasses et les tombants"}},
		{Autumn, "", "trouble", LureAdvice{"Spinnerbait", "couleurs vives, récupération lente"}},
	},
	"brochet": {
		{Winter, "", "", LureAdvice{"Shad 15 cm", "animation lente près du fond"}},
		{Spring, "étang", "nuages", LureAdvice{"Spinnerbait", "le long des herbiers naissants"}},
		{Spring, "", "soleil", LureAdvice{"Jerk-Minnow", "twitchs et longues pauses"}},
		{Summer, "", "soleil", LureAdvice{"Stickbait", "marche du chien en surface"}},
		{Summer, "étang", "", LureAdvice{"Cuillère ondulante", "au-dessus des herbiers"}},
		{Autumn, "rivière", "pluie", LureAdvice{"Jerk-Minnow", "dans les contre-courants"}},
		{Autumn, "", "trouble", LureAdvice{"Swimbait", "couleurs contrastées, linéaire lent"}},
	},
	"bass": {
		{Spring, "étang", "soleil", LureAdvice{"Senko", "montage wacky près des frayères"}},
		{Spring, "", "nuages", LureAdvice{"Spinnerbait", "le long des bordures"}},
		{Summer, "", "soleil", LureAdvice{"Frog", "sur les nénuphars et herbiers"}},
		{Summer, "", "nuages", LureAdvice{"Buzzbait", "en surface, récupération continue"}},
		{Autumn, "", "", LureAdvice{"Crankbait", "en prospection rapide"}},
		{Winter, "", "", LureAdvice{"Jig", "au contact du fond, très lentement"}},
	},
	"chevesne": {
		{Spring, "rivière", "", LureAdvice{"Insecte artificiel", "dérive naturelle sous les branches"}},
		{Summer, "rivière", "soleil", LureAdvice{"Cuillère tournante n°1", "lancer en aval, récupération rapide"}},
		{Summer, "", "clair", LureAdvice{"Petit poisson nageur", "animation erratique"}},
		{Autumn, "rivière", "", LureAdvice{"Cuillère tournante n°2", "dans les veines d'eau"}},
	},
	"sandre": {
		{Winter, "rivière", "trouble", LureAdvice{"Leurre souple tête plombée", "pêche verticale"}},
		{Winter, "", "", LureAdvice{"Shad 10 cm", "gratté sur le fond"}},
		{Spring, "", "nuages", LureAdvice{"Leurre vibrant", "linéaire lent en soirée"}},
		{Summer, "", "", LureAdvice{"Shad 10 cm", "à la tombée de la nuit"}},
		{Autumn, "", "nuages", LureAdvice{"Shad 10 cm", "linéaire lent près du fond"}},
	},
}

// tokenRule adds advice when token appears in the request's structure or
// conditions.
type tokenRule struct {
	token  string
	advice LureAdvice
}

// fallbackGroup is season-independent guidance shared by a group of
// species.
type fallbackGroup struct {
	name       string
	species    []string
	structure  []tokenRule
	conditions []tokenRule
}

var fallbackGroups = []fallbackGroup{
	{
		name:    "carnassiers",
		species: []string{"perche", "brochet", "bass", "sandre"},
		structure: []tokenRule{
			{"herbiers", LureAdvice{"Spinnerbait", "longer la bordure des herbiers"}},
			{"bois", LureAdvice{"Texas rig", "au contact des branches immergées"}},
			{"rochers", LureAdvice{"Crankbait", "taper les enrochements"}},
			{"fond", LureAdvice{"Dropshot", "posé sur le fond"}},
			{"pont", LureAdvice{"Leurre souple", "le long des piles de pont"}},
		},
		conditions: []tokenRule{
			{"trouble", LureAdvice{"Leurre vibrant", "couleurs vives ou fluo"}},
			{"clair", LureAdvice{"Leurre souple", "couleurs naturelles, bas de ligne fin"}},
			{"vent", LureAdvice{"Spinnerbait", "sur la rive exposée au vent"}},
		},
	},
	{
		name:    "cyprinidés",
		species: []string{"chevesne"},
		structure: []tokenRule{
			{"courant", LureAdvice{"Cuillère tournante", "dans la veine de courant"}},
			{"branches", LureAdvice{"Insecte artificiel", "sous les branches en surplomb"}},
		},
		conditions: []tokenRule{
			{"soleil", LureAdvice{"Insecte de surface", "dérive naturelle"}},
		},
	},
}

var catchAllAdvice = LureAdvice{"Leurre souple polyvalent", "prospecter en linéaire à mi-profondeur"}

// RuleEngine evaluates the rule tables. The season comes from the
// request instant, or from the engine clock when the request has none,
// so results depend on when they are asked for.
type RuleEngine struct {
	spots  SpotRegistry
	now    func() time.Time
	logger zerolog.Logger
}

func NewRuleEngine(spots SpotRegistry, logger zerolog.Logger) *RuleEngine {
	return &RuleEngine{
		spots:  spots,
		now:    time.Now,
		logger: logger.With().Str("component", "rules").Logger(),
	}
}

// Suggest computes a recommendation. It never fails: unknown inputs fall
// through to the catch-all. The spot type is registered as a side effect.
func (e *RuleEngine) Suggest(ctx context.Context, req SuggestRequest) Recommendation {
	at := req.At
	if at.IsZero() {
		at = e.now()
	}
	season := SeasonAt(at)
	spot := normalizeToken(req.SpotType)
	speciesTokens := tokenSet(req.Species)
	structure := tokenSet(req.Structure...)
	conditions := tokenSet(req.Conditions...)

	rec := Recommendation{Lures: []LureAdvice{}, DepthAdvice: []string{}}

	var matched []string
	for _, sp := range speciesVocabulary {
		if speciesTokens[sp] {
			matched = append(matched, sp)
		}
	}

	for _, sp := range matched {
		for _, r := range speciesRules[sp] {
			if r.matches(season, spot, conditions) {
				rec.Lures = append(rec.Lures, r.advice)
				ruleMatches.WithLabelValues(sp).Inc()
			}
		}
	}

	for _, g := range fallbackGroups {
		if !anyIn(matched, g.species) {
			continue
		}
		for _, r := range g.structure {
			if structure[r.token] {
				rec.Lures = append(rec.Lures, r.advice)
				ruleMatches.WithLabelValues(g.name).Inc()
			}
		}
		for _, r := range g.conditions {
			if conditions[r.token] {
				rec.Lures = append(rec.Lures, r.advice)
				ruleMatches.WithLabelValues(g.name).Inc()
			}
		}
	}

	if len(rec.Lures) == 0 {
		rec.Lures = append(rec.Lures, catchAllAdvice)
		ruleMatches.WithLabelValues("catchall").Inc()
	}

	if req.Temperature != nil {
		for _, sp := range matched {
			if advice := Advise(sp, *req.Temperature); advice != "" {
				rec.DepthAdvice = append(rec.DepthAdvice, advice)
			}
		}
	}

	e.registerSpot(ctx, spot)
	suggestionsTotal.Inc()

	e.logger.Debug().
		Str("season", string(season)).
		Strs("species", matched).
		Str("spot", spot).
		Int("lures", len(rec.Lures)).
		Msg("suggestion computed")
	return rec
}

// registerSpot records the spot type. Failures are logged only; a
// recommendation is never withheld because the registry is unavailable.
func (e *RuleEngine) registerSpot(ctx context.Context, spot string) {
	if spot == "" || e.spots == nil {
		return
	}
	added, err := e.spots.Register(ctx, spot)
	if err != nil {
		e.logger.Warn().Err(err).Str("spot", spot).Msg("spot registration failed")
		return
	}
	if added {
		e.logger.Info().Str("spot", spot).Msg("new spot type registered")
	}
}

// tokenize lower-cases s and splits it on anything that is not a letter
// or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenSet(items ...string) map[string]bool {
	set := make(map[string]bool)
	for _, item := range items {
		for _, tok := range tokenize(item) {
			set[tok] = true
		}
	}
	return set
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func anyIn(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
