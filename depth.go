package main

import "fmt"

// depthBands holds two ascending temperature thresholds (°C) and the
// advice for the cold, mid and warm bands.
type depthBands struct {
	low, high float64
	cold      string
	mid       string
	warm      string
}

var speciesDepthBands = map[string]depthBands{
	"perche": {
		low: 10, high: 18,
		cold: "6-10 m : dropshot et leurres souples animés lentement près du fond",
		mid:  "3-6 m : leurres souples et cuillères tournantes en linéaire",
		warm: "0-3 m : micro-crankbaits et petits leurres de surface",
	},
	"brochet": {
		low: 8, high: 16,
		cold: "5-8 m : gros shads et swimbaits en récupération lente",
		mid:  "2-5 m : jerkbaits et spinnerbaits",
		warm: "0-2 m : leurres de surface et stickbaits le long des herbiers",
	},
	"bass": {
		low: 12, high: 20,
		cold: "4-7 m : jigs et texas rig au contact du fond",
		mid:  "1-4 m : crankbaits et senkos",
		warm: "0-1 m : frogs et buzzbaits",
	},
	"sandre": {
		low: 10, high: 18,
		cold: "8-12 m : verticale au leurre souple tête plombée",
		mid:  "4-8 m : shads en linéaire lent près du fond",
		warm: "2-4 m : leurres vibrants en soirée",
	},
}

// Advise returns the depth band advice for a species at the given water
// temperature, or "" if the species has no bands.
func Advise(species string, temperature float64) string {
	b, ok := speciesDepthBands[species]
	if !ok {
		return ""
	}
	advice := b.warm
	switch {
	case temperature < b.low:
		advice = b.cold
	case temperature < b.high:
		advice = b.mid
	}
	return fmt.Sprintf("%s (%.1f°C) : %s", species, temperature, advice)
}
