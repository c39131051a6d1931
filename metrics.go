package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	suggestionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lure_advisor_suggestions_total",
			Help: "Total number of lure recommendations computed",
		},
	)

	ruleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lure_advisor_rule_matches_total",
			Help: "Rule matches by species group (catchall when nothing matched)",
		},
		[]string{"group"},
	)

	sessionsLogged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lure_advisor_sessions_logged_total",
			Help: "Total number of fishing sessions appended to the log",
		},
	)

	patternsPromoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lure_advisor_patterns_promoted_total",
			Help: "Total number of session patterns promoted to learned knowledge",
		},
	)

	storeWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lure_advisor_store_write_errors_total",
			Help: "Failed writes to a durable collection",
		},
		[]string{"store"},
	)
)
