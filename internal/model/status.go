package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// PlaceStatus is the published state of a venue.
type PlaceStatus string

const (
	StatusPendingReview   PlaceStatus = "PendingReview"
	StatusOpen            PlaceStatus = "Open"
	StatusNeedsReview     PlaceStatus = "NeedsReview"
	StatusSuspectedClosed PlaceStatus = "SuspectedClosed"
	StatusAlert           PlaceStatus = "Alert"
	StatusClosed          PlaceStatus = "Closed"
)

var placeStatuses = []PlaceStatus{
	StatusPendingReview,
	StatusOpen,
	StatusNeedsReview,
	StatusSuspectedClosed,
	StatusAlert,
	StatusClosed,
}

// ParsePlaceStatus converts a stored value into a PlaceStatus. Unknown values
// are rejected.
func ParsePlaceStatus(s string) (PlaceStatus, error) {
	for _, st := range placeStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", eris.Errorf("model: unknown place status %q", s)
}

// Valid reports whether s is one of the known statuses.
func (s PlaceStatus) Valid() bool {
	_, err := ParsePlaceStatus(string(s))
	return err == nil
}

// NeedsHuman reports whether the status sits in a review queue.
func (s PlaceStatus) NeedsHuman() bool {
	switch s {
	case StatusPendingReview, StatusNeedsReview, StatusAlert, StatusSuspectedClosed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a venue may move from one status to another.
// Closed is sticky: leaving it requires a human resolution.
func CanTransition(from, to PlaceStatus, resolution string) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from == StatusClosed {
		return strings.TrimSpace(resolution) != ""
	}
	if to == StatusPendingReview {
		// PendingReview is an entry state only.
		return false
	}
	return true
}

// ValidationStage records how the current status was derived.
type ValidationStage string

const (
	StageExtracted      ValidationStage = "extracted"
	StageCheapPass      ValidationStage = "cheap_pass"
	StageCheapFail      ValidationStage = "cheap_fail"
	StageSearchFlag     ValidationStage = "search_flag"
	StageLLMFlag        ValidationStage = "llm_flag"
	StageHumanConfirmed ValidationStage = "human_confirmed"
)

var stageRank = map[ValidationStage]int{
	StageExtracted:      0,
	StageCheapPass:      1,
	StageCheapFail:      1,
	StageSearchFlag:     2,
	StageLLMFlag:        3,
	StageHumanConfirmed: 4,
}

// ParseValidationStage converts a stored value into a ValidationStage.
func ParseValidationStage(s string) (ValidationStage, error) {
	st := ValidationStage(s)
	if _, ok := stageRank[st]; !ok {
		return "", eris.Errorf("model: unknown validation stage %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known stages.
func (s ValidationStage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank orders stages along the pipeline. cheap_pass and cheap_fail share a rank.
func (s ValidationStage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// RiskTier is the re-check urgency of a venue.
type RiskTier string

const (
	RiskHigh   RiskTier = "high"
	RiskMedium RiskTier = "medium"
	RiskLow    RiskTier = "low"
)

// ParseRiskTier converts a stored value into a RiskTier.
func ParseRiskTier(s string) (RiskTier, error) {
	switch RiskTier(s) {
	case RiskHigh, RiskMedium, RiskLow:
		return RiskTier(s), nil
	default:
		return "", eris.Errorf("model: unknown risk tier %q", s)
	}
}

// Valid reports whether t is one of the known tiers.
func (t RiskTier) Valid() bool {
	_, err := ParseRiskTier(string(t))
	return err == nil
}
