package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlaceStatus(t *testing.T) {
	for _, s := range []string{"PendingReview", "Open", "NeedsReview", "SuspectedClosed", "Alert", "Closed"} {
		st, err := ParsePlaceStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(st))
	}

	_, err := ParsePlaceStatus("open")
	assert.Error(t, err)
	_, err = ParsePlaceStatus("")
	assert.Error(t, err)
}

func TestParseValidationStage(t *testing.T) {
	st, err := ParseValidationStage("cheap_pass")
	require.NoError(t, err)
	assert.Equal(t, StageCheapPass, st)

	_, err = ParseValidationStage("cheap")
	assert.Error(t, err)
}

func TestParseRiskTier(t *testing.T) {
	tier, err := ParseRiskTier("high")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, tier)

	_, err = ParseRiskTier("HIGH")
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name       string
		from, to   PlaceStatus
		resolution string
		want       bool
	}{
		{"pending to open", StatusPendingReview, StatusOpen, "", true},
		{"pending to closed", StatusPendingReview, StatusClosed, "", true},
		{"open to suspected", StatusOpen, StatusSuspectedClosed, "", true},
		{"suspected back to open", StatusSuspectedClosed, StatusOpen, "", true},
		{"closed without resolution", StatusClosed, StatusOpen, "", false},
		{"closed with blank resolution", StatusClosed, StatusOpen, "   ", false},
		{"closed with resolution", StatusClosed, StatusOpen, "reopened after renovation", true},
		{"closed to closed", StatusClosed, StatusClosed, "", true},
		{"back to pending", StatusOpen, StatusPendingReview, "", false},
		{"unknown target", StatusOpen, PlaceStatus("Gone"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.resolution))
		})
	}
}

func TestValidationStage_Rank(t *testing.T) {
	assert.Less(t, StageExtracted.Rank(), StageCheapPass.Rank())
	assert.Equal(t, StageCheapPass.Rank(), StageCheapFail.Rank())
	assert.Less(t, StageCheapFail.Rank(), StageSearchFlag.Rank())
	assert.Less(t, StageSearchFlag.Rank(), StageLLMFlag.Rank())
	assert.Less(t, StageLLMFlag.Rank(), StageHumanConfirmed.Rank())
	assert.Equal(t, -1, ValidationStage("bogus").Rank())
}

func TestPlaceStatus_NeedsHuman(t *testing.T) {
	assert.True(t, StatusSuspectedClosed.NeedsHuman())
	assert.True(t, StatusNeedsReview.NeedsHuman())
	assert.False(t, StatusOpen.NeedsHuman())
	assert.False(t, StatusClosed.NeedsHuman())
}
