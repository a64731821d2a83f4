package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRankingMode(t *testing.T) {
	for _, m := range RankingModes {
		got, ok := ParseRankingMode(string(m))
		assert.True(t, ok, m)
		assert.Equal(t, m, got)
	}

	got, ok := ParseRankingMode(" TOP ")
	assert.True(t, ok)
	assert.Equal(t, RankTop, got)

	got, ok = ParseRankingMode("best")
	assert.False(t, ok)
	assert.Equal(t, RankHot, got)
}

func TestUsesTimeWindow(t *testing.T) {
	assert.True(t, RankTop.UsesTimeWindow())
	assert.True(t, RankControversial.UsesTimeWindow())
	assert.False(t, RankHot.UsesTimeWindow())
	assert.False(t, RankGilded.UsesTimeWindow())
}

func TestNewAssessmentClampsConfidence(t *testing.T) {
	assert.Equal(t, 1.0, NewAssessment(LabelAccept, "", 1.7, OutcomeEvaluated).Confidence)
	assert.Equal(t, 0.0, NewAssessment(LabelAccept, "", -0.2, OutcomeEvaluated).Confidence)
	assert.Equal(t, 0.0, NewAssessment(LabelAccept, "", math.NaN(), OutcomeEvaluated).Confidence)
	assert.Equal(t, 0.42, NewAssessment(LabelAccept, "", 0.42, OutcomeEvaluated).Confidence)
}

func TestEligible(t *testing.T) {
	assert.True(t, Assessment{Label: LabelAccept, Confidence: 0.81}.Eligible())
	assert.False(t, Assessment{Label: LabelAccept, Confidence: 0.8}.Eligible())
	assert.False(t, Assessment{Label: LabelReject, Confidence: 0.99}.Eligible())
}

func TestErrorKindIsPublish(t *testing.T) {
	assert.True(t, KindPublishDuplicate.IsPublish())
	assert.True(t, KindPublishUnknown.IsPublish())
	assert.False(t, KindFetch.IsPublish())
	assert.False(t, KindSchedulerCrash.IsPublish())
}
