package models

import (
	"context"
	"strings"
	"time"
)

// RankingMode selects the remote ordering primitive used to list parent items.
type RankingMode string

const (
	RankHot           RankingMode = "hot"
	RankNew           RankingMode = "new"
	RankTop           RankingMode = "top"
	RankControversial RankingMode = "controversial"
	RankRising        RankingMode = "rising"
	RankGilded        RankingMode = "gilded"
)

// RankingModes lists every supported mode in display order.
var RankingModes = []RankingMode{RankHot, RankNew, RankTop, RankControversial, RankRising, RankGilded}

// TimeWindows lists the accepted values for SourceSpec.TimeWindow.
var TimeWindows = []string{"all", "year", "month", "week", "day", "hour"}

// ParseRankingMode maps a configured string onto a RankingMode.
// The second return value is false for unknown modes.
func ParseRankingMode(s string) (RankingMode, bool) {
	mode := RankingMode(strings.ToLower(strings.TrimSpace(s)))
	for _, m := range RankingModes {
		if m == mode {
			return m, true
		}
	}
	return RankHot, false
}

// UsesTimeWindow reports whether the time window applies to this mode.
func (m RankingMode) UsesTimeWindow() bool {
	return m == RankTop || m == RankControversial
}

// SourceSpec describes one source to harvest during a run.
type SourceSpec struct {
	Name        string      `json:"name" yaml:"name"`
	ParentLimit int         `json:"parent_limit" yaml:"parent_limit"`
	Mode        RankingMode `json:"mode" yaml:"mode"`
	TimeWindow  string      `json:"time_window" yaml:"time_window"`
	ChildLimit  int         `json:"child_limit" yaml:"child_limit"`
}

// Parent is a post-like container listed from a source.
type Parent struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Score    int       `json:"score"`
	Comments int       `json:"num_comments"`
	Created  time.Time `json:"created_utc"`
	URL      string    `json:"url"`
	Source   string    `json:"source"`
}

// RawEntry is a comment-like child fetched from a parent.
type RawEntry struct {
	ParentID    string    `json:"post_id"`
	ID          string    `json:"comment_id"`
	Author      string    `json:"author"`
	Body        string    `json:"body"`
	Score       int       `json:"score"`
	Created     time.Time `json:"created_utc"`
	ParentRef   string    `json:"parent_id"`
	IsSubmitter bool      `json:"is_submitter"`
	Source      string    `json:"subreddit"`
}

// Label is the accept/reject verdict of an Assessment.
type Label string

const (
	LabelAccept Label = "accept"
	LabelReject Label = "reject"
)

// AssessmentOutcome records how an Assessment was produced, so that a real
// verdict can be told apart from a fail-open default carrying the same values.
type AssessmentOutcome string

const (
	OutcomeEvaluated AssessmentOutcome = "evaluated"
	OutcomeDisabled  AssessmentOutcome = "disabled"
	OutcomeFailed    AssessmentOutcome = "failed"
	OutcomeRanked    AssessmentOutcome = "ranked"
)

// Assessment is the quality verdict on one entry.
type Assessment struct {
	Label      Label             `json:"label"`
	Reason     string            `json:"reason"`
	Confidence float64           `json:"confidence"`
	Outcome    AssessmentOutcome `json:"outcome"`
}

// NewAssessment builds an Assessment with confidence clamped into [0,1].
func NewAssessment(label Label, reason string, confidence float64, outcome AssessmentOutcome) Assessment {
	return Assessment{
		Label:      label,
		Reason:     reason,
		Confidence: ClampConfidence(confidence),
		Outcome:    outcome,
	}
}

// ClampConfidence pins c into [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case c != c:
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// EligibilityThreshold is the exclusive lower bound on confidence for selection.
const EligibilityThreshold = 0.8

// Eligible reports whether the assessment qualifies an entry for selection.
func (a Assessment) Eligible() bool {
	return a.Label == LabelAccept && a.Confidence > EligibilityThreshold
}

// ScoredEntry is a RawEntry annotated by the evaluator and, once published,
// by the selector.
type ScoredEntry struct {
	RawEntry
	Assessment  Assessment `json:"assessment"`
	PublishID   string     `json:"tweet_id,omitempty"`
	PublishedAt time.Time  `json:"sent_at,omitempty"`
	EvalCalls   int        `json:"api_call_count"`
}

// DedupWindow is the trailing period in which exact-content republication is blocked.
const DedupWindow = 7 * 24 * time.Hour

// Record is one append-only historical publication.
type Record struct {
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
	PublishID   string    `json:"publish_id"`
	EntryID     string    `json:"entry_id,omitempty"`
	Source      string    `json:"source,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
}

// HistoryStore is the historical-record collaborator.
type HistoryStore interface {
	Exists(ctx context.Context, content string, since time.Time) (bool, error)
	Append(ctx context.Context, record Record) error
}
