// Package selector picks the single entry to publish from a scored set.
package selector

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/publisher"
)

const (
	// MaxLength is the publish length limit in characters.
	MaxLength = 280
	ellipsis  = "..."

	appendTimeout = 10 * time.Second
)

// Outcome is the terminal state of one selection.
type Outcome string

const (
	NoEligible    Outcome = "no_eligible"
	AllDuplicate  Outcome = "all_duplicate"
	Published     Outcome = "published"
	PublishFailed Outcome = "publish_failed"
)

// Decision describes what Select did.
type Decision struct {
	Outcome Outcome
	// Chosen is the published entry, or the entry whose publish failed.
	Chosen *models.ScoredEntry
	// Text is the prepared text handed to the publisher.
	Text       string
	Eligible   int
	Duplicates int
	PublishErr *publisher.Error
}

type Selector struct {
	history   models.HistoryStore
	publisher publisher.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

func New(history models.HistoryStore, pub publisher.Publisher, logger *zap.Logger) *Selector {
	return &Selector{
		history:   history,
		publisher: pub,
		now:       time.Now,
		logger:    logging.OrNop(logger).Named("selector"),
	}
}

var newlineRuns = regexp.MustCompile(`\n+`)

// PrepareText normalizes line breaks and truncates to MaxLength characters,
// ending an overflowing text with "...".
func PrepareText(body string) string {
	text := strings.ReplaceAll(body, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(newlineRuns.ReplaceAllString(text, "\n"))

	if utf8.RuneCountInString(text) <= MaxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxLength-utf8.RuneCountInString(ellipsis)]) + ellipsis
}

// Eligible returns the accepted entries above the confidence threshold,
// highest confidence first. Ties keep their input order.
func Eligible(entries []models.ScoredEntry) []models.ScoredEntry {
	var out []models.ScoredEntry
	for _, e := range entries {
		if e.Assessment.Eligible() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Assessment.Confidence > out[j].Assessment.Confidence
	})
	return out
}

// Select publishes the best eligible entry whose prepared text has not
// been published in the dedup window. Duplicates advance to the next
// candidate; a publish failure ends the selection.
func (s *Selector) Select(ctx context.Context, entries []models.ScoredEntry) Decision {
	candidates := Eligible(entries)
	d := Decision{Eligible: len(candidates)}
	if len(candidates) == 0 {
		d.Outcome = NoEligible
		return d
	}

	since := s.now().Add(-models.DedupWindow)
	for i := range candidates {
		candidate := candidates[i]
		text := PrepareText(candidate.Body)

		dup, err := s.history.Exists(ctx, text, since)
		if err != nil {
			s.logger.Warn("history lookup failed, treating as new",
				zap.String("entry", candidate.ID), zap.Error(err))
		}
		if dup {
			d.Duplicates++
			s.logger.Debug("skipping duplicate", zap.String("entry", candidate.ID))
			continue
		}

		d.Chosen = &candidate
		d.Text = text

		res := s.publisher.Publish(ctx, text)
		if !res.Success {
			d.Outcome = PublishFailed
			d.PublishErr = res.Err
			if d.PublishErr == nil {
				d.PublishErr = &publisher.Error{Kind: models.KindPublishUnknown, Message: "publisher reported failure"}
			}
			return d
		}

		candidate.PublishID = res.ID
		candidate.PublishedAt = s.now()
		s.record(ctx, candidate, text)
		d.Outcome = Published
		return d
	}

	d.Outcome = AllDuplicate
	return d
}

// record appends the history row. It runs detached from cycle cancellation
// so a post that went out is still recorded when the cycle is being torn
// down; a failed append is only logged.
func (s *Selector) record(ctx context.Context, entry models.ScoredEntry, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	err := s.history.Append(ctx, models.Record{
		Content:     text,
		PublishedAt: entry.PublishedAt,
		PublishID:   entry.PublishID,
		EntryID:     entry.ID,
		Source:      entry.Source,
		Confidence:  entry.Assessment.Confidence,
	})
	if err != nil {
		s.logger.Error("published but history append failed",
			zap.String("publish_id", entry.PublishID), zap.Error(err))
	}
}
