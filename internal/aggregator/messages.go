package aggregator

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/publisher"
)

const (
	previewLength      = 100
	errorPreviewLength = 200
)

// cycleMessage renders the operator notification for a finished cycle.
// Messages use Telegram HTML formatting.
func cycleMessage(r Report) string {
	switch r.Outcome {
	case OutcomeNoEntries:
		return "⚠️ <b>Auto scrape failed</b>\n\nNo comments were fetched from any source."
	case OutcomeNoEligible:
		return "⚠️ <b>Auto scrape finished</b>\n\nNo comment passed quality screening this run."
	case OutcomeAllDuplicate:
		return "📄 <b>Auto scrape finished</b>\n\nEverything eligible this run has already been published."
	case OutcomePublished:
		return publishedMessage(r)
	case OutcomePublishFailed:
		return publishFailedMessage(r)
	default:
		return fmt.Sprintf("❌ <b>Auto scrape system error</b>\n\n%s", html.EscapeString(errText(r.Err)))
	}
}

func publishedMessage(r Report) string {
	var b strings.Builder
	b.WriteString("✅ <b>Auto scrape published</b>\n\n")
	if c := r.Decision.Chosen; c != nil {
		fmt.Fprintf(&b, "<b>Content:</b> %s\n", html.EscapeString(truncate(r.Decision.Text, previewLength)))
		fmt.Fprintf(&b, "<b>Published:</b> %s\n", c.PublishedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "<b>ID:</b> <code>%s</code>\n\n", html.EscapeString(c.PublishID))
		fmt.Fprintf(&b, "<b>Confidence:</b> %.2f\n", c.Assessment.Confidence)
		fmt.Fprintf(&b, "<b>Reason:</b> %s\n", html.EscapeString(c.Assessment.Reason))
		fmt.Fprintf(&b, "<b>Evaluation calls:</b> %d\n", r.EvalCalls)
		fmt.Fprintf(&b, "<b>Harvest time:</b> %s\n", r.HarvestElapsed.Round(100*time.Millisecond))
		fmt.Fprintf(&b, "<b>Source:</b> r/%s (score %d)", html.EscapeString(c.Source), c.Score)
	}
	return b.String()
}

func publishFailedMessage(r Report) string {
	var b strings.Builder
	perr := r.Decision.PublishErr

	kind := models.KindPublishUnknown
	if perr != nil {
		kind = perr.Kind
	}
	b.WriteString(publishFailureHeadline(kind, perr))
	if kind != models.KindPublishUnknown && perr != nil && perr.Message != "" {
		fmt.Fprintf(&b, "\n\n<b>Error:</b> %s", html.EscapeString(perr.Message))
	}

	if r.Decision.Text != "" {
		fmt.Fprintf(&b, "\n\n<b>Prepared content:</b>\n<code>%s</code>",
			html.EscapeString(truncate(r.Decision.Text, errorPreviewLength)))
	}
	if c := r.Decision.Chosen; c != nil {
		fmt.Fprintf(&b, "\n\n<b>Source:</b> r/%s\n<b>Score:</b> %d\n<b>Confidence:</b> %.2f\n<b>Reason:</b> %s",
			html.EscapeString(c.Source), c.Score, c.Assessment.Confidence, html.EscapeString(c.Assessment.Reason))
	}
	return b.String()
}

func publishFailureHeadline(kind models.ErrorKind, perr *publisher.Error) string {
	switch kind {
	case models.KindPublishPerm:
		return "❌ <b>Publish failed: insufficient permissions</b>\n\n" +
			"The app key is missing write access or the developer account is restricted.\n" +
			"Check that the app has Read and Write permission and regenerate the access token afterwards."
	case models.KindPublishAuth:
		return "❌ <b>Publish failed: authentication error</b>\n\n" +
			"The API key, secret or access token was rejected. Check the configured credentials."
	case models.KindPublishDuplicate:
		return "❌ <b>Publish failed: duplicate content</b>\n\n" +
			"Local history did not match this text but the platform still flagged it as a repeat."
	case models.KindPublishForbidden:
		return "❌ <b>Publish failed: content refused</b>\n\n" +
			"The text may break platform rules, contain sensitive words or links, or the account may be temporarily limited."
	case models.KindPublishTooLarge:
		return "❌ <b>Publish failed: content too large</b>\n\n" +
			"The request exceeded the platform size limit."
	default:
		detail := "unknown error"
		if perr != nil {
			detail = perr.Error()
		}
		return fmt.Sprintf("❌ <b>Publish failed</b>\n\n<b>Error:</b> %s", html.EscapeString(detail))
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
