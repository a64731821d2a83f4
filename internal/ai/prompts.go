package ai

import (
	"fmt"
	"strings"

	"github.com/ObiAU/commentcurator/internal/models"
)

const criteria = `Criteria:
- complete on its own, understandable without the thread it came from
- carries real information or a clear point of view
- not a bare reaction, greeting, thanks, joke fragment or "idk"
Reject things like "too much hassle", "thanks", "lol", "no idea".`

func singlePrompt(body string) string {
	return fmt.Sprintf(`Decide whether the following comment works as a standalone post.

%s

Comment: %q

Answer with this JSON object and nothing else:
{"result": "yes", "reason": "short justification", "confidence": 0.9}

"result" is "yes" or "no". "confidence" is between 0.1 and 1.0; the better the comment meets the criteria, the closer to 1.`, criteria, body)
}

func batchPrompt(entries []models.RawEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Decide for each of the following %d comments whether it works as a standalone post.\n\n", len(entries))
	sb.WriteString(criteria)
	sb.WriteString("\n\nComments:\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "Comment %d: %q\n", i+1, e.Body)
	}
	sb.WriteString(`
Answer with this JSON object and nothing else:
{"results": [
  {"index": 1, "result": "yes", "reason": "short justification", "confidence": 0.9},
  {"index": 2, "result": "no", "reason": "short justification", "confidence": 0.3}
]}

"result" is "yes" or "no". "confidence" is between 0.1 and 1.0; the better the comment meets the criteria, the closer to 1.
`)
	fmt.Fprintf(&sb, "The results array must hold exactly %d items, one per comment, in the order given.", len(entries))
	return sb.String()
}
