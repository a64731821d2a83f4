package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ObiAU/commentcurator/internal/models"
)

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// score accepts a JSON number or a numeric string.
type score struct {
	value float64
	set   bool
}

func (c *score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		c.value, c.set = v, true
		return nil
	}
	if err := json.Unmarshal(data, &c.value); err != nil {
		return err
	}
	c.set = true
	return nil
}

type verdict struct {
	Index      int    `json:"index"`
	Result     string `json:"result"`
	Reason     string `json:"reason"`
	Confidence score  `json:"confidence"`
}

func (v verdict) assessment() models.Assessment {
	label := models.LabelReject
	if strings.EqualFold(strings.TrimSpace(v.Result), "yes") {
		label = models.LabelAccept
	}
	// A missing confidence counts as 0.
	return models.NewAssessment(label, v.Reason, v.Confidence.value, models.OutcomeEvaluated)
}

func parseSingle(raw string) (models.Assessment, error) {
	var v verdict
	if err := json.Unmarshal([]byte(stripFences(raw)), &v); err != nil {
		return models.Assessment{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return v.assessment(), nil
}

// parseBatch decodes a batch response for n inputs. Results are placed by
// their index when the indices are exactly 1..n, and positionally otherwise.
func parseBatch(raw string, n int) ([]models.Assessment, error) {
	var resp struct {
		Results []verdict `json:"results"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(resp.Results) != n {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrCountMismatch, n, len(resp.Results))
	}

	out := make([]models.Assessment, n)
	if isPermutation(resp.Results) {
		for _, v := range resp.Results {
			out[v.Index-1] = v.assessment()
		}
		return out, nil
	}
	for i, v := range resp.Results {
		out[i] = v.assessment()
	}
	return out, nil
}

func isPermutation(vs []verdict) bool {
	seen := make([]bool, len(vs))
	for _, v := range vs {
		if v.Index < 1 || v.Index > len(vs) || seen[v.Index-1] {
			return false
		}
		seen[v.Index-1] = true
	}
	return true
}
