package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// stripFences removes markdown code fences some backends wrap around
// their JSON payload.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// rawOutput mirrors LLMOutput with loose field types so a schema-bending
// backend payload can still be coerced.
type rawOutput struct {
	Items     *[]rawItem      `json:"items"`
	BatchInfo json.RawMessage `json:"batchInfo"`
}

type rawItem struct {
	Content       string          `json:"content"`
	Type          string          `json:"type"`
	SourceIndices []int           `json:"sourceIndices"`
	Evidence      string          `json:"evidence"`
	Confidence    json.RawMessage `json:"confidence"`
	SourceStatus  string          `json:"sourceStatus"`
}

// normalizeOutput strips framing and parses a backend payload into an
// LLMOutput, coercing missing or invalid fields to safe defaults.
// Failure is reserved for payloads that are not a JSON object carrying
// an items array and a batchInfo object.
func normalizeOutput(content string) (*LLMOutput, error) {
	content = stripFences(content)

	var raw rawOutput
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.Items == nil {
		return nil, fmt.Errorf("%w: missing items array", ErrMalformedResponse)
	}
	if len(raw.BatchInfo) == 0 || raw.BatchInfo[0] != '{' {
		return nil, fmt.Errorf("%w: missing batchInfo object", ErrMalformedResponse)
	}

	var info BatchInfo
	if err := json.Unmarshal(raw.BatchInfo, &info); err != nil {
		return nil, fmt.Errorf("%w: batchInfo: %v", ErrMalformedResponse, err)
	}

	out := &LLMOutput{
		Items:     make([]ExtractedItem, 0, len(*raw.Items)),
		BatchInfo: info,
	}
	for _, ri := range *raw.Items {
		out.Items = append(out.Items, coerceItem(ri))
	}
	return out, nil
}

func coerceItem(ri rawItem) ExtractedItem {
	item := ExtractedItem{
		Content:       ri.Content,
		Type:          coerceType(ri.Type),
		SourceIndices: ri.SourceIndices,
		Evidence:      ri.Evidence,
		Confidence:    coerceConfidence(ri.Confidence),
		SourceStatus:  SourceVerified,
	}
	if ri.SourceStatus == string(SourceUnverified) {
		item.SourceStatus = SourceUnverified
	}
	if item.SourceIndices == nil {
		item.SourceIndices = []int{}
	}
	return item
}

// coerceType maps unrecognized type values to pending rather than failing.
func coerceType(t string) ItemType {
	switch ItemType(strings.ToLower(strings.TrimSpace(t))) {
	case TypeCompleted:
		return TypeCompleted
	case TypePending:
		return TypePending
	default:
		return TypePending
	}
}

// coerceConfidence accepts numbers and numeric strings; anything else
// falls back to the fixed midpoint. The result is clamped to [0, 100].
func coerceConfidence(raw json.RawMessage) int {
	if len(raw) == 0 {
		return midpointConfidence
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return midpointConfidence
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return midpointConfidence
		}
		f = parsed
	}

	c := int(f + 0.5)
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
