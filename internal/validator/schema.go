package validator

import (
	"fmt"

	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
)

// checkOutput schema-checks a full backend output. Each failure is
// reported as "field path: message".
func checkOutput(out *extraction.LLMOutput) []string {
	if out == nil {
		return []string{"output: must not be nil"}
	}

	var errs []string
	for i := range out.Items {
		for _, e := range checkItem(&out.Items[i]) {
			errs = append(errs, fmt.Sprintf("items[%d].%s", i, e))
		}
	}

	info := out.BatchInfo
	if info.Total < 0 {
		errs = append(errs, "batchInfo.total: must be >= 0")
	}
	if info.Processed < 0 {
		errs = append(errs, "batchInfo.processed: must be >= 0")
	}
	if info.Skipped < 0 {
		errs = append(errs, "batchInfo.skipped: must be >= 0")
	}
	if info.Processed > info.Total {
		errs = append(errs, "batchInfo.processed: must not exceed batchInfo.total")
	}
	return errs
}

// checkItem schema-checks one item. Field paths are relative to the item.
func checkItem(item *extraction.ExtractedItem) []string {
	var errs []string
	if item.Content == "" {
		errs = append(errs, "content: must be a non-empty string")
	}
	switch item.Type {
	case extraction.TypeCompleted, extraction.TypePending:
	default:
		errs = append(errs, fmt.Sprintf("type: %q is not one of completed, pending", item.Type))
	}
	if item.Confidence < 0 || item.Confidence > 100 {
		errs = append(errs, fmt.Sprintf("confidence: %d is outside [0, 100]", item.Confidence))
	}
	for j, idx := range item.SourceIndices {
		if idx < 0 {
			errs = append(errs, fmt.Sprintf("sourceIndices[%d]: must be >= 0", j))
		}
	}
	switch item.SourceStatus {
	case extraction.SourceVerified, extraction.SourceUnverified, "":
	default:
		errs = append(errs, fmt.Sprintf("sourceStatus: %q is not one of verified, unverified", item.SourceStatus))
	}
	return errs
}

// ValidateItem is the standalone single-item entry point, used to
// re-validate records pulled from storage or resubmitted via feedback.
func ValidateItem(item *extraction.ExtractedItem) []string {
	return checkItem(item)
}
