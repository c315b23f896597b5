package validator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
)

// Result is the terminal outcome of one validation cycle, including any
// internal retries.
type Result struct {
	Output     *extraction.LLMOutput
	IsValid    bool
	RetryCount int
	IsDegraded bool
	// Errors accumulates field-path failure details across every
	// attempt, kept even on eventual success for diagnostics.
	Errors []string
}

// RegenerateFunc re-runs generation with the reinforced instruction
// payload. Nil when the caller cannot regenerate.
type RegenerateFunc func(ctx context.Context) (*extraction.LLMOutput, error)

// Validator drives the retry-then-degrade machine.
type Validator struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{log: log}
}

// Validate runs the state machine over a raw backend output. The
// returned Result is terminal: either valid output, or the original
// items degraded in place with every one of them preserved.
func (v *Validator) Validate(ctx context.Context, out *extraction.LLMOutput, regen RegenerateFunc) (result *Result) {
	var allErrs []string
	attempt := 0
	current := out

	// An unexpected panic anywhere below lands in the degradation path
	// rather than escaping to the orchestrator.
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("validation panicked, degrading output", zap.Any("panic", r))
			result = degradedResult(current, attempt, append(allErrs, fmt.Sprintf("validator: unexpected panic: %v", r)))
		}
	}()

	for {
		errs := checkOutput(current)
		allErrs = append(allErrs, errs...)

		switch Next(attempt, regen != nil, len(errs) == 0) {
		case StateValid:
			return &Result{
				Output:     current,
				IsValid:    true,
				RetryCount: attempt,
				Errors:     allErrs,
			}

		case StateRetrying:
			attempt++
			v.log.Warn("schema validation failed, regenerating with reinforced instructions",
				zap.Int("attempt", attempt),
				zap.Int("schema_errors", len(errs)))
			regenerated, err := regen(ctx)
			if err != nil {
				allErrs = append(allErrs, fmt.Sprintf("regeneration: %v", err))
				return degradedResult(current, attempt, allErrs)
			}
			current = regenerated

		case StateDegraded:
			v.log.Warn("schema validation exhausted, degrading output",
				zap.Int("retry_count", attempt),
				zap.Int("item_count", itemCount(current)))
			return degradedResult(current, attempt, allErrs)
		}
	}
}

// degradedResult applies the degradation transform: every item keeps its
// place in the set, its source status is forced to unverified and its
// confidence is clamped to the degraded cap.
func degradedResult(out *extraction.LLMOutput, retryCount int, errs []string) *Result {
	degraded := Degrade(out)
	return &Result{
		Output:     degraded,
		IsValid:    false,
		RetryCount: retryCount,
		IsDegraded: true,
		Errors:     errs,
	}
}

// Degrade returns a copy of the output with the degradation transform
// applied. The item count is always preserved.
func Degrade(out *extraction.LLMOutput) *extraction.LLMOutput {
	if out == nil {
		return &extraction.LLMOutput{Items: []extraction.ExtractedItem{}}
	}
	degraded := &extraction.LLMOutput{
		Items:     make([]extraction.ExtractedItem, len(out.Items)),
		BatchInfo: out.BatchInfo,
	}
	for i, item := range out.Items {
		item.SourceStatus = extraction.SourceUnverified
		if item.Confidence > DegradedConfidenceCap {
			item.Confidence = DegradedConfidenceCap
		}
		degraded.Items[i] = item
	}
	return degraded
}

func itemCount(out *extraction.LLMOutput) int {
	if out == nil {
		return 0
	}
	return len(out.Items)
}
