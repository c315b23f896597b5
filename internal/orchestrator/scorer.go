package orchestrator

import "github.com/Cris-z123/mailCopilot-sub001/internal/extraction"

// RuleScorer supplies the non-backend half of the fused confidence
// score. The algorithm is external to this core; implementations return
// an integer in [0, 100].
type RuleScorer interface {
	Score(item extraction.ExtractedItem, batch *extraction.EmailBatch) int
}

// FixedScorer returns a constant score. It is the default wiring until a
// real rule engine is plugged in.
type FixedScorer struct {
	Value int
}

func (s FixedScorer) Score(extraction.ExtractedItem, *extraction.EmailBatch) int {
	return s.Value
}

// Confidence fusion weights. The degraded weights intentionally sum
// below 100 to bias toward caution.
const (
	nominalRuleWeight = 0.5
	nominalLLMWeight  = 0.5

	degradedRuleWeight = 0.6
	degradedLLMWeight  = 0.2
	degradedCap        = 60
)

// fuseConfidence combines the rule-engine score with the backend's
// reported score, shifting weights and hard-capping under degradation.
func fuseConfidence(ruleScore, llmScore int, degraded bool) int {
	var fused float64
	if degraded {
		fused = degradedRuleWeight*float64(ruleScore) + degradedLLMWeight*float64(llmScore)
	} else {
		fused = nominalRuleWeight*float64(ruleScore) + nominalLLMWeight*float64(llmScore)
	}
	c := int(fused + 0.5)
	if degraded && c > degradedCap {
		c = degradedCap
	}
	if c < 0 {
		c = 0
	}
	if c > 100 {
		c = 100
	}
	return c
}
