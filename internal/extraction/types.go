// Package extraction provides the pluggable generation backend used to
// pull actionable items out of parsed email batches. Two interchangeable
// implementations sit behind the Generator contract: a remote
// chat-completion API and a local loopback-only inference daemon. Both
// share the same timeout, retry, backoff and failure-classification
// policy and the same response normalization.
package extraction

import (
	"context"

	"github.com/Cris-z123/mailCopilot-sub001/internal/parser"
)

// Mode selects between the local and remote generation backend.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// MaxBatchEmails is the hard batch ceiling. The orchestrator enforces it
// first; both backends enforce it again defensively.
const MaxBatchEmails = 50

// ItemType classifies an extracted item.
type ItemType string

const (
	TypeCompleted ItemType = "completed"
	TypePending   ItemType = "pending"
)

// SourceStatus is the traceability flag on an extracted item. Items that
// passed through the degradation path are always unverified.
type SourceStatus string

const (
	SourceVerified   SourceStatus = "verified"
	SourceUnverified SourceStatus = "unverified"
)

// ExtractedItem is one actionable item reported by the backend.
type ExtractedItem struct {
	Content       string       `json:"content"`
	Type          ItemType     `json:"type"`
	SourceIndices []int        `json:"sourceIndices"`
	Evidence      string       `json:"evidence"`
	Confidence    int          `json:"confidence"`
	SourceStatus  SourceStatus `json:"sourceStatus"`
}

// BatchInfo is the backend's own accounting of the batch it processed.
type BatchInfo struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
}

// LLMOutput is one normalized backend response.
type LLMOutput struct {
	Items     []ExtractedItem `json:"items"`
	BatchInfo BatchInfo       `json:"batchInfo"`
}

// EmailBatch is the unit of work handed to a Generator. Created per
// orchestration request and discarded after one generation cycle.
type EmailBatch struct {
	Emails     []*parser.ParsedEmail
	ReportDate string
	Mode       Mode
}

// Request wraps a batch for generation. Reinforced requests carry the
// stricter instruction payload used on validation retries.
type Request struct {
	Batch      *EmailBatch
	Reinforced bool
}

// Generator is the backend adapter contract.
type Generator interface {
	// Generate runs one batch through the backend and returns the
	// normalized output.
	Generate(ctx context.Context, req Request) (*LLMOutput, error)

	// CheckHealth reports whether the backend is reachable.
	CheckHealth(ctx context.Context) bool

	// Config returns a snapshot of the current configuration.
	Config() Config

	// UpdateConfig applies the non-nil fields of the patch.
	UpdateConfig(patch ConfigPatch)
}
