// Package orchestrator runs the batch pipeline: parse, dedup, generate,
// validate, fuse confidence, persist. One batch at a time: a call while
// another is in flight is rejected immediately rather than queued, which
// protects registry-write ordering.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
	"github.com/Cris-z123/mailCopilot-sub001/internal/modes"
	"github.com/Cris-z123/mailCopilot-sub001/internal/parser"
	"github.com/Cris-z123/mailCopilot-sub001/internal/store"
	"github.com/Cris-z123/mailCopilot-sub001/internal/validator"
)

// ErrBatchBusy rejects a ProcessBatch call while another is in flight.
var ErrBatchBusy = errors.New("a batch is already being processed")

// BatchRequest is the shape crossing the process boundary.
type BatchRequest struct {
	Paths      []string        `json:"paths"`
	ReportDate string          `json:"reportDate"`
	Mode       extraction.Mode `json:"mode"`
}

// BatchResult is the unified result returned to the process boundary.
type BatchResult struct {
	Success              bool                       `json:"success"`
	Items                []extraction.ExtractedItem `json:"items"`
	Processed            int                        `json:"processed"`
	Skipped              int                        `json:"skipped"`
	SameBatchDuplicates  int                        `json:"sameBatchDuplicates"`
	CrossBatchDuplicates int                        `json:"crossBatchDuplicates"`
	Error                string                     `json:"error,omitempty"`
}

// BatchStore is the storage collaborator: the durable fingerprint
// registry plus the one-transaction batch commit.
type BatchStore interface {
	Exists(ctx context.Context, fingerprint string) (bool, error)
	Upsert(ctx context.Context, fingerprint string) error
	SaveBatch(ctx context.Context, fingerprints []string, items []store.Item) error
}

// Orchestrator coordinates one batch at a time across the parser
// subsystem, the backend adapter, the validator and the store.
type Orchestrator struct {
	factory    *parser.Factory
	generators map[extraction.Mode]extraction.Generator
	validator  *validator.Validator
	scorer     RuleScorer
	store      BatchStore
	coord      *modes.Coordinator
	metrics    *Metrics
	log        *zap.Logger
}

// New wires an orchestrator. One instance per application lifetime; the
// coordinator it shares with the rest of the process carries the
// single-flight flag.
func New(
	factory *parser.Factory,
	generators map[extraction.Mode]extraction.Generator,
	v *validator.Validator,
	scorer RuleScorer,
	batchStore BatchStore,
	coord *modes.Coordinator,
	metrics *Metrics,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		factory:    factory,
		generators: generators,
		validator:  v,
		scorer:     scorer,
		store:      batchStore,
		coord:      coord,
		metrics:    metrics,
		log:        log,
	}
}

// ProcessBatch runs one batch end to end. An error return is a
// rejection before the pipeline starts (busy, unknown mode, unsupported
// single input); pipeline failures come back in-band with Success=false
// and a human-readable Error.
func (o *Orchestrator) ProcessBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if !o.coord.TryAcquire() {
		o.metrics.batchesTotal.WithLabelValues("busy").Inc()
		return nil, ErrBatchBusy
	}
	defer o.coord.Release()

	start := time.Now()
	defer func() { o.metrics.batchDuration.Observe(time.Since(start).Seconds()) }()

	mode := req.Mode
	if mode == "" {
		mode = o.coord.Current()
	}
	gen, ok := o.generators[mode]
	if !ok {
		o.metrics.batchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("no backend configured for mode %q", mode)
	}

	batchID := uuid.NewString()
	log := o.log.With(zap.String("batch_id", batchID), zap.String("mode", string(mode)))
	log.Info("starting batch", zap.Int("paths", len(req.Paths)), zap.String("report_date", req.ReportDate))

	result := &BatchResult{Items: []extraction.ExtractedItem{}}

	// Parse phase. A single unreadable file is isolated and counted as
	// skipped; it never aborts the batch.
	var emails []*parser.ParsedEmail
	for _, path := range req.Paths {
		parsed, err := o.factory.Messages(path)
		if err != nil {
			var uerr *parser.UnsupportedFormatError
			if errors.As(err, &uerr) && len(req.Paths) == 1 {
				o.metrics.batchesTotal.WithLabelValues("error").Inc()
				return nil, err
			}
			log.Warn("skipping unparseable source", zap.String("path", path), zap.Error(err))
			result.Skipped++
			continue
		}
		emails = append(emails, parsed...)
	}

	// Hard batch ceiling: overflow is counted, never silently dropped.
	if len(emails) > extraction.MaxBatchEmails {
		overflow := len(emails) - extraction.MaxBatchEmails
		log.Warn("batch over ceiling", zap.Int("overflow", overflow))
		result.Skipped += overflow
		emails = emails[:extraction.MaxBatchEmails]
	}

	// Dedup: in-batch repeats first, then the durable registry.
	deduped, err := o.dedup(ctx, emails, result)
	if err != nil {
		o.metrics.batchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dedup: %w", err)
	}
	result.Processed = len(deduped)

	if len(deduped) == 0 {
		log.Info("nothing to process after dedup",
			zap.Int("same_batch", result.SameBatchDuplicates),
			zap.Int("cross_batch", result.CrossBatchDuplicates))
		result.Success = true
		o.metrics.batchesTotal.WithLabelValues("ok").Inc()
		return result, nil
	}

	batch := &extraction.EmailBatch{
		Emails:     deduped,
		ReportDate: req.ReportDate,
		Mode:       mode,
	}

	raw, err := gen.Generate(ctx, extraction.Request{Batch: batch})
	if err != nil {
		log.Error("generation failed", zap.Error(err))
		o.metrics.batchesTotal.WithLabelValues("error").Inc()
		// The emails never reached the backend; moving them to skipped
		// keeps processed+skipped+duplicates covering the whole batch.
		result.Skipped += result.Processed
		result.Processed = 0
		result.Error = fmt.Sprintf("generation failed: %v", err)
		return result, nil
	}

	regen := func(ctx context.Context) (*extraction.LLMOutput, error) {
		return gen.Generate(ctx, extraction.Request{Batch: batch, Reinforced: true})
	}
	vres := o.validator.Validate(ctx, raw, regen)
	if vres.IsDegraded {
		o.metrics.degradedBatches.Inc()
	}
	if len(vres.Errors) > 0 {
		log.Warn("validation reported schema failures",
			zap.Int("retry_count", vres.RetryCount),
			zap.Bool("degraded", vres.IsDegraded),
			zap.Strings("details", vres.Errors))
	}

	result.Items = o.fuse(vres, batch)

	// Fingerprint registration and item persistence commit together.
	fingerprints := make([]string, len(deduped))
	for i, e := range deduped {
		fingerprints[i] = e.Fingerprint
	}
	items := make([]store.Item, len(result.Items))
	for i, item := range result.Items {
		items[i] = store.Item{ReportDate: req.ReportDate, ExtractedItem: item}
	}
	if err := o.store.SaveBatch(ctx, fingerprints, items); err != nil {
		log.Error("batch persistence failed", zap.Error(err))
		o.metrics.batchesTotal.WithLabelValues("error").Inc()
		result.Error = fmt.Sprintf("persistence failed: %v", err)
		return result, nil
	}

	o.metrics.emailsProcessed.Add(float64(len(deduped)))
	o.metrics.batchesTotal.WithLabelValues("ok").Inc()
	result.Success = true
	log.Info("batch complete",
		zap.Int("processed", result.Processed),
		zap.Int("items", len(result.Items)),
		zap.Int("skipped", result.Skipped),
		zap.Int("same_batch_duplicates", result.SameBatchDuplicates),
		zap.Int("cross_batch_duplicates", result.CrossBatchDuplicates))
	return result, nil
}

// dedup excludes in-batch and cross-batch duplicates from the outbound
// request while counting both.
func (o *Orchestrator) dedup(ctx context.Context, emails []*parser.ParsedEmail, result *BatchResult) ([]*parser.ParsedEmail, error) {
	seen := make(map[string]bool, len(emails))
	deduped := make([]*parser.ParsedEmail, 0, len(emails))
	for _, e := range emails {
		if seen[e.Fingerprint] {
			result.SameBatchDuplicates++
			o.metrics.duplicatesTotal.WithLabelValues("same_batch").Inc()
			continue
		}
		seen[e.Fingerprint] = true

		exists, err := o.store.Exists(ctx, e.Fingerprint)
		if err != nil {
			return nil, err
		}
		if exists {
			result.CrossBatchDuplicates++
			o.metrics.duplicatesTotal.WithLabelValues("cross_batch").Inc()
			continue
		}
		deduped = append(deduped, e)
	}
	return deduped, nil
}

// fuse combines the rule-engine score with the backend score per item
// and applies the source formats' confidence ceiling.
func (o *Orchestrator) fuse(vres *validator.Result, batch *extraction.EmailBatch) []extraction.ExtractedItem {
	items := make([]extraction.ExtractedItem, len(vres.Output.Items))
	for i, item := range vres.Output.Items {
		rule := o.scorer.Score(item, batch)
		item.Confidence = fuseConfidence(rule, item.Confidence, vres.IsDegraded)
		if ceiling := sourceCeiling(item, batch); item.Confidence > ceiling {
			item.Confidence = ceiling
		}
		items[i] = item
	}
	return items
}

// sourceCeiling is the tightest confidence ceiling across the item's
// source emails. An item with no in-range index (none given, or the
// backend hallucinated them) is capped by the whole batch's minimum.
func sourceCeiling(item extraction.ExtractedItem, batch *extraction.EmailBatch) int {
	ceiling := 100
	consider := func(e *parser.ParsedEmail) {
		if c := parser.ConfidenceCeiling(e.Format); c < ceiling {
			ceiling = c
		}
	}
	matched := false
	for _, idx := range item.SourceIndices {
		if idx >= 0 && idx < len(batch.Emails) {
			consider(batch.Emails[idx])
			matched = true
		}
	}
	if !matched {
		for _, e := range batch.Emails {
			consider(e)
		}
	}
	return ceiling
}
