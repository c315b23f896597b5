package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
	"github.com/Cris-z123/mailCopilot-sub001/internal/modes"
	"github.com/Cris-z123/mailCopilot-sub001/internal/parser"
	"github.com/Cris-z123/mailCopilot-sub001/internal/store"
	"github.com/Cris-z123/mailCopilot-sub001/internal/validator"
)

// fakeGenerator scripts backend behavior per call.
type fakeGenerator struct {
	mu       sync.Mutex
	outputs  []*extraction.LLMOutput
	err      error
	calls    int
	requests []extraction.Request
	onCall   func()
}

func (g *fakeGenerator) Generate(ctx context.Context, req extraction.Request) (*extraction.LLMOutput, error) {
	g.mu.Lock()
	g.calls++
	g.requests = append(g.requests, req)
	idx := g.calls - 1
	g.mu.Unlock()
	if g.onCall != nil {
		g.onCall()
	}
	if g.err != nil {
		return nil, g.err
	}
	if idx >= len(g.outputs) {
		idx = len(g.outputs) - 1
	}
	return g.outputs[idx], nil
}

func (g *fakeGenerator) CheckHealth(context.Context) bool    { return true }
func (g *fakeGenerator) Config() extraction.Config           { return extraction.Config{} }
func (g *fakeGenerator) UpdateConfig(extraction.ConfigPatch) {}

// fakeStore is an in-memory BatchStore recording commits.
type fakeStore struct {
	mu           sync.Mutex
	fingerprints map[string]bool
	saved        [][]store.Item
	saveErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{fingerprints: map[string]bool{}}
}

func (s *fakeStore) Exists(ctx context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprints[fp], nil
}

func (s *fakeStore) Upsert(ctx context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[fp] = true
	return nil
}

func (s *fakeStore) SaveBatch(ctx context.Context, fps []string, items []store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	for _, fp := range fps {
		s.fingerprints[fp] = true
	}
	s.saved = append(s.saved, items)
	return nil
}

func goodOutput(n int) *extraction.LLMOutput {
	return &extraction.LLMOutput{
		Items: []extraction.ExtractedItem{
			{
				Content:       "follow up on report",
				Type:          extraction.TypePending,
				SourceIndices: []int{0},
				Evidence:      "please follow up",
				Confidence:    70,
				SourceStatus:  extraction.SourceVerified,
			},
		},
		BatchInfo: extraction.BatchInfo{Total: n, Processed: n},
	}
}

func badOutput() *extraction.LLMOutput {
	return &extraction.LLMOutput{
		Items: []extraction.ExtractedItem{
			{Content: "", Type: extraction.ItemType("done"), Confidence: 170},
		},
		BatchInfo: extraction.BatchInfo{Total: 1, Processed: 1},
	}
}

func emlFile(t *testing.T, dir string, i int) string {
	t.Helper()
	body := strings.Repeat("there is real actionable content in this email body. ", 6)
	raw := fmt.Sprintf("Message-ID: <msg-%d@example.com>\r\nFrom: sender%d@example.com\r\n"+
		"Subject: Update %d\r\nDate: Mon, 02 Jun 2025 10:30:00 +0000\r\n\r\n%s", i, i, i, body)
	path := filepath.Join(dir, fmt.Sprintf("msg-%d.eml", i))
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	return path
}

type harness struct {
	orch  *Orchestrator
	gen   *fakeGenerator
	store *fakeStore
	coord *modes.Coordinator
}

func newHarness(t *testing.T, gen *fakeGenerator) *harness {
	t.Helper()
	st := newFakeStore()
	coord := modes.New(extraction.ModeLocal, nil)
	orch := New(
		parser.NewFactory(),
		map[extraction.Mode]extraction.Generator{
			extraction.ModeLocal:  gen,
			extraction.ModeRemote: gen,
		},
		validator.New(nil),
		FixedScorer{Value: 80},
		st,
		coord,
		NewMetrics(nil),
		nil,
	)
	return &harness{orch: orch, gen: gen, store: st, coord: coord}
}

func TestProcessBatchHappyPath(t *testing.T) {
	dir := t.TempDir()
	paths := []string{emlFile(t, dir, 0), emlFile(t, dir, 1)}

	h := newHarness(t, &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(2)}})
	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{
		Paths: paths, ReportDate: "2025-06-02", Mode: extraction.ModeLocal,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Processed)
	assert.Zero(t, res.Skipped)
	require.Len(t, res.Items, 1)
	// Fused confidence: 0.5*80 (rule) + 0.5*70 (backend) = 75.
	assert.Equal(t, 75, res.Items[0].Confidence)
	assert.Equal(t, extraction.SourceVerified, res.Items[0].SourceStatus)
	require.Len(t, h.store.saved, 1)
}

func TestProcessBatchCeiling(t *testing.T) {
	dir := t.TempDir()
	n := extraction.MaxBatchEmails + 5
	paths := make([]string, n)
	for i := range paths {
		paths[i] = emlFile(t, dir, i)
	}

	h := newHarness(t, &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(extraction.MaxBatchEmails)}})
	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{Paths: paths, ReportDate: "2025-06-02"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.LessOrEqual(t, res.Processed, extraction.MaxBatchEmails)
	assert.Equal(t, 5, res.Skipped)
	assert.Equal(t, n, res.Processed+res.Skipped+res.SameBatchDuplicates+res.CrossBatchDuplicates)
}

func TestProcessBatchSameBatchDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := emlFile(t, dir, 0)

	h := newHarness(t, &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(1)}})
	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{
		Paths: []string{path, path}, ReportDate: "2025-06-02",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.SameBatchDuplicates)
}

func TestProcessBatchIdempotence(t *testing.T) {
	dir := t.TempDir()
	paths := []string{emlFile(t, dir, 0), emlFile(t, dir, 1)}
	gen := &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(2)}}
	h := newHarness(t, gen)

	_, err := h.orch.ProcessBatch(context.Background(), BatchRequest{Paths: paths, ReportDate: "2025-06-02"})
	require.NoError(t, err)
	firstCalls := gen.calls

	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{Paths: paths, ReportDate: "2025-06-02"})
	require.NoError(t, err)

	// Every email re-detects as a cross-batch duplicate: no extraction,
	// no storage.
	assert.True(t, res.Success)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 2, res.CrossBatchDuplicates)
	assert.Empty(t, res.Items)
	assert.Equal(t, firstCalls, gen.calls)
	assert.Len(t, h.store.saved, 1)
}

func TestProcessBatchBusyRejection(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(1)}})

	require.True(t, h.coord.TryAcquire())
	defer h.coord.Release()

	_, err := h.orch.ProcessBatch(context.Background(), BatchRequest{Paths: []string{emlFile(t, dir, 0)}})
	assert.ErrorIs(t, err, ErrBatchBusy)
}

func TestProcessBatchDegradedFusion(t *testing.T) {
	dir := t.TempDir()
	// Initial output and both reinforced retries fail the schema.
	gen := &fakeGenerator{outputs: []*extraction.LLMOutput{badOutput()}}
	h := newHarness(t, gen)

	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{
		Paths: []string{emlFile(t, dir, 0)}, ReportDate: "2025-06-02",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	// Retries carried the reinforced payload.
	require.Equal(t, 3, gen.calls)
	assert.False(t, gen.requests[0].Reinforced)
	assert.True(t, gen.requests[1].Reinforced)
	assert.True(t, gen.requests[2].Reinforced)

	// Item preserved through degradation, capped and unverified.
	require.Len(t, res.Items, 1)
	assert.LessOrEqual(t, res.Items[0].Confidence, 60)
	assert.Equal(t, extraction.SourceUnverified, res.Items[0].SourceStatus)
}

func TestProcessBatchFormatCeiling(t *testing.T) {
	dir := t.TempDir()
	body := strings.Repeat("exported note content with plenty of text to keep. ", 6)
	path := filepath.Join(dir, "export.txt")
	require.NoError(t, os.WriteFile(path, []byte("From: a@b.c\n\n"+body), 0o600))

	h := newHarness(t, &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(1)}})
	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{Paths: []string{path}, ReportDate: "2025-06-02"})
	require.NoError(t, err)

	// txt caps derived items at 60 no matter what fusion produced.
	require.Len(t, res.Items, 1)
	assert.LessOrEqual(t, res.Items[0].Confidence, 60)
}

func TestProcessBatchFormatCeilingHallucinatedIndices(t *testing.T) {
	dir := t.TempDir()
	body := strings.Repeat("exported note content with plenty of text to keep. ", 6)
	path := filepath.Join(dir, "export.txt")
	require.NoError(t, os.WriteFile(path, []byte("From: a@b.c\n\n"+body), 0o600))

	out := goodOutput(1)
	out.Items[0].SourceIndices = []int{99}
	h := newHarness(t, &fakeGenerator{outputs: []*extraction.LLMOutput{out}})

	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{Paths: []string{path}, ReportDate: "2025-06-02"})
	require.NoError(t, err)

	// An index pointing outside the batch must not dodge the cap; the
	// item falls back to the whole batch's minimum ceiling.
	require.Len(t, res.Items, 1)
	assert.LessOrEqual(t, res.Items[0].Confidence, 60)
}

func TestProcessBatchGenerationFailureInBand(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{err: extraction.ErrBackendUnavailable}
	h := newHarness(t, gen)

	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{
		Paths: []string{emlFile(t, dir, 0), emlFile(t, dir, 1)},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "generation failed")
	// The failure path accounts for every email: what never reached the
	// backend lands in skipped.
	assert.Zero(t, res.Processed)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, res.Processed+res.Skipped+res.SameBatchDuplicates+res.CrossBatchDuplicates)
	// Nothing registered: the batch can be resubmitted cleanly.
	assert.Empty(t, h.store.saved)
	assert.Empty(t, h.store.fingerprints)
}

func TestProcessBatchParseFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	good := emlFile(t, dir, 0)
	missing := filepath.Join(dir, "missing.eml")

	h := newHarness(t, &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(1)}})
	res, err := h.orch.ProcessBatch(context.Background(), BatchRequest{
		Paths: []string{good, missing}, ReportDate: "2025-06-02",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)
}

func TestProcessBatchUnsupportedSingleInput(t *testing.T) {
	h := newHarness(t, &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(1)}})
	_, err := h.orch.ProcessBatch(context.Background(), BatchRequest{Paths: []string{"picture.png"}})
	var uerr *parser.UnsupportedFormatError
	assert.ErrorAs(t, err, &uerr)
}

func TestProcessBatchModeSwitchDeferred(t *testing.T) {
	dir := t.TempDir()
	var h *harness
	gen := &fakeGenerator{outputs: []*extraction.LLMOutput{goodOutput(1)}}
	gen.onCall = func() {
		// A switch requested mid-batch queues; a status query reports
		// the pending target with the batch still in flight.
		h.coord.RequestSwitch(extraction.ModeRemote)
		st := h.coord.State()
		assert.Equal(t, extraction.ModeLocal, st.CurrentMode)
		if assert.NotNil(t, st.PendingMode) {
			assert.Equal(t, extraction.ModeRemote, *st.PendingMode)
		}
		assert.True(t, st.IsProcessing)
	}
	h = newHarness(t, gen)

	_, err := h.orch.ProcessBatch(context.Background(), BatchRequest{
		Paths: []string{emlFile(t, dir, 0)}, ReportDate: "2025-06-02", Mode: extraction.ModeLocal,
	})
	require.NoError(t, err)

	st := h.coord.State()
	assert.Equal(t, extraction.ModeRemote, st.CurrentMode)
	assert.Nil(t, st.PendingMode)
	assert.False(t, st.IsProcessing)
}

func TestFuseConfidenceWeights(t *testing.T) {
	tests := []struct {
		name     string
		rule     int
		llm      int
		degraded bool
		want     int
	}{
		{"nominal even split", 80, 70, false, 75},
		{"nominal both high", 100, 100, false, 100},
		{"degraded shifts weight and caps", 100, 100, true, 60},
		{"degraded below cap", 50, 50, true, 40},
		{"degraded zero", 0, 0, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fuseConfidence(tt.rule, tt.llm, tt.degraded))
		})
	}
}
