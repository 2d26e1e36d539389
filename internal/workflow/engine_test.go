package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cod3vil/data-veil/internal/logger"
)

// fakeRemote is an in-memory stand-in for the remote desensitization
// service. Gates, when set, block the corresponding call until closed.
type fakeRemote struct {
	mu sync.Mutex

	rules       []Rule
	items       []SensitiveItem
	previewData PreviewData
	artifact    Artifact

	uploadErr  error
	rulesErr   error
	previewErr error
	exportErr  error

	uploads       int
	listCalls     int
	identifyCalls int
	previewCalls  int
	exportCalls   int

	previewGate chan struct{}
}

func (f *fakeRemote) Upload(ctx context.Context, filename string, data []byte) (DocumentHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return DocumentHandle{}, f.uploadErr
	}
	f.uploads++
	kind, _ := ParseFileKind(filename)
	return DocumentHandle{
		TaskID:     fmt.Sprintf("task-%d", f.uploads),
		Filename:   filename,
		Kind:       kind,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
	}, nil
}

func (f *fakeRemote) ListRules(ctx context.Context) ([]Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.rules, f.rulesErr
}

func (f *fakeRemote) Identify(ctx context.Context, taskID string) ([]SensitiveItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identifyCalls++
	return f.items, nil
}

func (f *fakeRemote) Preview(ctx context.Context, taskID string, ruleIDs, itemIDs []string) (PreviewData, error) {
	f.mu.Lock()
	gate := f.previewGate
	f.previewCalls++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previewData, f.previewErr
}

func (f *fakeRemote) Export(ctx context.Context, taskID string, ruleIDs []string, format OutputFormat) (Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportCalls++
	return f.artifact, f.exportErr
}

func newTestRemote() *fakeRemote {
	return &fakeRemote{
		rules: catalogOf3(),
		items: []SensitiveItem{
			{ID: "i1", DataType: "phone", Value: "13800138000", StartPos: 5, EndPos: 16, Confidence: 0.98},
			{ID: "i2", DataType: "email", Value: "a@b.com", StartPos: 20, EndPos: 27, Confidence: 0.91},
		},
		previewData: PreviewData{
			Original:     "call 13800138000 or a@b.com",
			Desensitized: "call 138****8000 or a@b.com",
			Stats:        Statistics{TotalItems: 2, DesensitizedItems: 1},
			Values:       map[string]string{"i1": "138****8000"},
		},
		artifact: Artifact{Data: []byte("clean"), Filename: "desensitized_doc.txt"},
	}
}

func waitPreview(t *testing.T, ch <-chan PreviewOutcome) PreviewOutcome {
	t.Helper()
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for preview outcome")
		return PreviewOutcome{}
	}
}

func waitExport(t *testing.T, ch <-chan ExportOutcome) ExportOutcome {
	t.Helper()
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for export outcome")
		return ExportOutcome{}
	}
}

// runPreviewCycle uploads a document, loads the catalog, and completes one
// preview so the workflow reaches the fresh-preview stage.
func runPreviewCycle(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.Upload(ctx, "report.pdf", []byte("content")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := e.LoadRules(ctx, false); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	ch, err := e.RequestPreview(ctx, false)
	if err != nil {
		t.Fatalf("RequestPreview failed: %v", err)
	}
	if outcome := waitPreview(t, ch); outcome.Err != nil {
		t.Fatalf("Preview outcome error: %v", outcome.Err)
	}
}

// TestEngineUpload tests document upload and session replacement
func TestEngineUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("RejectsUnsupportedExtension", func(t *testing.T) {
		e := NewEngine(newTestRemote(), logger.Nop())
		_, err := e.Upload(ctx, "image.png", []byte("data"))
		if !IsKind(err, KindValidation) {
			t.Errorf("Upload(png) = %v, want validation error", err)
		}
		if e.Stage() != StageNoDocument {
			t.Errorf("Stage changed by rejected upload: %s", e.Stage())
		}
	})

	t.Run("ReplacesSessionWholesale", func(t *testing.T) {
		e := NewEngine(newTestRemote(), logger.Nop())
		runPreviewCycle(t, e)

		handle, err := e.Upload(ctx, "other.docx", []byte("data"))
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if handle.Kind != KindDOCX {
			t.Errorf("Kind = %s, want docx", handle.Kind)
		}
		if len(e.Items()) != 0 {
			t.Error("Items survived document replacement")
		}
		if _, ok := e.Preview(); ok {
			t.Error("Preview survived document replacement")
		}
		// Catalog stays loaded, selection back to defaults.
		if e.Stage() != StageRulesSelected {
			t.Errorf("Stage() = %s, want rules_selected", e.Stage())
		}
	})
}

// TestEngineLoadRules tests catalog loading and the optional cache
func TestEngineLoadRules(t *testing.T) {
	ctx := context.Background()

	t.Run("FetchesOnceUnlessForced", func(t *testing.T) {
		remote := newTestRemote()
		e := NewEngine(remote, logger.Nop())

		if _, err := e.LoadRules(ctx, false); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		if _, err := e.LoadRules(ctx, false); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		if remote.listCalls != 1 {
			t.Errorf("Remote fetched %d times, want 1", remote.listCalls)
		}

		if _, err := e.LoadRules(ctx, true); err != nil {
			t.Fatalf("Forced LoadRules failed: %v", err)
		}
		if remote.listCalls != 2 {
			t.Errorf("Remote fetched %d times after force, want 2", remote.listCalls)
		}
	})

	t.Run("CacheHitSkipsRemote", func(t *testing.T) {
		remote := newTestRemote()
		cache := &fakeCache{rules: catalogOf3(), hit: true}
		e := NewEngine(remote, logger.Nop(), WithCatalogCache(cache))

		rules, err := e.LoadRules(ctx, false)
		if err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		if len(rules) != 3 {
			t.Errorf("Got %d rules, want 3", len(rules))
		}
		if remote.listCalls != 0 {
			t.Errorf("Remote fetched despite cache hit")
		}
	})

	t.Run("CacheMissFallsThroughAndStores", func(t *testing.T) {
		remote := newTestRemote()
		cache := &fakeCache{}
		e := NewEngine(remote, logger.Nop(), WithCatalogCache(cache))

		if _, err := e.LoadRules(ctx, false); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		if remote.listCalls != 1 {
			t.Errorf("Remote not consulted on cache miss")
		}
		if len(cache.stored) != 3 {
			t.Errorf("Catalog not written back to cache: %d rules", len(cache.stored))
		}
	})
}

type fakeCache struct {
	rules  []Rule
	hit    bool
	stored []Rule
}

func (c *fakeCache) Get(ctx context.Context) ([]Rule, bool) { return c.rules, c.hit }
func (c *fakeCache) Store(ctx context.Context, rules []Rule) {
	c.stored = rules
}

// TestEnginePreview tests the two-phase identify/preview cycle
func TestEnginePreview(t *testing.T) {
	ctx := context.Background()

	t.Run("FullCycle", func(t *testing.T) {
		remote := newTestRemote()
		e := NewEngine(remote, logger.Nop())
		if _, err := e.Upload(ctx, "report.pdf", []byte("content")); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if _, err := e.LoadRules(ctx, false); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}

		ch, err := e.RequestPreview(ctx, false)
		if err != nil {
			t.Fatalf("RequestPreview failed: %v", err)
		}
		outcome := waitPreview(t, ch)
		if outcome.Err != nil {
			t.Fatalf("Preview outcome error: %v", outcome.Err)
		}
		if outcome.Empty {
			t.Error("Outcome marked empty with two items")
		}
		if outcome.Result.Stats.DesensitizedItems != 1 {
			t.Errorf("DesensitizedItems = %d, want 1", outcome.Result.Stats.DesensitizedItems)
		}
		if e.Stage() != StagePreviewFresh {
			t.Errorf("Stage() = %s, want preview_fresh", e.Stage())
		}

		items := e.Items()
		if len(items) != 2 {
			t.Fatalf("Got %d items, want 2", len(items))
		}
		if !items[0].Enabled || !items[1].Enabled {
			t.Error("Fresh batch not fully enabled")
		}
		if items[0].Masked != "138****8000" {
			t.Errorf("Produced value not applied: %q", items[0].Masked)
		}

		rendered, ok := e.RenderPreview()
		if !ok {
			t.Fatal("RenderPreview returned no content")
		}
		if !strings.Contains(rendered, "<mark>138****8000</mark>") {
			t.Errorf("Rendered preview lacks marker: %q", rendered)
		}
	})

	t.Run("RepeatPreviewSkipsIdentification", func(t *testing.T) {
		remote := newTestRemote()
		e := NewEngine(remote, logger.Nop())
		runPreviewCycle(t, e)

		if err := e.ToggleRule("r3"); err != nil {
			t.Fatalf("ToggleRule failed: %v", err)
		}
		if e.Stage() != StageRulesSelected {
			t.Errorf("Stage() after toggle = %s, want rules_selected", e.Stage())
		}

		ch, err := e.RequestPreview(ctx, false)
		if err != nil {
			t.Fatalf("Repeat RequestPreview failed: %v", err)
		}
		if outcome := waitPreview(t, ch); outcome.Err != nil {
			t.Fatalf("Repeat preview error: %v", outcome.Err)
		}
		if remote.identifyCalls != 1 {
			t.Errorf("Identify called %d times, want 1", remote.identifyCalls)
		}
		if remote.previewCalls != 2 {
			t.Errorf("Preview called %d times, want 2", remote.previewCalls)
		}
	})

	t.Run("ForceReidentifies", func(t *testing.T) {
		remote := newTestRemote()
		e := NewEngine(remote, logger.Nop())
		runPreviewCycle(t, e)

		ch, err := e.RequestPreview(ctx, true)
		if err != nil {
			t.Fatalf("Forced RequestPreview failed: %v", err)
		}
		waitPreview(t, ch)
		if remote.identifyCalls != 2 {
			t.Errorf("Identify called %d times, want 2", remote.identifyCalls)
		}
	})

	t.Run("EmptyIdentification", func(t *testing.T) {
		remote := newTestRemote()
		remote.items = nil
		remote.previewData = PreviewData{
			Original:     "nothing here",
			Desensitized: "nothing here",
		}
		e := NewEngine(remote, logger.Nop())
		if _, err := e.Upload(ctx, "report.pdf", nil); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if _, err := e.LoadRules(ctx, false); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}

		ch, err := e.RequestPreview(ctx, false)
		if err != nil {
			t.Fatalf("RequestPreview failed: %v", err)
		}
		outcome := waitPreview(t, ch)
		if outcome.Err != nil {
			t.Fatalf("Outcome error: %v", outcome.Err)
		}
		if !outcome.Empty {
			t.Error("Empty identification not reported")
		}
		if e.Stage() != StagePreviewFresh {
			t.Errorf("Stage() = %s, want preview_fresh", e.Stage())
		}
	})

	t.Run("Guards", func(t *testing.T) {
		e := NewEngine(newTestRemote(), logger.Nop())

		if _, err := e.RequestPreview(ctx, false); !IsKind(err, KindPreconditionNotMet) {
			t.Errorf("Preview without document = %v, want precondition", err)
		}

		if _, err := e.Upload(ctx, "report.pdf", nil); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if _, err := e.RequestPreview(ctx, false); !IsKind(err, KindPreconditionNotMet) {
			t.Errorf("Preview without rules = %v, want precondition", err)
		}
	})

	t.Run("AllItemsDisabledRejected", func(t *testing.T) {
		remote := newTestRemote()
		e := NewEngine(remote, logger.Nop())
		runPreviewCycle(t, e)

		if err := e.ToggleItem("i1"); err != nil {
			t.Fatalf("ToggleItem failed: %v", err)
		}
		if err := e.ToggleItem("i2"); err != nil {
			t.Fatalf("ToggleItem failed: %v", err)
		}

		// The wire protocol cannot carry an empty selection, so the
		// request never leaves the engine.
		if _, err := e.RequestPreview(ctx, false); !IsKind(err, KindPreconditionNotMet) {
			t.Errorf("Preview with all items disabled = %v, want precondition", err)
		}
		if remote.previewCalls != 1 {
			t.Errorf("Preview called %d times, want 1", remote.previewCalls)
		}

		// Forcing re-identification produces a fresh fully-enabled batch.
		ch, err := e.RequestPreview(ctx, true)
		if err != nil {
			t.Fatalf("Forced RequestPreview failed: %v", err)
		}
		if outcome := waitPreview(t, ch); outcome.Err != nil {
			t.Fatalf("Forced preview error: %v", outcome.Err)
		}
		if remote.previewCalls != 2 {
			t.Errorf("Preview called %d times after force, want 2", remote.previewCalls)
		}
	})

	t.Run("MidFlightSelectionChangeInstallsStaleResult", func(t *testing.T) {
		remote := newTestRemote()
		gate := make(chan struct{})
		remote.previewGate = gate
		e := NewEngine(remote, logger.Nop())
		if _, err := e.Upload(ctx, "report.pdf", nil); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if _, err := e.LoadRules(ctx, false); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}

		ch, err := e.RequestPreview(ctx, false)
		if err != nil {
			t.Fatalf("RequestPreview failed: %v", err)
		}

		// Change the rule selection while the computation is in flight.
		if err := e.ToggleRule("r3"); err != nil {
			t.Fatalf("ToggleRule failed: %v", err)
		}
		close(gate)

		outcome := waitPreview(t, ch)
		if outcome.Err != nil {
			t.Fatalf("Preview outcome error: %v", outcome.Err)
		}
		if outcome.Discarded {
			t.Fatal("Completion for the live document was discarded")
		}
		if !outcome.Result.Stale {
			t.Error("Result computed from a superseded selection installed fresh")
		}
		if e.Stage() != StageRulesSelected {
			t.Errorf("Stage() = %s, want rules_selected", e.Stage())
		}
	})

	t.Run("SingleInFlight", func(t *testing.T) {
		remote := newTestRemote()
		gate := make(chan struct{})
		remote.previewGate = gate
		e := NewEngine(remote, logger.Nop())
		if _, err := e.Upload(ctx, "report.pdf", nil); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if _, err := e.LoadRules(ctx, false); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}

		ch, err := e.RequestPreview(ctx, false)
		if err != nil {
			t.Fatalf("First RequestPreview failed: %v", err)
		}
		if _, err := e.RequestPreview(ctx, false); !IsKind(err, KindAlreadyInProgress) {
			t.Errorf("Second RequestPreview = %v, want already in progress", err)
		}

		close(gate)
		if outcome := waitPreview(t, ch); outcome.Err != nil {
			t.Fatalf("Gated preview error: %v", outcome.Err)
		}

		// Guard released after completion.
		ch2, err := e.RequestPreview(ctx, false)
		if err != nil {
			t.Fatalf("RequestPreview after completion failed: %v", err)
		}
		waitPreview(t, ch2)
	})

	t.Run("LateCompletionDiscarded", func(t *testing.T) {
		remote := newTestRemote()
		gate := make(chan struct{})
		remote.previewGate = gate
		e := NewEngine(remote, logger.Nop())
		if _, err := e.Upload(ctx, "report.pdf", nil); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if _, err := e.LoadRules(ctx, false); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}

		ch, err := e.RequestPreview(ctx, false)
		if err != nil {
			t.Fatalf("RequestPreview failed: %v", err)
		}

		// Replace the document while the preview is still in flight.
		if _, err := e.Upload(ctx, "next.pdf", nil); err != nil {
			t.Fatalf("Replacement upload failed: %v", err)
		}
		close(gate)

		outcome := waitPreview(t, ch)
		if !outcome.Discarded {
			t.Fatal("Late completion was not discarded")
		}
		if _, ok := e.Preview(); ok {
			t.Error("Discarded completion mutated the preview")
		}
		if len(e.Items()) != 0 {
			t.Error("Discarded completion mutated the item registry")
		}
	})
}

// TestEngineExport tests the export coordinator
func TestEngineExport(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresFreshPreview", func(t *testing.T) {
		e := NewEngine(newTestRemote(), logger.Nop())
		if _, err := e.Export(ctx, FormatTXT); !IsKind(err, KindPreconditionNotMet) {
			t.Errorf("Export without preview = %v, want precondition", err)
		}
	})

	t.Run("ValidatesFormatAgainstFileKind", func(t *testing.T) {
		e := NewEngine(newTestRemote(), logger.Nop())
		runPreviewCycle(t, e)
		if _, err := e.Export(ctx, FormatDOCX); !IsKind(err, KindValidation) {
			t.Errorf("Export(docx) for pdf = %v, want validation", err)
		}
	})

	t.Run("SuccessRecordsHistoryAndAdvancesStage", func(t *testing.T) {
		e := NewEngine(newTestRemote(), logger.Nop())
		runPreviewCycle(t, e)

		ch, err := e.Export(ctx, FormatTXT)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		outcome := waitExport(t, ch)
		if outcome.Err != nil {
			t.Fatalf("Export outcome error: %v", outcome.Err)
		}
		if string(outcome.Artifact) != "clean" {
			t.Errorf("Artifact = %q, want clean", outcome.Artifact)
		}
		if outcome.Record.Filename != "desensitized_doc.txt" {
			t.Errorf("Filename = %s", outcome.Record.Filename)
		}
		if e.Stage() != StageExported {
			t.Errorf("Stage() = %s, want exported", e.Stage())
		}
		if len(e.History()) != 1 {
			t.Errorf("History length = %d, want 1", len(e.History()))
		}

		// A second export of the same result is rejected until a new
		// preview is produced.
		if _, err := e.Export(ctx, FormatTXT); !IsKind(err, KindPreconditionNotMet) {
			t.Errorf("Repeat export = %v, want precondition", err)
		}
	})

	t.Run("GeneratedFilenameFallback", func(t *testing.T) {
		remote := newTestRemote()
		remote.artifact = Artifact{Data: []byte("clean")}
		e := NewEngine(remote, logger.Nop())
		runPreviewCycle(t, e)

		ch, err := e.Export(ctx, FormatTXT)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		outcome := waitExport(t, ch)
		if outcome.Err != nil {
			t.Fatalf("Export outcome error: %v", outcome.Err)
		}
		name := outcome.Record.Filename
		if !strings.HasPrefix(name, "desensitized_") || !strings.HasSuffix(name, ".txt") {
			t.Errorf("Generated filename = %q", name)
		}
	})

	t.Run("HistoryCap", func(t *testing.T) {
		remote := newTestRemote()
		e := NewEngine(remote, logger.Nop(), WithHistoryLimit(3))
		runPreviewCycle(t, e)

		for i := 0; i < 5; i++ {
			ch, err := e.Export(ctx, FormatTXT)
			if err != nil {
				t.Fatalf("Export %d failed: %v", i, err)
			}
			if outcome := waitExport(t, ch); outcome.Err != nil {
				t.Fatalf("Export %d outcome error: %v", i, outcome.Err)
			}
			// A new preview is required before the next export.
			pch, err := e.RequestPreview(ctx, false)
			if err != nil {
				t.Fatalf("Refresh preview %d failed: %v", i, err)
			}
			waitPreview(t, pch)
		}

		if got := len(e.History()); got != 3 {
			t.Errorf("History length = %d, want 3", got)
		}
	})
}
