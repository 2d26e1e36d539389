package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cod3vil/data-veil/internal/logger"
)

// DefaultHistoryLimit caps the export history.
const DefaultHistoryLimit = 5

// CatalogCache is an optional read-through cache for the remote rule
// catalog. A miss falls through to the remote; store failures are the
// cache's problem, not the engine's.
type CatalogCache interface {
	Get(ctx context.Context) ([]Rule, bool)
	Store(ctx context.Context, rules []Rule)
}

// AuditEntry describes one workflow operation for the audit trail.
type AuditEntry struct {
	Operation string
	TaskID    string
	Details   map[string]interface{}
}

// Auditor records workflow operations. Recording is best effort and must
// never fail the operation it describes.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Engine is the workflow coordinator. It owns the session state, enforces
// the single in-flight guard per remote computation, and applies remote
// completions only when they still belong to the current document handle.
//
// All state lives behind one mutex; remote calls run in goroutines outside
// it and re-enter through the complete* methods.
type Engine struct {
	mu      sync.Mutex
	session *Session
	remote  Remote
	logger  *logger.Logger

	cache        CatalogCache
	audit        Auditor
	historyLimit int

	inFlightPreview bool
	inFlightExport  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalogCache attaches a rule catalog cache.
func WithCatalogCache(cache CatalogCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithAuditor attaches an operation audit recorder.
func WithAuditor(audit Auditor) Option {
	return func(e *Engine) { e.audit = audit }
}

// WithHistoryLimit overrides the export history cap.
func WithHistoryLimit(limit int) Option {
	return func(e *Engine) { e.historyLimit = limit }
}

// NewEngine creates a workflow engine backed by the given remote service.
func NewEngine(remote Remote, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		session:      NewSession(),
		remote:       remote,
		logger:       log,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Upload sends the document to the remote service and, on success, replaces
// the document handle. Replacement resets everything downstream and releases
// the in-flight guards: a response still in flight for the old handle will
// be discarded when it arrives.
func (e *Engine) Upload(ctx context.Context, filename string, data []byte) (DocumentHandle, error) {
	if _, ok := ParseFileKind(filename); !ok {
		return DocumentHandle{}, ErrValidation("unsupported file format")
	}

	handle, err := e.remote.Upload(ctx, filename, data)
	if err != nil {
		return DocumentHandle{}, err
	}

	e.mu.Lock()
	e.session.Reset(handle)
	e.inFlightPreview = false
	e.inFlightExport = false
	e.mu.Unlock()

	e.logger.Info("Document uploaded",
		zap.String("task_id", handle.TaskID),
		zap.String("filename", handle.Filename),
		zap.String("file_kind", string(handle.Kind)),
		zap.Int64("size", handle.Size),
	)
	e.record(ctx, AuditEntry{
		Operation: "upload",
		TaskID:    handle.TaskID,
		Details: map[string]interface{}{
			"filename":  handle.Filename,
			"file_type": string(handle.Kind),
			"file_size": handle.Size,
		},
	})
	return handle, nil
}

// LoadRules returns the rule catalog, fetching it on first use. The fetch
// goes through the catalog cache when one is attached. Installing a catalog
// resets the active selection to its default-enabled subset, so an already
// loaded catalog is only replaced when force is set.
func (e *Engine) LoadRules(ctx context.Context, force bool) ([]Rule, error) {
	e.mu.Lock()
	if e.session.Rules.Len() > 0 && !force {
		rules := e.session.Rules.Rules()
		e.mu.Unlock()
		return rules, nil
	}
	e.mu.Unlock()

	rules, cached := []Rule(nil), false
	if e.cache != nil {
		rules, cached = e.cache.Get(ctx)
	}
	if !cached {
		var err error
		rules, err = e.remote.ListRules(ctx)
		if err != nil {
			return nil, err
		}
		if e.cache != nil {
			e.cache.Store(ctx, rules)
		}
	}

	e.mu.Lock()
	e.session.SetCatalog(rules)
	e.mu.Unlock()

	e.logger.Info("Rule catalog loaded",
		zap.Int("rules", len(rules)),
		zap.Bool("from_cache", cached),
	)
	return rules, nil
}

// ToggleRule flips one rule's active state. The preview, if any, goes stale.
func (e *Engine) ToggleRule(ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.ToggleRule(ruleID)
}

// ToggleAllRules selects the whole catalog or clears the selection.
func (e *Engine) ToggleAllRules(checked bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.ToggleAllRules(checked)
}

// ToggleItem flips one detected item's enabled flag. The preview goes stale.
func (e *Engine) ToggleItem(itemID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.ToggleItem(itemID)
}

// Stage derives the current workflow stage.
func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Stage()
}

// Handle returns the current document handle, if any.
func (e *Engine) Handle() (DocumentHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Handle == nil {
		return DocumentHandle{}, false
	}
	return *e.session.Handle, true
}

// Rules returns the catalog, the active ids, and the selection tri-state.
func (e *Engine) Rules() ([]Rule, []string, SelectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Rules.Rules(), e.session.Rules.ActiveIDs(), e.session.Rules.SelectionState()
}

// SelectionState returns the rule selection tri-state.
func (e *Engine) SelectionState() SelectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Rules.SelectionState()
}

// Items returns the detected items in load order.
func (e *Engine) Items() []SensitiveItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Items.Items()
}

// Preview returns a copy of the current preview result, fresh or stale.
func (e *Engine) Preview() (PreviewResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Preview == nil {
		return PreviewResult{}, false
	}
	return *e.session.Preview, true
}

// RenderPreview returns the current desensitized text with enabled item
// values highlighted. The rendering is pure and safe to repeat: stale
// content renders the same way until replaced.
func (e *Engine) RenderPreview() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Preview == nil {
		return "", false
	}
	return Highlight(e.session.Preview.Desensitized, e.session.Items.Items()), true
}

// History returns the export history, most recent first.
func (e *Engine) History() []ExportRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExportRecord, len(e.session.History))
	copy(out, e.session.History)
	return out
}

// record forwards an audit entry when an auditor is attached.
func (e *Engine) record(ctx context.Context, entry AuditEntry) {
	if e.audit != nil {
		e.audit.Record(ctx, entry)
	}
}
