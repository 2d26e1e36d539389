package workflow

// Stage is the derived workflow stage. It is never stored independently:
// the engine recomputes it from the session snapshot on demand.
type Stage string

const (
	StageNoDocument     Stage = "no_document"
	StageDocumentLoaded Stage = "document_loaded"
	StageRulesSelected  Stage = "rules_selected"
	StagePreviewFresh   Stage = "preview_fresh"
	StageExported       Stage = "exported"
)

// Session is the single owned state object shared by the coordinators. All
// cross-component coupling goes through it instead of scattered mutable
// fields, and every mutation path runs under the engine's lock.
type Session struct {
	Handle  *DocumentHandle
	Items   *ItemRegistry
	Rules   *RuleTracker
	Preview *PreviewResult
	History []ExportRecord

	// exported marks a successful export of the current fresh preview. Any
	// staleness event or reset clears it, so the Exported stage regresses
	// exactly when the data it derives from changes.
	exported bool

	// generation counts selection mutations (rule or item toggles, catalog
	// installs, resets). A preview computation snapshots it at request time;
	// a completion whose snapshot no longer matches arrives already stale.
	generation uint64
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{
		Items: NewItemRegistry(),
		Rules: NewRuleTracker(),
	}
}

// Stage derives the current workflow stage from the session data.
func (s *Session) Stage() Stage {
	switch {
	case s.Handle == nil:
		return StageNoDocument
	case len(s.Rules.ActiveIDs()) == 0:
		return StageDocumentLoaded
	case s.Preview == nil || s.Preview.Stale:
		return StageRulesSelected
	case s.exported:
		return StageExported
	default:
		return StagePreviewFresh
	}
}

// Reset replaces the document handle and invalidates everything downstream:
// the item registry is cleared, the rule selection returns to catalog
// defaults, and the preview is dropped. Export history is document-agnostic
// and survives.
func (s *Session) Reset(handle DocumentHandle) {
	s.Handle = &handle
	s.Items.Clear()
	s.Rules.ResetToDefaults()
	s.Preview = nil
	s.exported = false
	s.generation++
}

// Generation returns the current selection generation.
func (s *Session) Generation() uint64 { return s.generation }

// MarkPreviewStale transitions the preview result to stale without clearing
// its displayed content. Harmless when no preview exists.
func (s *Session) MarkPreviewStale() {
	if s.Preview != nil {
		s.Preview.Stale = true
	}
	s.exported = false
}

// ClearPreview drops the preview result entirely. Used when the active rule
// set becomes empty, since a preview cannot be requested with zero rules.
func (s *Session) ClearPreview() {
	s.Preview = nil
	s.Items.ClearMasked()
	s.exported = false
}

// SetCatalog installs the rule catalog, resetting the selection to the
// default-enabled subset. The existing preview, if any, no longer reflects
// the selection and goes stale.
func (s *Session) SetCatalog(rules []Rule) {
	s.Rules.SetAvailable(rules)
	s.afterRuleChange()
}

// ToggleRule flips one rule's membership in the active set.
func (s *Session) ToggleRule(ruleID string) error {
	if err := s.Rules.ToggleOne(ruleID); err != nil {
		return err
	}
	s.afterRuleChange()
	return nil
}

// ToggleAllRules selects either the whole catalog or nothing.
func (s *Session) ToggleAllRules(checked bool) {
	s.Rules.ToggleAll(checked)
	s.afterRuleChange()
}

// ToggleItem flips one detected item's enabled flag and marks the preview
// stale. Registry mutation happens before the staleness marking.
func (s *Session) ToggleItem(itemID string) error {
	if err := s.Items.Toggle(itemID); err != nil {
		return err
	}
	s.generation++
	s.MarkPreviewStale()
	return nil
}

// SetPreview installs a fresh preview result. It supersedes any export of
// the previous result, so the stage returns to PreviewFresh.
func (s *Session) SetPreview(result *PreviewResult) {
	s.Preview = result
	s.exported = false
}

// MarkExported records that the current fresh preview has been exported.
func (s *Session) MarkExported() { s.exported = true }

// afterRuleChange applies the invalidation contract for rule-selection
// mutations: stale preview always, cleared preview when nothing is active.
func (s *Session) afterRuleChange() {
	s.generation++
	s.MarkPreviewStale()
	if len(s.Rules.ActiveIDs()) == 0 {
		s.ClearPreview()
	}
}

// RecordExport prepends an export record and truncates the history to the
// configured cap, dropping the oldest entries.
func (s *Session) RecordExport(record ExportRecord, limit int) {
	s.History = append([]ExportRecord{record}, s.History...)
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[:limit]
	}
}
