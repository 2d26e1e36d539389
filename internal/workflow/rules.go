package workflow

// SelectionState is the tri-state of the rule selection, used for display.
type SelectionState string

const (
	SelectionNone    SelectionState = "none"
	SelectionAll     SelectionState = "all"
	SelectionPartial SelectionState = "partial"
)

// RuleTracker holds the rule catalog for the session and the set of
// currently active rule ids. Rule content is never mutated; the active set
// is always a subset of the catalog. Staleness side effects of mutations
// belong to the owning Session.
type RuleTracker struct {
	catalog []Rule
	index   map[string]int
	active  map[string]bool
}

// NewRuleTracker creates a tracker with an empty catalog.
func NewRuleTracker() *RuleTracker {
	return &RuleTracker{index: make(map[string]int), active: make(map[string]bool)}
}

// SetAvailable replaces the catalog and resets the active selection to the
// subset whose default-enabled flag is set.
func (t *RuleTracker) SetAvailable(rules []Rule) {
	t.catalog = make([]Rule, len(rules))
	copy(t.catalog, rules)
	t.index = make(map[string]int, len(rules))
	t.active = make(map[string]bool)
	for i, rule := range rules {
		t.index[rule.ID] = i
		if rule.DefaultEnabled {
			t.active[rule.ID] = true
		}
	}
}

// ResetToDefaults restores the active selection to the catalog defaults
// without reloading the catalog.
func (t *RuleTracker) ResetToDefaults() {
	t.active = make(map[string]bool)
	for _, rule := range t.catalog {
		if rule.DefaultEnabled {
			t.active[rule.ID] = true
		}
	}
}

// ToggleAll sets the active selection to all or none of the catalog.
func (t *RuleTracker) ToggleAll(checked bool) {
	t.active = make(map[string]bool)
	if checked {
		for _, rule := range t.catalog {
			t.active[rule.ID] = true
		}
	}
}

// ToggleOne adds or removes a single rule id from the active set.
func (t *RuleTracker) ToggleOne(ruleID string) error {
	if _, ok := t.index[ruleID]; !ok {
		return ErrNotFound()
	}
	if t.active[ruleID] {
		delete(t.active, ruleID)
	} else {
		t.active[ruleID] = true
	}
	return nil
}

// SelectionState derives the tri-state of the current selection. Partial
// holds iff the active set is non-empty and smaller than the catalog.
func (t *RuleTracker) SelectionState() SelectionState {
	switch {
	case len(t.active) == 0:
		return SelectionNone
	case len(t.active) == len(t.catalog):
		return SelectionAll
	default:
		return SelectionPartial
	}
}

// ActiveIDs returns the active rule ids in catalog order.
func (t *RuleTracker) ActiveIDs() []string {
	ids := make([]string, 0, len(t.active))
	for _, rule := range t.catalog {
		if t.active[rule.ID] {
			ids = append(ids, rule.ID)
		}
	}
	return ids
}

// Rules returns a copy of the catalog.
func (t *RuleTracker) Rules() []Rule {
	out := make([]Rule, len(t.catalog))
	copy(out, t.catalog)
	return out
}

// IsActive reports whether the rule id is currently selected.
func (t *RuleTracker) IsActive(ruleID string) bool { return t.active[ruleID] }

// Len returns the catalog size.
func (t *RuleTracker) Len() int { return len(t.catalog) }
