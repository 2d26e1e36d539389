package workflow

// ItemRegistry holds the detected sensitive items for the current document.
// Items are replaced wholesale on every identification run and destroyed
// when the document handle changes. Load order is preserved for stable
// rendering.
//
// The registry is a plain collection: staleness side effects of toggling
// belong to the owning Session, which mutates the registry before marking
// the preview stale.
type ItemRegistry struct {
	items []SensitiveItem
	index map[string]int
}

// NewItemRegistry creates an empty registry.
func NewItemRegistry() *ItemRegistry {
	return &ItemRegistry{index: make(map[string]int)}
}

// Load replaces the entire collection with a new batch, every item enabled.
// An empty batch is a valid "no sensitive data found" outcome: the registry
// is still cleared and the EmptyResult condition is returned for reporting,
// not as a failure.
func (r *ItemRegistry) Load(items []SensitiveItem) error {
	r.items = make([]SensitiveItem, len(items))
	r.index = make(map[string]int, len(items))
	for i, item := range items {
		item.Enabled = true
		item.Masked = ""
		r.items[i] = item
		r.index[item.ID] = i
	}
	if len(items) == 0 {
		return ErrEmptyResult()
	}
	return nil
}

// Clear drops all items.
func (r *ItemRegistry) Clear() {
	r.items = nil
	r.index = make(map[string]int)
}

// Toggle flips a single item's enabled flag.
func (r *ItemRegistry) Toggle(itemID string) error {
	i, ok := r.index[itemID]
	if !ok {
		return ErrNotFound()
	}
	r.items[i].Enabled = !r.items[i].Enabled
	return nil
}

// EnabledIDs returns the ids of enabled items in load order.
func (r *ItemRegistry) EnabledIDs() []string {
	ids := make([]string, 0, len(r.items))
	for _, item := range r.items {
		if item.Enabled {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// Items returns a copy of the collection in load order.
func (r *ItemRegistry) Items() []SensitiveItem {
	out := make([]SensitiveItem, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of items currently loaded.
func (r *ItemRegistry) Len() int { return len(r.items) }

// ApplyMasked writes produced desensitized values back onto matching items.
// Ids without a registry entry are ignored: the remote is the source of
// truth for existence but never fabricates registry rows.
func (r *ItemRegistry) ApplyMasked(values map[string]string) int {
	applied := 0
	for id, masked := range values {
		if i, ok := r.index[id]; ok {
			r.items[i].Masked = masked
			applied++
		}
	}
	return applied
}

// ClearMasked drops all produced values, detaching items from any previous
// preview result.
func (r *ItemRegistry) ClearMasked() {
	for i := range r.items {
		r.items[i].Masked = ""
	}
}
