package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PreviewOutcome is delivered on the completion channel of a preview
// request. Discarded marks a late completion whose originating handle was
// replaced before it arrived; no state was applied.
type PreviewOutcome struct {
	TaskID    string
	Result    *PreviewResult
	Items     []SensitiveItem
	Empty     bool
	Discarded bool
	Err       error
}

// RequestPreview starts the two-phase identify/preview computation against
// the current document. Precondition and concurrency guards are checked
// synchronously; the remote calls run in a goroutine and the outcome is
// delivered exactly once on the returned channel.
//
// Identification runs only when no item batch exists for the current
// document, or when force is set; repeat previews against the same document
// reuse the existing batch. Disabled items are excluded from the preview
// request, which is the chosen reconciliation semantics between item
// toggling and the remote cycle. A batch with every item disabled is
// rejected here: the wire protocol reads an absent item list as "all
// items", so an empty selection must never reach the remote.
func (e *Engine) RequestPreview(ctx context.Context, force bool) (<-chan PreviewOutcome, error) {
	e.mu.Lock()
	if e.session.Handle == nil {
		e.mu.Unlock()
		return nil, ErrPreconditionNotMet()
	}
	ruleIDs := e.session.Rules.ActiveIDs()
	if len(ruleIDs) == 0 {
		e.mu.Unlock()
		return nil, ErrPreconditionNotMet()
	}
	if e.inFlightPreview {
		e.mu.Unlock()
		return nil, ErrAlreadyInProgress()
	}
	identify := force || e.session.Items.Len() == 0
	itemIDs := e.session.Items.EnabledIDs()
	if !identify && len(itemIDs) == 0 {
		e.mu.Unlock()
		return nil, ErrPreconditionNotMet()
	}
	e.inFlightPreview = true
	taskID := e.session.Handle.TaskID
	generation := e.session.Generation()
	e.mu.Unlock()

	ch := make(chan PreviewOutcome, 1)
	go e.runPreview(ctx, ch, taskID, ruleIDs, itemIDs, identify, generation)
	return ch, nil
}

// runPreview performs the remote calls for one preview cycle and hands the
// result back to the engine.
func (e *Engine) runPreview(ctx context.Context, ch chan<- PreviewOutcome, taskID string, ruleIDs, itemIDs []string, identify bool, generation uint64) {
	var items []SensitiveItem
	if identify {
		var err error
		items, err = e.remote.Identify(ctx, taskID)
		if err != nil {
			e.completePreview(ctx, ch, taskID, ruleIDs, generation, identify, nil, PreviewData{}, err)
			return
		}
		// A fresh batch starts fully enabled.
		itemIDs = make([]string, len(items))
		for i, item := range items {
			itemIDs[i] = item.ID
		}
	}

	data, err := e.remote.Preview(ctx, taskID, ruleIDs, itemIDs)
	e.completePreview(ctx, ch, taskID, ruleIDs, generation, identify, items, data, err)
}

// completePreview applies a preview completion under the engine lock. A
// completion whose task id no longer matches the current handle is
// discarded: the notification is still delivered, but no state changes.
// Registry writes happen before the freshness flip, which happens before
// the notification. A selection change that landed while the computation
// was in flight moves the session generation, and the result is then
// installed already stale: its content came from the pre-change selection.
func (e *Engine) completePreview(ctx context.Context, ch chan<- PreviewOutcome, taskID string, ruleIDs []string, generation uint64, identified bool, items []SensitiveItem, data PreviewData, err error) {
	e.mu.Lock()

	if e.session.Handle == nil || e.session.Handle.TaskID != taskID {
		e.mu.Unlock()
		e.logger.Warn("Discarding preview completion for replaced document",
			zap.String("task_id", taskID),
		)
		ch <- PreviewOutcome{TaskID: taskID, Discarded: true}
		return
	}

	e.inFlightPreview = false

	if err != nil {
		e.mu.Unlock()
		e.logger.Error("Preview failed", zap.String("task_id", taskID), zap.Error(err))
		ch <- PreviewOutcome{TaskID: taskID, Err: err}
		return
	}

	empty := false
	if identified {
		if loadErr := e.session.Items.Load(items); IsKind(loadErr, KindEmptyResult) {
			empty = true
		}
	}
	e.session.Items.ApplyMasked(data.Values)

	result := &PreviewResult{
		Original:     data.Original,
		Desensitized: data.Desensitized,
		Stats:        data.Stats,
		CreatedAt:    time.Now(),
		Stale:        e.session.Generation() != generation,
	}
	e.session.SetPreview(result)
	snapshot := *result
	outItems := e.session.Items.Items()
	e.mu.Unlock()

	e.logger.Info("Preview completed",
		zap.String("task_id", taskID),
		zap.Bool("identified", identified),
		zap.Int("total_items", data.Stats.TotalItems),
		zap.Int("desensitized_items", data.Stats.DesensitizedItems),
	)
	e.record(ctx, AuditEntry{
		Operation: "preview",
		TaskID:    taskID,
		Details: map[string]interface{}{
			"applied_rules":      ruleIDs,
			"total_items":        data.Stats.TotalItems,
			"desensitized_items": data.Stats.DesensitizedItems,
		},
	})

	ch <- PreviewOutcome{
		TaskID: taskID,
		Result: &snapshot,
		Items:  outItems,
		Empty:  empty,
	}
}
