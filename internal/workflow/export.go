package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExportOutcome is delivered on the completion channel of an export
// request. Discarded marks a late completion for a replaced handle.
type ExportOutcome struct {
	TaskID    string
	Record    *ExportRecord
	Artifact  []byte
	Discarded bool
	Err       error
}

// Export requests a sanitized artifact from the remote service. It is
// permitted only while the workflow stage is PreviewFresh, with an output
// format derived from the original file kind. One export may be in flight
// per document; a concurrent attempt is rejected, not queued.
func (e *Engine) Export(ctx context.Context, format OutputFormat) (<-chan ExportOutcome, error) {
	e.mu.Lock()
	if e.session.Stage() != StagePreviewFresh {
		e.mu.Unlock()
		return nil, ErrPreconditionNotMet()
	}
	if !FormatAllowed(e.session.Handle.Kind, format) {
		e.mu.Unlock()
		return nil, ErrValidation(fmt.Sprintf("format %q not available for %s documents", format, e.session.Handle.Kind))
	}
	if e.inFlightExport {
		e.mu.Unlock()
		return nil, ErrAlreadyInProgress()
	}
	e.inFlightExport = true
	taskID := e.session.Handle.TaskID
	ruleIDs := e.session.Rules.ActiveIDs()
	e.mu.Unlock()

	ch := make(chan ExportOutcome, 1)
	go func() {
		artifact, err := e.remote.Export(ctx, taskID, ruleIDs, format)
		e.completeExport(ctx, ch, taskID, format, artifact, err)
	}()
	return ch, nil
}

// completeExport applies an export completion under the engine lock,
// discarding it when the originating handle was replaced.
func (e *Engine) completeExport(ctx context.Context, ch chan<- ExportOutcome, taskID string, format OutputFormat, artifact Artifact, err error) {
	e.mu.Lock()

	if e.session.Handle == nil || e.session.Handle.TaskID != taskID {
		e.mu.Unlock()
		e.logger.Warn("Discarding export completion for replaced document",
			zap.String("task_id", taskID),
		)
		ch <- ExportOutcome{TaskID: taskID, Discarded: true}
		return
	}

	e.inFlightExport = false

	if err != nil {
		e.mu.Unlock()
		e.logger.Error("Export failed", zap.String("task_id", taskID), zap.Error(err))
		ch <- ExportOutcome{TaskID: taskID, Err: err}
		return
	}

	filename := artifact.Filename
	if filename == "" {
		filename = fmt.Sprintf("desensitized_%s.%s", time.Now().Format("20060102_150405"), format)
	}
	record := ExportRecord{
		Filename:   filename,
		Format:     format,
		ExportedAt: time.Now(),
	}
	e.session.RecordExport(record, e.historyLimit)
	e.session.MarkExported()
	e.mu.Unlock()

	e.logger.Info("Export completed",
		zap.String("task_id", taskID),
		zap.String("filename", filename),
		zap.String("format", string(format)),
		zap.Int("size", len(artifact.Data)),
	)
	e.record(ctx, AuditEntry{
		Operation: "download",
		TaskID:    taskID,
		Details: map[string]interface{}{
			"filename":      filename,
			"output_format": string(format),
		},
	})

	ch <- ExportOutcome{TaskID: taskID, Record: &record, Artifact: artifact.Data}
}
