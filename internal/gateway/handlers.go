package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cod3vil/data-veil/internal/websocket"
	"github.com/cod3vil/data-veil/internal/workflow"
)

// handleUpload accepts a multipart document, validates it client-side, and
// hands it to the engine. A successful upload replaces the current session
// wholesale.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.config.Upload.MaxFileSize); err != nil {
		writeError(w, workflow.ErrValidation("malformed multipart body"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, workflow.ErrValidation("missing file field"))
		return
	}
	defer file.Close()

	if err := s.validateUpload(header.Filename, header.Size); err != nil {
		writeError(w, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.config.Upload.MaxFileSize+1))
	if err != nil {
		writeError(w, workflow.ErrValidation("unreadable file payload"))
		return
	}
	if int64(len(data)) > s.config.Upload.MaxFileSize {
		writeError(w, workflow.ErrValidation(fmt.Sprintf("file exceeds the %d byte limit", s.config.Upload.MaxFileSize)))
		return
	}

	handle, err := s.engine.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeDocumentUploaded,
		Timestamp: time.Now(),
		Data: websocket.DocumentUploadedEvent{
			TaskID:   handle.TaskID,
			Filename: handle.Filename,
			FileKind: string(handle.Kind),
			Size:     handle.Size,
		},
	})

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"task_id":        handle.TaskID,
		"filename":       handle.Filename,
		"file_kind":      handle.Kind,
		"size":           handle.Size,
		"uploaded_at":    handle.UploadedAt,
		"stage":          s.engine.Stage(),
		"export_formats": workflow.ExportFormats(handle.Kind),
	})
}

// validateUpload applies the configured extension and size limits before any
// bytes are sent to the remote service.
func (s *Server) validateUpload(filename string, size int64) error {
	if size > s.config.Upload.MaxFileSize {
		return workflow.ErrValidation(fmt.Sprintf("file exceeds the %d byte limit", s.config.Upload.MaxFileSize))
	}
	kind, ok := workflow.ParseFileKind(filename)
	if !ok {
		return workflow.ErrValidation("unsupported file extension")
	}
	for _, ext := range s.config.Upload.AllowedExtensions {
		if strings.EqualFold(ext, string(kind)) {
			return nil
		}
	}
	return workflow.ErrValidation(fmt.Sprintf("extension %q is not allowed", kind))
}

// handleListRules returns the rule catalog with the current selection. The
// catalog is fetched on first use; pass refresh=true to force a reload.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"
	if _, err := s.engine.LoadRules(r.Context(), force); err != nil {
		writeError(w, err)
		return
	}
	rules, active, state := s.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":           rules,
		"active_ids":      active,
		"selection_state": state,
		"stage":           s.engine.Stage(),
	})
}

// handleToggleRule flips a single rule's membership in the active set.
func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.ToggleRule(id); err != nil {
		writeError(w, err)
		return
	}
	s.writeSelection(w)
}

// handleToggleAllRules checks or unchecks every rule at once.
func (s *Server) handleToggleAllRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Checked bool `json:"checked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, workflow.ErrValidation("malformed request body"))
		return
	}
	s.engine.ToggleAllRules(body.Checked)
	s.writeSelection(w)
}

func (s *Server) writeSelection(w http.ResponseWriter) {
	_, active, state := s.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_ids":      active,
		"selection_state": state,
		"stage":           s.engine.Stage(),
	})
}

// handleListItems returns the sensitive items of the current document.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": s.engine.Items(),
		"stage": s.engine.Stage(),
	})
}

// handleToggleItem flips a single item's enabled flag.
func (s *Server) handleToggleItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.ToggleItem(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": s.engine.Items(),
		"stage": s.engine.Stage(),
	})
}

// handleRequestPreview runs one identify/preview cycle and waits for its
// completion. The guard errors surface immediately; a second request while
// one is in flight is rejected with a conflict.
func (s *Server) handleRequestPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, workflow.ErrValidation("malformed request body"))
			return
		}
	}

	start := time.Now()
	ch, err := s.engine.RequestPreview(r.Context(), body.Force)
	if err != nil {
		writeError(w, err)
		return
	}

	select {
	case <-r.Context().Done():
		writeError(w, workflow.ErrRemoteFailure("preview wait cancelled", r.Context().Err()))
	case outcome := <-ch:
		s.broadcastPreview(outcome, time.Since(start))
		if outcome.Err != nil {
			writeError(w, outcome.Err)
			return
		}
		if outcome.Discarded {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"task_id":   outcome.TaskID,
				"discarded": true,
			})
			return
		}
		highlighted, _ := s.engine.RenderPreview()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"task_id":     outcome.TaskID,
			"result":      outcome.Result,
			"items":       outcome.Items,
			"empty":       outcome.Empty,
			"highlighted": highlighted,
			"stage":       s.engine.Stage(),
		})
	}
}

func (s *Server) broadcastPreview(outcome workflow.PreviewOutcome, elapsed time.Duration) {
	if outcome.Discarded {
		return
	}
	event := websocket.PreviewCompletedEvent{
		TaskID:     outcome.TaskID,
		Empty:      outcome.Empty,
		DurationMS: float64(elapsed.Milliseconds()),
	}
	if outcome.Result != nil {
		event.TotalItems = outcome.Result.Stats.TotalItems
		event.DesensitizedItems = outcome.Result.Stats.DesensitizedItems
	}
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypePreviewCompleted,
		Timestamp: time.Now(),
		Data:      event,
	})
}

// handleGetPreview returns the stored preview result, including its
// staleness flag, without contacting the remote service.
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	result, ok := s.engine.Preview()
	if !ok {
		writeError(w, workflow.ErrNotFound())
		return
	}
	highlighted, _ := s.engine.RenderPreview()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":      result,
		"highlighted": highlighted,
		"stage":       s.engine.Stage(),
	})
}

// handleExport requests a sanitized artifact and streams it back as a file
// download once the remote call completes.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Format string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, workflow.ErrValidation("malformed request body"))
		return
	}
	if body.Format == "" {
		writeError(w, workflow.ErrValidation("missing output format"))
		return
	}

	ch, err := s.engine.Export(r.Context(), workflow.OutputFormat(body.Format))
	if err != nil {
		writeError(w, err)
		return
	}

	select {
	case <-r.Context().Done():
		writeError(w, workflow.ErrRemoteFailure("export wait cancelled", r.Context().Err()))
	case outcome := <-ch:
		s.broadcastExport(outcome, body.Format)
		if outcome.Err != nil {
			writeError(w, outcome.Err)
			return
		}
		if outcome.Discarded {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"task_id":   outcome.TaskID,
				"discarded": true,
			})
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outcome.Record.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(outcome.Artifact)
	}
}

func (s *Server) broadcastExport(outcome workflow.ExportOutcome, format string) {
	if outcome.Discarded {
		return
	}
	event := websocket.ExportCompletedEvent{
		TaskID: outcome.TaskID,
		Format: format,
	}
	if outcome.Record != nil {
		event.Filename = outcome.Record.Filename
	}
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeExportCompleted,
		Timestamp: time.Now(),
		Data:      event,
	})
}

// handleHistory returns the bounded export history, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exports": s.engine.History(),
	})
}

// handleStatus reports the derived workflow stage and the session summary
// the UI needs to decide which controls to enable.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"stage":           s.engine.Stage(),
		"selection_state": s.engine.SelectionState(),
		"item_count":      len(s.engine.Items()),
		"history_count":   len(s.engine.History()),
	}
	if handle, ok := s.engine.Handle(); ok {
		status["document"] = map[string]interface{}{
			"task_id":        handle.TaskID,
			"filename":       handle.Filename,
			"file_kind":      handle.Kind,
			"size":           handle.Size,
			"uploaded_at":    handle.UploadedAt,
			"export_formats": workflow.ExportFormats(handle.Kind),
		}
	}
	if result, ok := s.engine.Preview(); ok {
		status["preview"] = map[string]interface{}{
			"created_at": result.CreatedAt,
			"stale":      result.Stale,
			"statistics": result.Stats,
		}
	}
	writeJSON(w, http.StatusOK, status)
}
