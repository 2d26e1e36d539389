package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cod3vil/data-veil/internal/logger"
	"github.com/cod3vil/data-veil/internal/workflow"
)

// Client talks to the remote desensitization service over HTTP/JSON. It
// implements workflow.Remote. Failures of either transport or service are
// surfaced as RemoteFailure carrying the service's own message when it
// supplies one; the client never retries.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

// New creates a remote client. baseURL points at the service API root,
// e.g. http://localhost:8000/api.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Upload sends the document and asks the service to parse it. The service
// splits upload and parse into two steps; the client presents them as one
// operation that yields a ready document handle.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (workflow.DocumentHandle, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return workflow.DocumentHandle{}, workflow.ErrRemoteFailure("", fmt.Errorf("build upload request: %w", err))
	}
	if _, err := part.Write(data); err != nil {
		return workflow.DocumentHandle{}, workflow.ErrRemoteFailure("", fmt.Errorf("build upload request: %w", err))
	}
	if err := writer.Close(); err != nil {
		return workflow.DocumentHandle{}, workflow.ErrRemoteFailure("", fmt.Errorf("build upload request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return workflow.DocumentHandle{}, workflow.ErrRemoteFailure("", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var task taskResponse
	if err := c.do(req, &task); err != nil {
		return workflow.DocumentHandle{}, err
	}

	c.logger.Debug("Document uploaded to remote",
		zap.String("task_id", task.ID),
		zap.String("status", task.Status),
	)

	// Parse immediately so the handle refers to analyzable content.
	parsed, err := c.parse(ctx, task.ID)
	if err != nil {
		return workflow.DocumentHandle{}, err
	}

	uploaded := parsed.UploadTime
	if uploaded.IsZero() {
		uploaded = time.Now()
	}
	return workflow.DocumentHandle{
		TaskID:     parsed.ID,
		Filename:   parsed.Filename,
		Kind:       workflow.FileKind(parsed.FileType),
		Size:       parsed.FileSize,
		UploadedAt: uploaded,
	}, nil
}

// parse asks the service to extract text content for an uploaded task.
func (c *Client) parse(ctx context.Context, taskID string) (taskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks/"+taskID+"/parse", nil)
	if err != nil {
		return taskResponse{}, workflow.ErrRemoteFailure("", err)
	}
	var task taskResponse
	if err := c.do(req, &task); err != nil {
		return taskResponse{}, err
	}
	return task, nil
}

// ListRules fetches the masking rule catalog.
func (c *Client) ListRules(ctx context.Context) ([]workflow.Rule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rules", nil)
	if err != nil {
		return nil, workflow.ErrRemoteFailure("", err)
	}
	var raw []ruleResponse
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}

	rules := make([]workflow.Rule, len(raw))
	for i, r := range raw {
		rules[i] = workflow.Rule{
			ID:             r.ID,
			Name:           r.Name,
			DataType:       r.DataType,
			Strategy:       workflow.Strategy(r.Strategy),
			DefaultEnabled: r.Enabled,
		}
	}
	return rules, nil
}

// Identify runs sensitive-data detection for the document. Desensitized
// values are not produced here; they appear only after a preview.
func (c *Client) Identify(ctx context.Context, taskID string) ([]workflow.SensitiveItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks/"+taskID+"/identify", nil)
	if err != nil {
		return nil, workflow.ErrRemoteFailure("", err)
	}
	var raw []sensitiveItemResponse
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}

	items := make([]workflow.SensitiveItem, len(raw))
	for i, r := range raw {
		items[i] = workflow.SensitiveItem{
			ID:         r.ID,
			DataType:   r.Type,
			Value:      r.Value,
			StartPos:   r.StartPos,
			EndPos:     r.EndPos,
			Confidence: r.Confidence,
		}
	}
	return items, nil
}

// Preview computes the desensitized rendition for the given rule and item
// selection.
func (c *Client) Preview(ctx context.Context, taskID string, ruleIDs, itemIDs []string) (workflow.PreviewData, error) {
	body, err := json.Marshal(previewRequest{Rules: ruleIDs, SensitiveItems: itemIDs})
	if err != nil {
		return workflow.PreviewData{}, workflow.ErrRemoteFailure("", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks/"+taskID+"/preview", bytes.NewReader(body))
	if err != nil {
		return workflow.PreviewData{}, workflow.ErrRemoteFailure("", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var raw previewResponse
	if err := c.do(req, &raw); err != nil {
		return workflow.PreviewData{}, err
	}

	values := make(map[string]string, len(raw.Items))
	for _, item := range raw.Items {
		values[item.ID] = item.DesensitizedValue
	}
	return workflow.PreviewData{
		Original:     raw.Original,
		Desensitized: raw.Desensitized,
		Stats: workflow.Statistics{
			TotalItems:        raw.Statistics["total_items"],
			DesensitizedItems: raw.Statistics["desensitized_items"],
		},
		Values: values,
	}, nil
}

// Export retrieves the sanitized artifact in the requested format. The
// suggested filename comes from the Content-Disposition header when the
// service supplies one.
func (c *Client) Export(ctx context.Context, taskID string, ruleIDs []string, format workflow.OutputFormat) (workflow.Artifact, error) {
	body, err := json.Marshal(exportRequest{Rules: ruleIDs, OutputFormat: string(format)})
	if err != nil {
		return workflow.Artifact{}, workflow.ErrRemoteFailure("", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks/"+taskID+"/export", bytes.NewReader(body))
	if err != nil {
		return workflow.Artifact{}, workflow.ErrRemoteFailure("", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return workflow.Artifact{}, workflow.ErrRemoteFailure("", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return workflow.Artifact{}, c.errorFrom(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return workflow.Artifact{}, workflow.ErrRemoteFailure("", err)
	}

	return workflow.Artifact{
		Data:     data,
		Filename: filenameFrom(resp.Header.Get("Content-Disposition")),
	}, nil
}

// do executes a JSON request and decodes the response into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return workflow.ErrRemoteFailure("", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFrom(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return workflow.ErrRemoteFailure("", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// errorFrom builds a RemoteFailure from a non-2xx response, preferring the
// service's own message.
func (c *Client) errorFrom(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var remoteErr errorResponse
	message := ""
	if err := json.Unmarshal(body, &remoteErr); err == nil {
		switch {
		case remoteErr.Message != "":
			message = remoteErr.Message
		case remoteErr.Detail != "":
			message = remoteErr.Detail
		}
	}

	c.logger.Warn("Remote call failed",
		zap.String("url", resp.Request.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("message", message),
	)
	return workflow.ErrRemoteFailure(message, fmt.Errorf("remote returned status %d", resp.StatusCode))
}

// filenameFrom extracts the filename parameter of a Content-Disposition
// header, empty when absent or malformed.
func filenameFrom(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
