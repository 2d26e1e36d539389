package remote

import "time"

// taskResponse mirrors the backend's task record returned by the upload and
// parse endpoints.
type taskResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	FileType   string    `json:"file_type"`
	UploadTime time.Time `json:"upload_time"`
	Status     string    `json:"status"`
}

// ruleResponse mirrors one catalog rule.
type ruleResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Strategy string `json:"strategy"`
	Enabled  bool   `json:"enabled"`
}

// sensitiveItemResponse mirrors one identified span.
type sensitiveItemResponse struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
	Confidence float64 `json:"confidence"`
}

// previewRequest is the body of the preview call. SensitiveItems restricts
// the computation to the listed item ids; nil means all.
type previewRequest struct {
	Rules          []string `json:"rules"`
	SensitiveItems []string `json:"sensitive_items,omitempty"`
}

// previewResponse mirrors the preview result, including the produced value
// per item so the client can reconcile its registry.
type previewResponse struct {
	Original     string         `json:"original"`
	Desensitized string         `json:"desensitized"`
	Statistics   map[string]int `json:"statistics"`
	Items        []previewItem  `json:"items,omitempty"`
}

type previewItem struct {
	ID                string `json:"id"`
	DesensitizedValue string `json:"desensitized_value"`
}

// exportRequest is the body of the export call.
type exportRequest struct {
	Rules        []string `json:"rules"`
	OutputFormat string   `json:"output_format"`
}

// errorResponse mirrors the backend's structured error shape.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}
