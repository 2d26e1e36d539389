package workflow

import (
	"context"
	"strings"
	"time"
)

// FileKind is the detected kind of an uploaded document.
type FileKind string

const (
	KindPDF  FileKind = "pdf"
	KindDOCX FileKind = "docx"
	KindXLSX FileKind = "xlsx"
	KindTXT  FileKind = "txt"
	KindMD   FileKind = "md"
)

// ParseFileKind maps a filename extension to a FileKind.
func ParseFileKind(filename string) (FileKind, bool) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "", false
	}
	switch strings.ToLower(filename[idx+1:]) {
	case "pdf":
		return KindPDF, true
	case "docx":
		return KindDOCX, true
	case "xlsx":
		return KindXLSX, true
	case "txt":
		return KindTXT, true
	case "md":
		return KindMD, true
	default:
		return "", false
	}
}

// OutputFormat is an export target format.
type OutputFormat string

const (
	FormatTXT  OutputFormat = "txt"
	FormatMD   OutputFormat = "md"
	FormatDOCX OutputFormat = "docx"
	FormatXLSX OutputFormat = "xlsx"
)

// ExportFormats returns the formats a document of the given kind may be
// exported to: the original-preserving format (PDF originals fall back to
// plain text) plus markdown as the cross-format alternative.
func ExportFormats(kind FileKind) []OutputFormat {
	var preserving OutputFormat
	switch kind {
	case KindPDF, KindTXT:
		preserving = FormatTXT
	case KindDOCX:
		preserving = FormatDOCX
	case KindXLSX:
		preserving = FormatXLSX
	case KindMD:
		return []OutputFormat{FormatMD}
	default:
		return nil
	}
	return []OutputFormat{preserving, FormatMD}
}

// FormatAllowed reports whether format is a valid export target for kind.
func FormatAllowed(kind FileKind, format OutputFormat) bool {
	for _, f := range ExportFormats(kind) {
		if f == format {
			return true
		}
	}
	return false
}

// Strategy is a masking strategy attached to a rule.
type Strategy string

const (
	StrategyMask    Strategy = "mask"
	StrategyReplace Strategy = "replace"
	StrategyDelete  Strategy = "delete"
)

// DocumentHandle identifies the currently uploaded document. It is created
// by a successful upload and replaced wholesale by the next one, never
// mutated in place.
type DocumentHandle struct {
	TaskID     string
	Filename   string
	Kind       FileKind
	Size       int64
	UploadedAt time.Time
}

// Rule is a masking rule from the remote catalog. Rule content is immutable
// for a session; only the selection of active rule ids changes.
type Rule struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	DataType       string   `json:"data_type"`
	Strategy       Strategy `json:"strategy"`
	DefaultEnabled bool     `json:"enabled"`
}

// SensitiveItem is one detected span of sensitive content. Masked holds the
// produced desensitized value and is defined only while the item belongs to
// the most recent preview result. Enabled is the only user-mutable field.
type SensitiveItem struct {
	ID         string  `json:"id"`
	DataType   string  `json:"type"`
	Value      string  `json:"value"`
	Masked     string  `json:"masked,omitempty"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
	Confidence float64 `json:"confidence"`
	Enabled    bool    `json:"selected"`
}

// Statistics summarizes a preview computation.
type Statistics struct {
	TotalItems        int `json:"total_items"`
	DesensitizedItems int `json:"desensitized_items"`
}

// PreviewResult holds the original/desensitized text pair produced by the
// remote preview call. Stale flips to true when any rule or item selection
// changes after the result was produced; the content stays visible but
// export is blocked until a fresh preview replaces it.
type PreviewResult struct {
	Original     string     `json:"original"`
	Desensitized string     `json:"desensitized"`
	Stats        Statistics `json:"statistics"`
	CreatedAt    time.Time  `json:"created_at"`
	Stale        bool       `json:"stale"`
}

// ExportRecord is one entry of the bounded export history.
type ExportRecord struct {
	Filename   string       `json:"filename"`
	Format     OutputFormat `json:"format"`
	ExportedAt time.Time    `json:"exported_at"`
}

// PreviewData is the remote preview payload: the text pair, statistics, and
// the produced value per referenced item id.
type PreviewData struct {
	Original     string
	Desensitized string
	Stats        Statistics
	Values       map[string]string
}

// Artifact is an exported document returned by the remote service. Filename
// is empty when the remote did not suggest one.
type Artifact struct {
	Data     []byte
	Filename string
}

// Remote is the contract with the remote desensitization service. The
// engine never performs detection or redaction itself; every transformation
// goes through these five operations.
type Remote interface {
	Upload(ctx context.Context, filename string, data []byte) (DocumentHandle, error)
	ListRules(ctx context.Context) ([]Rule, error)
	Identify(ctx context.Context, taskID string) ([]SensitiveItem, error)
	Preview(ctx context.Context, taskID string, ruleIDs, itemIDs []string) (PreviewData, error)
	Export(ctx context.Context, taskID string, ruleIDs []string, format OutputFormat) (Artifact, error)
}
