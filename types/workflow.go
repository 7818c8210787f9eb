package types

import "time"

// RunStatus is the lifecycle state of a processing screen.
type RunStatus string

const (
	RunIdle       RunStatus = "idle"
	RunProcessing RunStatus = "processing"
	RunSuccess    RunStatus = "success"
	RunError      RunStatus = "error"
)

// ResponseKind describes what a processing endpoint returns on success.
type ResponseKind string

const (
	// ResponseJSON is a {message, download_url, summary_data} document.
	ResponseJSON ResponseKind = "json"
	// ResponseBinary is a spreadsheet body.
	ResponseBinary ResponseKind = "binary"
)

// SummaryRow is one row of tabular preview data. Keys are column names.
type SummaryRow map[string]any

// UploadedFile is a file attached to a slot of a processing screen.
type UploadedFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Data        []byte `json:"-"`
}

// RunView is the browser-facing snapshot of a processing screen.
type RunView struct {
	ModuleID    string                    `json:"module_id"`
	Status      RunStatus                 `json:"status"`
	Message     string                    `json:"message,omitempty"`
	Progress    string                    `json:"progress,omitempty"`
	DownloadURL string                    `json:"download_url,omitempty"`
	Filename    string                    `json:"filename,omitempty"`
	Summary     []SummaryRow              `json:"summary,omitempty"`
	Files       map[string][]UploadedFile `json:"files"`
	Fields      map[string]string         `json:"fields"`
	CanSubmit   bool                      `json:"can_submit"`
}

// RunEvent is published when a processing run finishes.
type RunEvent struct {
	ID         string    `json:"id"`
	ModuleID   string    `json:"module_id"`
	Username   string    `json:"username"`
	Status     RunStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}
