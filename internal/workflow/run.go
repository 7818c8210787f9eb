// Package workflow drives the upload and process screens: a generic run
// controller configured per screen, and the two-step challan flow.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/metrics"
	"github.com/taxdesk/portal/internal/preview"
	"github.com/taxdesk/portal/types"
)

// ErrBusy is returned when a run is already processing.
var ErrBusy = errors.New("a submission is already in progress")

// ErrUnknownSlot is returned for slot keys the screen does not declare.
var ErrUnknownSlot = errors.New("unknown file slot")

// ErrUnknownField is returned for field names the screen does not declare.
var ErrUnknownField = errors.New("unknown field")

// ProgressUnavailable is reported while a run is processing. The
// processing service does not stream progress.
const ProgressUnavailable = "processing, no progress detail available"

const (
	downloadsPrefix = "/api/downloads/"
	remotePrefix    = "/api/download/"
	successMessage  = "Report generated successfully."
)

// Processor submits a multipart form to a processing endpoint.
type Processor interface {
	Process(ctx context.Context, endpoint string, form backend.Form) (backend.Result, error)
}

// ResultStore keeps binary results and returns a key for the download link.
type ResultStore interface {
	SaveResult(ctx context.Context, filename string, data []byte) (string, error)
}

// EventPublisher receives finished runs.
type EventPublisher interface {
	Publish(ctx context.Context, ev types.RunEvent) (string, error)
}

// Deps are the collaborators shared by every run.
type Deps struct {
	Processor Processor
	Results   ResultStore
	Events    EventPublisher
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Run is the state of one processing screen for one session. It lives
// while the screen is mounted and is never persisted.
type Run struct {
	mu     sync.Mutex
	screen Screen
	deps   Deps
	owner  string

	files  map[string][]types.UploadedFile
	fields map[string]string

	status      types.RunStatus
	message     string
	downloadURL string
	filename    string
	summary     []types.SummaryRow

	// generation changes whenever inputs change or a submission starts,
	// so a response that arrives late is dropped instead of applied.
	generation uint64
}

// NewRun mounts screen for owner.
func NewRun(screen Screen, deps Deps, owner string) *Run {
	return &Run{
		screen: screen,
		deps:   deps,
		owner:  owner,
		files:  make(map[string][]types.UploadedFile),
		fields: make(map[string]string),
		status: types.RunIdle,
	}
}

// Screen returns the screen configuration of the run.
func (r *Run) Screen() Screen {
	return r.screen
}

// AddFile attaches file to slot. Single-file slots are replaced.
func (r *Run) AddFile(slot string, file types.UploadedFile) error {
	s, ok := r.screen.Slot(slot)
	if !ok {
		return ErrUnknownSlot
	}
	if !s.Accepts(file.Filename) {
		return backend.Validation("%s accepts %s files only.", s.Label, s.Accept)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Multiple {
		r.files[slot] = append(r.files[slot], file)
	} else {
		r.files[slot] = []types.UploadedFile{file}
	}
	r.resetLocked()
	return nil
}

// RemoveFile detaches the file at index of slot and returns the run to idle.
func (r *Run) RemoveFile(slot string, index int) error {
	if _, ok := r.screen.Slot(slot); !ok {
		return ErrUnknownSlot
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	files := r.files[slot]
	if index < 0 || index >= len(files) {
		return fmt.Errorf("%w: no file at index %d", ErrUnknownSlot, index)
	}
	r.files[slot] = append(files[:index:index], files[index+1:]...)
	if len(r.files[slot]) == 0 {
		delete(r.files, slot)
	}
	r.resetLocked()
	return nil
}

// SetField stores a scalar input and returns the run to idle.
func (r *Run) SetField(name, value string) error {
	if !r.screen.HasField(name) {
		return ErrUnknownField
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[name] = value
	r.resetLocked()
	return nil
}

func (r *Run) resetLocked() {
	r.generation++
	r.status = types.RunIdle
	r.message = ""
	r.downloadURL = ""
	r.filename = ""
	r.summary = nil
}

// Submit validates the inputs and starts processing in the background.
// Validation failures move the run to error without any network call.
// The returned channel closes when the run settles. ctx bounds the
// processing call; it should outlive the HTTP request that triggered it.
func (r *Run) Submit(ctx context.Context) (<-chan struct{}, error) {
	r.mu.Lock()
	if r.status == types.RunProcessing {
		r.mu.Unlock()
		return nil, ErrBusy
	}

	r.summary = nil
	r.downloadURL = ""
	r.filename = ""

	if msg, ok := r.screen.Check(r.files); !ok {
		r.status = types.RunError
		r.message = msg
		r.mu.Unlock()
		return nil, &backend.ValidationError{Message: msg}
	}

	r.generation++
	gen := r.generation
	r.status = types.RunProcessing
	r.message = ""
	form := r.formLocked()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.process(ctx, gen, form)
	}()
	return done, nil
}

func (r *Run) formLocked() backend.Form {
	form := backend.Form{Fields: make(map[string]string, len(r.fields))}
	for _, slot := range r.screen.Slots {
		for _, f := range r.files[slot.Key] {
			form.Files = append(form.Files, backend.FormFile{Field: slot.Key, File: f})
		}
	}
	for k, v := range r.fields {
		form.Fields[k] = v
	}
	return form
}

type outcome struct {
	message     string
	downloadURL string
	filename    string
	summary     []types.SummaryRow
}

func (r *Run) process(ctx context.Context, gen uint64, form backend.Form) {
	log := logging.FromContext(ctx).WithField("module", r.screen.ID)

	res, err := r.deps.Processor.Process(ctx, r.screen.Endpoint, form)
	var out outcome
	if err == nil {
		out, err = r.interpret(ctx, res)
	}

	status := types.RunSuccess
	if err != nil {
		status = types.RunError
		log.WithError(err).Warn("processing run failed")
	}
	metrics.ObserveWorkflowRun(r.screen.ID, string(status))

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		log.Info("inputs changed during processing, result dropped")
		return
	}
	r.status = status
	if err != nil {
		r.message = backend.UserMessage(err)
	} else {
		r.message = out.message
		r.downloadURL = out.downloadURL
		r.filename = out.filename
		r.summary = out.summary
	}
	ev := types.RunEvent{
		ID:         uuid.NewString(),
		ModuleID:   r.screen.ID,
		Username:   r.owner,
		Status:     r.status,
		Message:    r.message,
		Filename:   r.filename,
		FinishedAt: r.deps.now(),
	}
	r.mu.Unlock()

	if r.deps.Events != nil {
		if _, err := r.deps.Events.Publish(ctx, ev); err != nil {
			log.WithError(err).Warn("failed to publish run event")
		}
	}
}

func (r *Run) interpret(ctx context.Context, res backend.Result) (outcome, error) {
	if res.JSON != nil {
		pr := res.JSON
		out := outcome{
			message:     pr.Message,
			downloadURL: downloadLink(pr.DownloadURL),
			filename:    pr.Filename,
			summary:     pr.SummaryData,
		}
		if out.message == "" {
			out.message = successMessage
		}
		if out.filename == "" && out.downloadURL != "" {
			out.filename = path.Base(out.downloadURL)
		}
		if out.summary == nil {
			out.summary = []types.SummaryRow{}
		}
		return out, nil
	}

	filename := res.Filename
	if filename == "" {
		filename = fmt.Sprintf("%s_%s.xlsx", r.screen.DownloadName, r.deps.now().Format("2006-01-02"))
	}
	key, err := r.deps.Results.SaveResult(ctx, filename, res.Body)
	if err != nil {
		return outcome{}, fmt.Errorf("store result: %w", err)
	}
	summary, err := preview.Summarize(res.Body)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Debug("result is not a readable workbook")
		summary = []types.SummaryRow{}
	}
	return outcome{
		message:     successMessage,
		downloadURL: downloadsPrefix + key,
		filename:    path.Base(key),
		summary:     summary,
	}, nil
}

// downloadLink maps a service download_url to a link the browser can
// follow through the portal.
func downloadLink(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case strings.HasPrefix(raw, remotePrefix):
		return raw
	default:
		return remotePrefix + path.Base(raw)
	}
}

// View returns a snapshot for the browser.
func (r *Run) View() types.RunView {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := make(map[string][]types.UploadedFile, len(r.files))
	for k, v := range r.files {
		files[k] = append([]types.UploadedFile(nil), v...)
	}
	fields := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		fields[k] = v
	}
	view := types.RunView{
		ModuleID:    r.screen.ID,
		Status:      r.status,
		Message:     r.message,
		DownloadURL: r.downloadURL,
		Filename:    r.filename,
		Summary:     append([]types.SummaryRow(nil), r.summary...),
		Files:       files,
		Fields:      fields,
		CanSubmit:   r.status != types.RunProcessing,
	}
	if r.status == types.RunProcessing {
		view.Progress = ProgressUnavailable
	}
	return view
}

// Status returns the current run status.
func (r *Run) Status() types.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
