package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/metrics"
	"github.com/taxdesk/portal/types"
)

// ErrPhase is returned when a challan step is called out of order.
var ErrPhase = errors.New("operation not allowed in current step")

// ErrUnknownGroup is returned for input keys no analysed group produced.
var ErrUnknownGroup = errors.New("unknown challan group")

// ChallanModuleID is the navigation id of the challan screen.
const ChallanModuleID = "tds_challan"

// ChallanAPI is the part of the processing service used by the challan flow.
type ChallanAPI interface {
	AnalyzeChallan(ctx context.Context, file types.UploadedFile) (backend.ChallanAnalysis, error)
	UpdateChallan(ctx context.Context, filePath string, inputs map[string]types.ChallanInput, customName string) (backend.ProcessResult, error)
}

// ChallanView is the browser-facing snapshot of the challan flow.
type ChallanView struct {
	Phase       types.ChallanPhase            `json:"phase"`
	Busy        bool                          `json:"busy"`
	Filename    string                        `json:"filename,omitempty"`
	Groups      []types.ChallanGroup          `json:"groups"`
	Inputs      map[string]types.ChallanInput `json:"inputs"`
	Message     string                        `json:"message,omitempty"`
	DownloadURL string                        `json:"download_url,omitempty"`
}

// Challan is the upload, analyse, finalise state machine for mapping
// manual challan details onto pending TDS groups.
type Challan struct {
	mu  sync.Mutex
	api ChallanAPI

	phase       types.ChallanPhase
	busy        bool
	filename    string
	groups      []types.ChallanGroup
	tempPath    string
	inputs      map[string]types.ChallanInput
	message     string
	downloadURL string
}

func NewChallan(api ChallanAPI) *Challan {
	return &Challan{api: api, phase: types.ChallanUpload, inputs: map[string]types.ChallanInput{}}
}

// Analyze uploads the pending-tax report. Only valid in the upload step;
// failure keeps the flow there with an error message.
func (c *Challan) Analyze(ctx context.Context, file types.UploadedFile) error {
	c.mu.Lock()
	if c.phase != types.ChallanUpload {
		c.mu.Unlock()
		return ErrPhase
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if len(file.Data) == 0 {
		c.message = "Please upload the TDS report file."
		c.mu.Unlock()
		return &backend.ValidationError{Message: c.message}
	}
	c.busy = true
	c.message = ""
	c.mu.Unlock()

	res, err := c.api.AnalyzeChallan(ctx, file)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		c.message = backend.UserMessage(err)
		return err
	}
	c.phase = types.ChallanAnalyzed
	c.filename = file.Filename
	c.tempPath = res.TempFilePath
	c.groups = mergeGroups(ctx, res.Groups)
	c.inputs = make(map[string]types.ChallanInput, len(c.groups))
	for _, g := range c.groups {
		c.inputs[g.Key()] = types.ChallanInput{}
	}
	if len(c.groups) == 0 {
		c.message = "No pending tax groups found in the report."
	}
	return nil
}

// mergeGroups folds groups sharing a composite key into one, summing the
// pending amounts, so every key addresses exactly one input.
func mergeGroups(ctx context.Context, groups []types.ChallanGroup) []types.ChallanGroup {
	index := make(map[string]int, len(groups))
	merged := make([]types.ChallanGroup, 0, len(groups))
	for _, g := range groups {
		g.Section = strings.TrimSpace(g.Section)
		g.CoStatus = strings.TrimSpace(g.CoStatus)
		if i, ok := index[g.Key()]; ok {
			logging.FromContext(ctx).WithField("group", g.Key()).Warn("duplicate challan group merged")
			merged[i].TotalTaxPending = merged[i].TotalTaxPending.Add(g.TotalTaxPending)
			continue
		}
		index[g.Key()] = len(merged)
		merged = append(merged, g)
	}
	return merged
}

// SetInput records the challan details for one group. Amounts must be
// numeric when present; a blank total is filled as amount plus interest.
func (c *Challan) SetInput(key string, in types.ChallanInput) error {
	normalized, err := normalizeInput(in)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != types.ChallanAnalyzed {
		return ErrPhase
	}
	if _, ok := c.inputs[key]; !ok {
		return ErrUnknownGroup
	}
	c.inputs[key] = normalized
	return nil
}

func normalizeInput(in types.ChallanInput) (types.ChallanInput, error) {
	in.ChallanNo = strings.TrimSpace(in.ChallanNo)
	in.Date = strings.TrimSpace(in.Date)
	in.BSR = strings.TrimSpace(in.BSR)

	amounts := map[string]*string{"amount": &in.Amount, "interest": &in.Interest, "total": &in.Total}
	parsed := make(map[string]decimal.Decimal, len(amounts))
	for name, v := range amounts {
		*v = strings.TrimSpace(*v)
		if *v == "" {
			continue
		}
		d, err := decimal.NewFromString(*v)
		if err != nil {
			return types.ChallanInput{}, backend.Validation("Challan %s must be a number.", name)
		}
		if d.IsNegative() {
			return types.ChallanInput{}, backend.Validation("Challan %s cannot be negative.", name)
		}
		parsed[name] = d
	}
	if in.Total == "" {
		if amount, ok := parsed["amount"]; ok {
			in.Total = amount.Add(parsed["interest"]).String()
		}
	}
	return in, nil
}

// Finalize submits every group's inputs. Success moves to finalized with
// a download link; failure stays in analyzed with inputs intact.
func (c *Challan) Finalize(ctx context.Context, customName string) error {
	c.mu.Lock()
	if c.phase != types.ChallanAnalyzed {
		c.mu.Unlock()
		return ErrPhase
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.message = ""
	inputs := make(map[string]types.ChallanInput, len(c.inputs))
	for k, v := range c.inputs {
		inputs[k] = v
	}
	tempPath := c.tempPath
	c.mu.Unlock()

	res, err := c.api.UpdateChallan(ctx, tempPath, inputs, strings.TrimSpace(customName))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		c.message = backend.UserMessage(err)
		metrics.ObserveWorkflowRun(ChallanModuleID, string(types.RunError))
		return err
	}
	metrics.ObserveWorkflowRun(ChallanModuleID, string(types.RunSuccess))
	c.phase = types.ChallanFinalized
	c.downloadURL = downloadLink(res.DownloadURL)
	c.message = res.Message
	if c.message == "" {
		c.message = "Challan details updated."
	}
	return nil
}

// Reset returns to the upload step and clears all state.
func (c *Challan) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = types.ChallanUpload
	c.busy = false
	c.filename = ""
	c.groups = nil
	c.tempPath = ""
	c.inputs = map[string]types.ChallanInput{}
	c.message = ""
	c.downloadURL = ""
}

// Phase returns the current step.
func (c *Challan) Phase() types.ChallanPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Challan) View() ChallanView {
	c.mu.Lock()
	defer c.mu.Unlock()
	inputs := make(map[string]types.ChallanInput, len(c.inputs))
	for k, v := range c.inputs {
		inputs[k] = v
	}
	return ChallanView{
		Phase:       c.phase,
		Busy:        c.busy,
		Filename:    c.filename,
		Groups:      append([]types.ChallanGroup{}, c.groups...),
		Inputs:      inputs,
		Message:     c.message,
		DownloadURL: c.downloadURL,
	}
}
