package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/taxdesk/portal/types"
)

// FormFile is one file part of a processing request.
type FormFile struct {
	Field string
	File  types.UploadedFile
}

// Form is the multipart body of a processing request. Parts are written
// in slice order; empty field values are omitted.
type Form struct {
	Files  []FormFile
	Fields map[string]string
}

// ProcessResult is the JSON document returned by report-generating
// endpoints. Success is optional; only an explicit false marks a failure.
type ProcessResult struct {
	Success     *bool              `json:"success,omitempty"`
	Message     string             `json:"message"`
	Error       string             `json:"error,omitempty"`
	DownloadURL string             `json:"download_url"`
	Filename    string             `json:"filename,omitempty"`
	SummaryData []types.SummaryRow `json:"summary_data"`
}

// Result is the outcome of a processing request: exactly one of JSON or
// Body is set.
type Result struct {
	JSON        *ProcessResult
	Body        []byte
	ContentType string
	Filename    string
}

// Process posts form to endpoint and returns the decoded result.
func (c *Client) Process(ctx context.Context, endpoint string, form Form) (Result, error) {
	body, contentType, err := encodeForm(form)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.send(req, endpointLabel(endpoint))
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &TransportError{Op: "read " + endpoint, Err: err}
	}

	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var pr ProcessResult
		if err := json.Unmarshal(data, &pr); err != nil {
			return Result{}, &TransportError{Op: "decode " + endpoint, Err: err}
		}
		if err := resultError(errorBody{Success: pr.Success, Error: pr.Error}); err != nil {
			return Result{}, err
		}
		return Result{JSON: &pr}, nil
	}

	if len(data) == 0 {
		return Result{}, &TransportError{Op: "read " + endpoint, Err: errEmptyBody}
	}
	return Result{
		Body:        data,
		ContentType: detectContentType(ct, data),
		Filename:    FilenameFromContentDisposition(resp.Header.Get("Content-Disposition")),
	}, nil
}

func encodeForm(form Form) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range form.Files {
		part, err := mw.CreateFormFile(f.Field, f.File.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("create form file %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.File.Data); err != nil {
			return nil, "", fmt.Errorf("write form file %s: %w", f.Field, err)
		}
	}
	for name, value := range form.Fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// ChallanAnalysis is the result of the first challan step.
type ChallanAnalysis struct {
	Groups       []types.ChallanGroup `json:"groups"`
	TempFilePath string               `json:"temp_file_path"`
}

// AnalyzeChallan uploads the pending TDS report and returns its groups.
func (c *Client) AnalyzeChallan(ctx context.Context, file types.UploadedFile) (ChallanAnalysis, error) {
	body, contentType, err := encodeForm(Form{Files: []FormFile{{Field: "file", File: file}}})
	if err != nil {
		return ChallanAnalysis{}, err
	}
	const endpoint = "/api/direct-tax/challan/analyze"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return ChallanAnalysis{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.send(req, endpoint)
	if err != nil {
		return ChallanAnalysis{}, err
	}
	defer resp.Body.Close()

	var out struct {
		errorBody
		ChallanAnalysis
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ChallanAnalysis{}, &TransportError{Op: "decode " + endpoint, Err: err}
	}
	if err := resultError(out.errorBody); err != nil {
		return ChallanAnalysis{}, err
	}
	return out.ChallanAnalysis, nil
}

// UpdateChallan submits the manual challan details for every group.
func (c *Client) UpdateChallan(ctx context.Context, filePath string, inputs map[string]types.ChallanInput, customName string) (ProcessResult, error) {
	in := struct {
		FilePath   string                        `json:"file_path"`
		Inputs     map[string]types.ChallanInput `json:"inputs"`
		CustomName string                        `json:"custom_name"`
	}{FilePath: filePath, Inputs: inputs, CustomName: customName}

	var out ProcessResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/direct-tax/challan/update", in, &out); err != nil {
		return ProcessResult{}, err
	}
	if err := resultError(errorBody{Success: out.Success, Error: out.Error}); err != nil {
		return ProcessResult{}, err
	}
	return out, nil
}
