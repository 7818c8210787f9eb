// Package backend talks to the remote tax-document processing service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taxdesk/portal/internal/metrics"
	"github.com/taxdesk/portal/types"
)

const maxErrorBody = 1 << 20

// Client calls the processing service. It sets no timeout on its own:
// processing runs are bounded only by the caller's context.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New constructs a Client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type errorBody struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req, endpointLabel(path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: "decode " + path, Err: err}
	}
	return nil
}

// send performs req and converts non-2xx responses to *APIError.
func (c *Client) send(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveBackendCall(endpoint, "transport_error", time.Since(start))
		return nil, &TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		metrics.ObserveBackendCall(endpoint, "api_error", time.Since(start))
		return nil, apiErrorFrom(resp)
	}
	metrics.ObserveBackendCall(endpoint, "ok", time.Since(start))
	return resp, nil
}

func apiErrorFrom(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		return &APIError{Status: resp.StatusCode, Message: GenericFailure}
	}
	msg := strings.TrimSpace(eb.Error)
	if msg == "" {
		msg = GenericFailure
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// endpointLabel trims ids and query strings out of path for metric labels.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if strings.HasPrefix(path, "/api/download/") {
		return "/api/download"
	}
	return path
}

// Login checks credentials with the service.
func (c *Client) Login(ctx context.Context, username, password string) (types.User, error) {
	var resp struct {
		errorBody
		User *types.User `json:"user"`
	}
	in := map[string]string{"username": username, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", in, &resp); err != nil {
		return types.User{}, err
	}
	if resp.Success != nil && !*resp.Success {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = GenericFailure
		}
		return types.User{}, &APIError{Status: http.StatusUnauthorized, Message: msg}
	}
	if resp.User == nil {
		return types.User{}, &TransportError{Op: "decode /api/auth/login", Err: errMissingUser}
	}
	return *resp.User, nil
}

// ListUsers fetches the full user list, passwords included.
func (c *Client) ListUsers(ctx context.Context) ([]types.User, error) {
	var users []types.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SaveUsers replaces the full user list.
func (c *Client) SaveUsers(ctx context.Context, users []types.User) error {
	var resp errorBody
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/users", users, &resp); err != nil {
		return err
	}
	return resultError(resp)
}

// Compliance fetches the compliance grid of one user.
func (c *Client) Compliance(ctx context.Context, userID int64) ([]types.ComplianceClient, error) {
	path := "/api/compliance?user_id=" + url.QueryEscape(strconv.FormatInt(userID, 10))
	var clients []types.ComplianceClient
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// SaveCompliance replaces the compliance grid of one user.
func (c *Client) SaveCompliance(ctx context.Context, userID int64, clients []types.ComplianceClient) error {
	in := struct {
		UserID  int64                    `json:"user_id"`
		Clients []types.ComplianceClient `json:"clients"`
	}{UserID: userID, Clients: clients}
	var resp errorBody
	if err := c.doJSON(ctx, http.MethodPost, "/api/compliance", in, &resp); err != nil {
		return err
	}
	return resultError(resp)
}

// Messages fetches the full message stream, newest first.
func (c *Client) Messages(ctx context.Context) ([]types.ChatMessage, error) {
	var msgs []types.ChatMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// PostMessage appends a message to the stream.
func (c *Client) PostMessage(ctx context.Context, username, content string, kind types.MessageType) error {
	in := map[string]string{"username": username, "content": content, "type": string(kind)}
	var resp errorBody
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", in, &resp); err != nil {
		return err
	}
	return resultError(resp)
}

// HandleRequest records an admin decision on an access request.
func (c *Client) HandleRequest(ctx context.Context, username string, action types.AccessAction, messageID int64) error {
	in := struct {
		Username  string             `json:"username"`
		Action    types.AccessAction `json:"action"`
		MessageID int64              `json:"message_id"`
	}{Username: username, Action: action, MessageID: messageID}
	var resp errorBody
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat/handle-request", in, &resp); err != nil {
		return err
	}
	return resultError(resp)
}

func resultError(resp errorBody) error {
	if resp.Success != nil && !*resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = GenericFailure
		}
		return &APIError{Status: http.StatusOK, Message: msg}
	}
	return nil
}

// Download streams a generated file referenced by a download_url.
// The caller closes the returned body.
func (c *Client) Download(ctx context.Context, filename string) (io.ReadCloser, string, error) {
	path := "/api/download/" + url.PathEscape(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.send(req, endpointLabel(path))
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// FilenameFromContentDisposition extracts the filename parameter.
func FilenameFromContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func detectContentType(header string, body []byte) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err == nil && mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType
	}
	return mimetype.Detect(body).String()
}

var (
	errEmptyBody   = errors.New("empty response body")
	errMissingUser = errors.New("response carries no user")
)
