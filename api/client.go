package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fwojciec/docchat"
	"github.com/fwojciec/docchat/sse"
	"github.com/rs/zerolog"
)

// Interface compliance checks.
var (
	_ docchat.Sender         = (*Client)(nil)
	_ docchat.HistoryFetcher = (*Client)(nil)
	_ docchat.StatusChecker  = (*Client)(nil)
	_ docchat.FileLister     = (*Client)(nil)
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to a docchat server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
	onSkip     func(reason string)
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the server base URL. Useful for testing with httptest.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger passed to answer stream decoders.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSkipHandler sets the callback answer stream decoders invoke for
// every skipped frame.
func WithSkipHandler(fn func(reason string)) Option {
	return func(c *Client) { c.onSkip = fn }
}

// New creates a [Client]. The default base URL is http://localhost:8080.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    "http://localhost:8080",
		httpClient: http.DefaultClient,
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send posts a message and returns the decoded answer stream.
func (c *Client) Send(ctx context.Context, req docchat.SendRequest) (docchat.Stream, error) {
	if err := docchat.ValidateSendRequest(req); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	body, err := json.Marshal(MessageRequest{FileID: req.FileID, Message: req.Message})
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, messagePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseHTTPError(resp)
	}

	opts := []sse.Option{sse.WithLogger(c.logger)}
	if c.onSkip != nil {
		opts = append(opts, sse.WithSkipHandler(c.onSkip))
	}
	return sse.NewStream(resp.Body, opts...), nil
}

// FetchPage fetches one page of history, newest first.
func (c *Client) FetchPage(ctx context.Context, fileID, cursor string, limit int) (docchat.Page, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := filesPath + "/" + url.PathEscape(fileID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out MessagesResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return docchat.Page{}, err
	}
	page := docchat.Page{
		Messages:   make([]docchat.Message, len(out.Messages)),
		NextCursor: out.NextCursor,
	}
	for i, m := range out.Messages {
		page.Messages[i] = m.ToMessage()
	}
	return page, nil
}

// UploadStatus returns the processing status of a document.
func (c *Client) UploadStatus(ctx context.Context, fileID string) (docchat.UploadStatus, error) {
	var out StatusResponse
	if err := c.getJSON(ctx, filesPath+"/"+url.PathEscape(fileID)+"/status", &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// ListFiles returns the user's documents.
func (c *Client) ListFiles(ctx context.Context) ([]docchat.File, error) {
	var out []WireFile
	if err := c.getJSON(ctx, filesPath, &out); err != nil {
		return nil, err
	}
	files := make([]docchat.File, len(out))
	for i, f := range out {
		files[i] = f.ToFile()
	}
	return files, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

// parseHTTPError converts a non-200 response. 402 becomes a
// [docchat.QuotaError] whose message comes from a JSON or plain-text body.
func parseHTTPError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("api: HTTP %d (failed to read body: %w)", resp.StatusCode, err)
	}
	text := strings.TrimSpace(string(body))

	if resp.StatusCode == http.StatusPaymentRequired {
		var q QuotaResponse
		if err := json.Unmarshal(body, &q); err == nil {
			return &docchat.QuotaError{Message: q.Message, ResetAt: q.ResetAt}
		}
		return &docchat.QuotaError{Message: text}
	}
	return &docchat.HTTPError{StatusCode: resp.StatusCode, Body: text}
}
