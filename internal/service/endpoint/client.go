package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/daadii/onechat/backend/internal/model/chat"
)

var (
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrQuotaExceeded = errors.New("credits required")
	ErrNoBody        = errors.New("no response body")
)

// StatusError is a non-success answer from the model endpoint. Message holds
// the endpoint's {"error": ...} text when it sent one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chat endpoint returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("chat endpoint returned %d", e.Code)
}

// Is lets errors.Is distinguish the remediable statuses.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	case ErrQuotaExceeded:
		return e.Code == http.StatusPaymentRequired
	}
	return false
}

// Request is the JSON body posted to the endpoint.
type Request struct {
	Messages []chat.Message `json:"messages"`
}

// Client posts conversations to the chat endpoint and hands back the raw
// event-stream body. No timeout applies; a reply runs until the stream ends
// or the request context is cancelled.
type Client struct {
	url  string
	http *http.Client
}

// New creates a client for url. A nil httpClient uses http.DefaultClient.
func New(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

// Stream sends messages with the bearer token and returns the response body
// on 200. The caller must close it.
func (c *Client) Stream(ctx context.Context, token string, messages []chat.Message) (io.ReadCloser, error) {
	payload, err := json.Marshal(Request{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post chat endpoint: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}
	return resp.Body, nil
}

// readErrorMessage extracts {"error": "..."} from a failure body, if any.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Error)
}
