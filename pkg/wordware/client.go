package wordware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrUpstreamUnavailable covers connection failures and non-success statuses
// from the released-app run endpoint.
var ErrUpstreamUnavailable = errors.New("wordware upstream unavailable")

const DefaultBaseURL = "https://app.wordware.ai"

// PromptVersion pins the released prompt version the inputs are written for.
const PromptVersion = "^1.0"

type Inputs struct {
	Tweets         string `json:"tweets"`
	ProfilePicture string `json:"profilePicture"`
	ProfileInfo    string `json:"profileInfo"`
	Version        string `json:"version"`
}

type runRequest struct {
	Inputs Inputs `json:"inputs"`
}

// Runner opens a streamed run of a released prompt.
type Runner interface {
	Run(ctx context.Context, promptID string, inputs Inputs) (io.ReadCloser, error)
}

type Client struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

var _ Runner = &Client{}

// NewClient builds a client without a total timeout on the http.Client: runs
// stream for minutes and are bounded by the caller's context instead.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{},
	}
}

// Run POSTs the inputs and returns the response body, a stream of
// newline-delimited JSON records. The caller owns the body and must close it.
// Cancelling ctx aborts a blocked read on the body.
func (c *Client) Run(ctx context.Context, promptID string, inputs Inputs) (io.ReadCloser, error) {
	if inputs.Version == "" {
		inputs.Version = PromptVersion
	}

	payloadBytes, err := json.Marshal(runRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/released-app/%s/run", c.BaseURL, promptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrUpstreamUnavailable, resp.StatusCode, string(snippet))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, fmt.Errorf("%w: empty body", ErrUpstreamUnavailable)
	}

	return resp.Body, nil
}
