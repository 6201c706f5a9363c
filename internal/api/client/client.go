package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/silmaril/trickle/pkg/throttle"
	"github.com/silmaril/trickle/pkg/types"
)

// ErrNotFound is returned when the server reports a missing transfer or file
var ErrNotFound = errors.New("not found")

// APIError carries the error message of a failed request
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Health checks if the server is healthy
func (c *Client) Health() error {
	resp, err := c.get("/api/v1/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Status returns the server status
func (c *Client) Status() (types.Status, error) {
	var status types.Status
	err := c.getJSON("/api/v1/status", &status)
	return status, err
}

// ListTransfers returns all transfers, or only active ones
func (c *Client) ListTransfers(active bool) ([]types.TransferInfo, error) {
	path := "/api/v1/transfers"
	if active {
		path += "?status=" + string(types.TransferStatusActive)
	}

	var result types.TransferList
	if err := c.getJSON(path, &result); err != nil {
		return nil, err
	}
	return result.Transfers, nil
}

// GetTransfer returns details about a specific transfer
func (c *Client) GetTransfer(id string) (types.TransferInfo, error) {
	var info types.TransferInfo
	err := c.getJSON("/api/v1/transfers/"+url.PathEscape(id), &info)
	return info, err
}

// CancelTransfer cancels a transfer
func (c *Client) CancelTransfer(id string) error {
	resp, err := c.delete("/api/v1/transfers/" + url.PathEscape(id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	return nil
}

// Download fetches a served file into w. The response body is read through
// a throttle.Stream configured by opts, so a client can pace its side of
// the transfer too. Download has no overall timeout; cancel ctx instead.
func (c *Client) Download(ctx context.Context, path string, w io.Writer, opts ...throttle.Option) (int64, error) {
	u := c.baseURL + "/files/" + escapePath(strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	httpClient := *c.httpClient
	httpClient.Timeout = 0
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}

	s := throttle.New(throttle.Join(resp.Body, w), opts...)
	n, err := throttle.Copy(ctx, s, 0)
	if err != nil {
		return n, err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("short download: got %d of %d bytes: %w", n, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	return n, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// apiError builds an *APIError from a non-2xx response
func apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

// HTTP helper methods

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.get(path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(path string) (*http.Response, error) {
	return c.httpClient.Get(c.baseURL + path)
}

func (c *Client) delete(path string) (*http.Response, error) {
	req, err := http.NewRequest("DELETE", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	return c.httpClient.Do(req)
}
