package api

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

	"github.com/fleetsync/inventory/internal/httputil"
)

const apiPrefix = "/api/v1"

// Client talks to the inventory server on behalf of one endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	push       httputil.RetryConfig
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: httputil.DefaultRetryConfig(),
		push:  httputil.NoRetryConfig(),
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests, custom TLS).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithRetry overrides the retry policy used for registration.
func (c *Client) WithRetry(cfg httputil.RetryConfig) *Client {
	c.retry = cfg
	return c
}

// Register announces the endpoint. With a nil uuid the server assigns one.
func (c *Client) Register(ctx context.Context, name string, uuid *string) (*Register, error) {
	var out Register
	if err := c.do(ctx, http.MethodPost, "/register", Register{Name: name, UUID: uuid}, &out, c.retry); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if out.UUID == nil || *out.UUID == "" {
		return nil, fmt.Errorf("register: server returned no uuid")
	}
	return &out, nil
}

func (c *Client) PushOSInfo(ctx context.Context, uuid string, info *OSInfo) error {
	return c.pushJSON(ctx, "/os/"+url.PathEscape(uuid), info)
}

func (c *Client) PushHardware(ctx context.Context, uuid string, info *HardwareInfo) error {
	return c.pushJSON(ctx, "/hardware/"+url.PathEscape(uuid), info)
}

func (c *Client) PushProfiles(ctx context.Context, uuid string, profiles *UserProfiles) error {
	return c.pushJSON(ctx, "/profiles/"+url.PathEscape(uuid), profiles)
}

func (c *Client) PushSoftware(ctx context.Context, uuid string, lib *SoftwareLibrary) error {
	return c.pushJSON(ctx, "/software/"+url.PathEscape(uuid), lib)
}

func (c *Client) PushLicenses(ctx context.Context, uuid string, bundle *LicenseBundle) error {
	return c.pushJSON(ctx, "/licenses/"+url.PathEscape(uuid), bundle)
}

func (c *Client) PushVolumes(ctx context.Context, uuid string, volumes *VolumeList) error {
	return c.pushJSON(ctx, "/status/"+url.PathEscape(uuid)+"/volumes", volumes)
}

func (c *Client) PushBattery(ctx context.Context, uuid string, status *BatteryStatus) error {
	return c.pushJSON(ctx, "/status/"+url.PathEscape(uuid)+"/battery", status)
}

// FetchTasks returns the tasks still in Created state for this endpoint.
func (c *Client) FetchTasks(ctx context.Context, uuid string) ([]Task, error) {
	var bundle TaskBundle
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(uuid), nil, &bundle, c.push); err != nil {
		return nil, fmt.Errorf("fetch tasks: %w", err)
	}
	return bundle.Tasks, nil
}

// ReportTask sends one status transition. It is sent once; a lost report is
// not resent.
func (c *Client) ReportTask(ctx context.Context, uuid string, update TaskUpdate) error {
	return c.pushJSON(ctx, "/tasks/"+url.PathEscape(uuid), update)
}

func (c *Client) pushJSON(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodPost, path, body, nil, c.push)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, retry httputil.RetryConfig) error {
	var body []byte
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		headers.Set("Content-Type", "application/json")
	}

	resp, err := httputil.Do(ctx, c.httpClient, method, c.baseURL+apiPrefix+path, body, headers, retry)
	if err != nil {
		var rse *httputil.RetryableStatusError
		if errors.As(err, &rse) {
			return &StatusError{StatusCode: rse.StatusCode}
		}
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var er ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &er) == nil {
			se.Code, se.Message = er.Error, er.Message
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		return se
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
