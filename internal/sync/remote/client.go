// Package remote provides the REST client for the save server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/metrics"
	"github.com/rommapp/argosy-launcher-sub002/internal/models"
)

// AutocleanupLimit is how many revisions the server keeps for a named channel.
const AutocleanupLimit = 10

// Config holds save server connection settings. Token takes precedence over
// basic auth credentials.
type Config struct {
	BaseURL  string
	Token    string
	Username string
	Password string
	DeviceID string
	Timeout  time.Duration
}

// Client talks to the save server.
type Client struct {
	config     *Config
	httpClient *http.Client
	retry      RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the retry policy for idempotent requests.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a new Client.
func NewClient(config *Config, opts ...Option) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		retry: DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeviceID returns the configured device id, or "".
func (c *Client) DeviceID() string {
	return c.config.DeviceID
}

// UploadRequest describes a save file upload.
type UploadRequest struct {
	RomID    int64
	Emulator string
	// SaveID selects update-in-place when non-zero.
	SaveID    int64
	FileName  string
	Content   io.Reader
	Slot      string
	Overwrite bool
	// Autocleanup asks the server to keep only AutocleanupLimit revisions
	// of the slot.
	Autocleanup bool
}

// ListByRom returns the saves of a server rom.
func (c *Client) ListByRom(ctx context.Context, romID int64) ([]models.RemoteSave, error) {
	q := url.Values{"rom_id": {strconv.FormatInt(romID, 10)}}
	c.addDevice(q)
	var saves []models.RemoteSave
	err := c.getJSON(ctx, "list_by_rom", "/api/saves", q, &saves)
	return saves, err
}

// ListByPlatform returns the saves of every rom on a server platform.
func (c *Client) ListByPlatform(ctx context.Context, platformID int64) ([]models.RemoteSave, error) {
	q := url.Values{"platform_id": {strconv.FormatInt(platformID, 10)}}
	c.addDevice(q)
	var saves []models.RemoteSave
	err := c.getJSON(ctx, "list_by_platform", "/api/saves", q, &saves)
	return saves, err
}

// Get returns the metadata of one save.
func (c *Client) Get(ctx context.Context, saveID int64) (*models.RemoteSave, error) {
	q := url.Values{}
	c.addDevice(q)
	var save models.RemoteSave
	if err := c.getJSON(ctx, "get", "/api/saves/"+strconv.FormatInt(saveID, 10), q, &save); err != nil {
		return nil, err
	}
	return &save, nil
}

// Upload creates a save (POST) or updates one in place (PUT) when
// req.SaveID is set. Writes are never retried; a 409 surfaces as an
// *HTTPError for which IsConflict is true.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*models.RemoteSave, error) {
	body, contentType, err := multipartBody(req.FileName, req.Content)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	c.addDevice(q)
	if req.Slot != "" {
		q.Set("slot", req.Slot)
	}

	method, path, op := http.MethodPost, "/api/saves", "create"
	if req.SaveID > 0 {
		method, path, op = http.MethodPut, "/api/saves/"+strconv.FormatInt(req.SaveID, 10), "update"
	} else {
		q.Set("rom_id", strconv.FormatInt(req.RomID, 10))
		if req.Emulator != "" {
			q.Set("emulator", req.Emulator)
		}
		if req.Overwrite {
			q.Set("overwrite", "true")
		}
		if req.Autocleanup {
			q.Set("autocleanup", "true")
			q.Set("autocleanup_limit", strconv.Itoa(AutocleanupLimit))
		}
	}

	httpReq, err := c.newRequest(ctx, method, path, q, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.do(op, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var save models.RemoteSave
	if err := json.NewDecoder(resp.Body).Decode(&save); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	return &save, nil
}

// Delete removes saves in one batch.
func (c *Client) Delete(ctx context.Context, saveIDs []int64) error {
	if len(saveIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string][]int64{"saves": saveIDs})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/saves", nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do("delete", req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Confirm tells the server this device now holds the latest revision of a
// save. It is a no-op without a device id.
func (c *Client) Confirm(ctx context.Context, saveID int64) error {
	if c.config.DeviceID == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"device_id": c.config.DeviceID})
	if err != nil {
		return err
	}
	path := "/api/saves/" + strconv.FormatInt(saveID, 10) + "/confirm"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do("confirm", req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Download fetches the content of a save into w. The server-provided
// download path is used when present.
func (c *Client) Download(ctx context.Context, save *models.RemoteSave, w io.Writer) (int64, error) {
	var written int64
	err := c.retry.Do(ctx, "download", func() error {
		var req *http.Request
		var err error
		if save.DownloadPath != "" {
			req, err = c.newRawRequest(ctx, save.DownloadPath)
		} else {
			q := url.Values{}
			if c.config.DeviceID != "" {
				q.Set("device_id", c.config.DeviceID)
				q.Set("optimistic", "true")
			}
			path := fmt.Sprintf("/api/saves/%d/content/%s", save.ID, url.PathEscape(save.FileName))
			req, err = c.newRequest(ctx, http.MethodGet, path, q, nil)
		}
		if err != nil {
			return err
		}

		resp, err := c.do("download", req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		// Buffer so a failed attempt leaves w untouched
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, resp.Body); err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		written, err = buf.WriteTo(w)
		return err
	})
	return written, err
}

// getJSON performs a retried GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out interface{}) error {
	return c.retry.Do(ctx, op, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
		if err != nil {
			return err
		}
		resp, err := c.do(op, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	})
}

// do executes req and returns an *HTTPError for non-2xx responses.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RemoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(op, "error").Inc()
		logging.Warn("Save server request failed", map[string]interface{}{
			"operation": op,
			"error":     err.Error(),
		})
		return nil, &TransportError{Op: op, Code: categorizeError(err), Err: err}
	}
	metrics.RemoteRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		herr := &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: truncateString(string(body), 512)}
		logging.Debug("Save server returned error status", map[string]interface{}{
			"operation": op,
			"status":    resp.StatusCode,
		})
		return nil, herr
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// newRawRequest builds a GET for a server-relative or absolute download path.
func (c *Client) newRawRequest(ctx context.Context, rawPath string) (*http.Request, error) {
	u := rawPath
	if !strings.HasPrefix(rawPath, "http://") && !strings.HasPrefix(rawPath, "https://") {
		u = strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(rawPath, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.config.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	case c.config.Username != "":
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
}

func (c *Client) addDevice(q url.Values) {
	if c.config.DeviceID != "" {
		q.Set("device_id", c.config.DeviceID)
	}
}

func multipartBody(fileName string, content io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("saveFile", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
