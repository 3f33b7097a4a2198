package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"keymesh/internal/domain"
)

// Client talks to a directory server over HTTP. It implements
// domain.Directory.
type Client struct {
	base      string
	http      *http.Client
	threshold int
}

// NewClient builds a Client for the given base URL. threshold is the
// one-time prekey count below which CheckPreKeyStatus reports that
// replenishment is needed.
func NewClient(base string, timeout time.Duration, threshold int) *Client {
	return &Client{
		base:      base,
		http:      &http.Client{Timeout: timeout},
		threshold: threshold,
	}
}

var _ domain.Directory = (*Client)(nil)

func (c *Client) Publish(ctx context.Context, bundle domain.PreKeyBundle, oneTime []domain.OneTimePreKeyPublic) error {
	rec := BundleRecord{Static: bundle, OneTime: oneTime}
	path := c.keysPath(bundle.UserID, bundle.DeviceID)
	if err := c.do(ctx, http.MethodPut, path, rec, nil); err != nil {
		return fmt.Errorf("publish bundle: %w", err)
	}
	return nil
}

func (c *Client) FetchBundle(ctx context.Context, userID string, deviceID uint32) (domain.PreKeyBundle, error) {
	var bundle domain.PreKeyBundle
	err := c.do(ctx, http.MethodGet, c.keysPath(userID, deviceID), nil, &bundle)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return domain.PreKeyBundle{}, fmt.Errorf("%s.%d: %w", userID, deviceID, domain.ErrNotFound)
		}
		return domain.PreKeyBundle{}, fmt.Errorf("%w: %v", domain.ErrBundleFetchFailed, err)
	}
	return bundle, nil
}

func (c *Client) ListDevices(ctx context.Context, userID string) ([]domain.DeviceInfo, error) {
	var devices []domain.DeviceInfo
	if err := c.do(ctx, http.MethodGet, "/v1/devices/"+url.PathEscape(userID), nil, &devices); err != nil {
		return nil, fmt.Errorf("list devices for %s: %w", userID, err)
	}
	return devices, nil
}

func (c *Client) DeleteDevice(ctx context.Context, userID string, deviceID uint32) error {
	path := "/v1/devices/" + url.PathEscape(userID) + "/" + strconv.FormatUint(uint64(deviceID), 10)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete device %s.%d: %w", userID, deviceID, err)
	}
	return nil
}

func (c *Client) CheckPreKeyStatus(ctx context.Context, userID string, deviceID uint32) (domain.PreKeyStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, c.keysPath(userID, deviceID)+"/status", nil, &resp); err != nil {
		return domain.PreKeyStatus{}, fmt.Errorf("prekey status for %s.%d: %w", userID, deviceID, err)
	}
	return domain.PreKeyStatus{
		Remaining:          resp.Remaining,
		NeedsReplenishment: resp.Remaining < c.threshold,
	}, nil
}

func (c *Client) keysPath(userID string, deviceID uint32) string {
	return "/v1/keys/" + url.PathEscape(userID) + "/" + strconv.FormatUint(uint64(deviceID), 10)
}

// httpStatusError marks a non-2xx response so callers can branch on status.
type httpStatusError struct {
	status int
	method string
	path   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("directory %s %s: status %d", e.method, e.path, e.status)
}

func statusOf(err error) int {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Buffer
	if in != nil {
		body = new(bytes.Buffer)
		if err := json.NewEncoder(body).Encode(in); err != nil {
			return err
		}
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &httpStatusError{status: resp.StatusCode, method: method, path: path}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
