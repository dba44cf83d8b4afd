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
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// DefaultTimeout bounds every sync request.
const DefaultTimeout = 30 * time.Second

// HTTPClient implements Client over the JSON sync endpoints.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	creds   CredentialProvider
}

// NewHTTPClient returns a client for the server at baseURL. A nil httpClient
// gets a default one with DefaultTimeout.
func NewHTTPClient(baseURL string, creds CredentialProvider, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		creds:   creds,
	}
}

func (c *HTTPClient) Pull(ctx context.Context, table string, lastSync int64, deviceID string) (*wire.PullResponse, error) {
	q := url.Values{}
	q.Set("table", table)
	q.Set("lastSync", strconv.FormatInt(lastSync, 10))
	q.Set("deviceId", deviceID)

	var resp wire.PullResponse
	if err := c.do(ctx, http.MethodGet, "/sync/pull?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Push(ctx context.Context, table string, data []wire.Record, deviceID string) (*wire.PushResponse, error) {
	req := wire.PushRequest{Table: table, Data: data, DeviceID: deviceID}

	var resp wire.PushResponse
	if err := c.do(ctx, http.MethodPost, "/sync/push", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ping returned %s", common.ErrUnavailable, resp.Status)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.creds.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnauthorized, err)
	}
	req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.mapError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// mapError converts a non-2xx response into a sentinel error the engine can
// branch on.
func (c *HTTPClient) mapError(resp *http.Response) error {
	var er wire.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&er)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, orStatus(er.Message, resp.Status))
	case resp.StatusCode == http.StatusBadRequest && er.Error == wire.CodeInvalidTable:
		return fmt.Errorf("%w: %s", common.ErrInvalidTable, orStatus(er.Message, resp.Status))
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", common.ErrValidation, orStatus(er.Message, resp.Status))
	default:
		return fmt.Errorf("%w: %s", common.ErrUnavailable, orStatus(er.Message, resp.Status))
	}
}

func orStatus(msg, status string) string {
	if msg != "" {
		return msg
	}
	return status
}
