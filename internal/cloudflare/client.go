// internal/cloudflare/client.go
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"wardendns.io/internal/models"
)

const (
	defaultBaseURL = "https://api.cloudflare.com/client/v4"
	perPage        = 100
)

// ErrZoneAccess is returned when the API token is not authorized for a
// zone. Callers treat this as a configuration problem and skip the zone
// rather than failing the whole cycle.
var ErrZoneAccess = errors.New("zone access denied")

// Client is a minimal Cloudflare DNS API client covering the record
// operations the controller performs.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Cloudflare API client. An empty baseURL selects the
// production API endpoint; a non-positive timeout selects 15s.
func NewClient(token, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiError is one error object in an API response envelope
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// resultInfo carries pagination metadata
type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
}

// envelope is the standard Cloudflare API response wrapper
type envelope struct {
	Success    bool            `json:"success"`
	Errors     []apiError      `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *resultInfo     `json:"result_info"`
}

// RecordPatch describes a partial update to an existing record. Nil fields
// are left untouched by the API.
type RecordPatch struct {
	Content *string `json:"content,omitempty"`
	TTL     *int    `json:"ttl,omitempty"`
	Proxied *bool   `json:"proxied,omitempty"`
}

// createRequest is the body for record creation
type createRequest struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// ListRecords returns every DNS record for a hostname in a zone, draining
// all result pages. An empty recordType lists all types.
func (c *Client) ListRecords(ctx context.Context, zoneID, name, recordType string) ([]models.ProviderRecord, error) {
	var records []models.ProviderRecord

	page := 1
	for {
		query := url.Values{}
		query.Set("name", name)
		if recordType != "" {
			query.Set("type", recordType)
		}
		query.Set("per_page", strconv.Itoa(perPage))
		query.Set("page", strconv.Itoa(page))

		path := fmt.Sprintf("/zones/%s/dns_records?%s", zoneID, query.Encode())
		env, err := c.do(ctx, http.MethodGet, path, nil, zoneID)
		if err != nil {
			return nil, err
		}

		var pageRecords []models.ProviderRecord
		if err := json.Unmarshal(env.Result, &pageRecords); err != nil {
			return nil, fmt.Errorf("failed to decode records for zone %s: %w", zoneID, err)
		}
		records = append(records, pageRecords...)

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			break
		}
		page++
	}

	return records, nil
}

// CreateRecord creates a DNS record and returns the provider's view of it
func (c *Client) CreateRecord(ctx context.Context, zoneID, name, recordType, content string, ttl int, proxied bool) (*models.ProviderRecord, error) {
	body := createRequest{
		Type:    recordType,
		Name:    name,
		Content: content,
		TTL:     ttl,
		Proxied: proxied,
	}

	path := fmt.Sprintf("/zones/%s/dns_records", zoneID)
	env, err := c.do(ctx, http.MethodPost, path, body, zoneID)
	if err != nil {
		return nil, err
	}

	var record models.ProviderRecord
	if err := json.Unmarshal(env.Result, &record); err != nil {
		return nil, fmt.Errorf("failed to decode created record: %w", err)
	}
	if record.ZoneID == "" {
		record.ZoneID = zoneID
	}

	return &record, nil
}

// UpdateRecord applies a partial update to an existing record
func (c *Client) UpdateRecord(ctx context.Context, zoneID, recordID string, patch RecordPatch) (*models.ProviderRecord, error) {
	path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID)
	env, err := c.do(ctx, http.MethodPatch, path, patch, zoneID)
	if err != nil {
		return nil, err
	}

	var record models.ProviderRecord
	if err := json.Unmarshal(env.Result, &record); err != nil {
		return nil, fmt.Errorf("failed to decode updated record: %w", err)
	}
	if record.ZoneID == "" {
		record.ZoneID = zoneID
	}

	return &record, nil
}

// DeleteRecord removes a DNS record
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID)
	_, err := c.do(ctx, http.MethodDelete, path, nil, zoneID)
	return err
}

// do executes one API request and decodes the response envelope
func (c *Client) do(ctx context.Context, method, path string, body interface{}, zoneID string) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: zone %s", ErrZoneAccess, zoneID)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		if len(env.Errors) > 0 {
			return nil, fmt.Errorf("api error %d: %s", env.Errors[0].Code, env.Errors[0].Message)
		}
		return nil, fmt.Errorf("api request failed with status %d", resp.StatusCode)
	}

	return &env, nil
}
