// Package backend is a typed client for the analysis backend. Every call takes
// the bearer token explicitly; the client never caches credentials.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// CorrelationHeader carries the request correlation id to the backend.
const CorrelationHeader = "X-Correlation-Id"

type correlationKey struct{}

// WithCorrelationID returns a context whose backend calls carry id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// Client calls the analysis backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. A zero timeout leaves the transport default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetOrganization resolves the caller's organization and billing state.
func (c *Client) GetOrganization(ctx context.Context, token string) (*OrganizationState, error) {
	var out OrganizationState
	if err := c.doJSON(ctx, http.MethodGet, "/organizations/me", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrganization provisions the caller's organization. The backend returns
// the existing organization when there already is one.
func (c *Client) CreateOrganization(ctx context.Context, token string, req CreateOrganizationRequest) (*CreatedOrganization, error) {
	var out CreatedOrganization
	if err := c.doJSON(ctx, http.MethodPost, "/organizations", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadLogs submits a CSV or JSON log file as multipart field "file".
func (c *Client) UploadLogs(ctx context.Context, token, filename string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(fileHeader(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/ingestion/upload", token, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func fileHeader(filename string) textproto.MIMEHeader {
	contentType := "application/octet-stream"
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		contentType = "text/csv"
	case ".json":
		contentType = "application/json"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename))},
		"Content-Type":        {contentType},
	}
}

// GetSchema fetches the upload field list and a sample row.
func (c *Client) GetSchema(ctx context.Context, token string) (*Schema, error) {
	var out Schema
	if err := c.doJSON(ctx, http.MethodGet, "/ingestion/schema", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateInsights clusters uploaded logs into insights.
func (c *Client) GenerateInsights(ctx context.Context, token string) (*InsightsResult, error) {
	var out InsightsResult
	if err := c.doJSON(ctx, http.MethodPost, "/insights/generate", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDecisionCards lists cards by priority plus this week's top three.
func (c *Client) ListDecisionCards(ctx context.Context, token string) (*CardList, error) {
	var out CardList
	if err := c.doJSON(ctx, http.MethodGet, "/decision_cards/list", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateDecisionCards turns insights into decision cards.
func (c *Client) GenerateDecisionCards(ctx context.Context, token string) (*CardsGenerated, error) {
	var out CardsGenerated
	if err := c.doJSON(ctx, http.MethodPost, "/decision_cards/generate", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDecisionCard fetches one card. A missing card matches ErrNotFound.
func (c *Client) GetDecisionCard(ctx context.Context, token, id string) (*DecisionCard, error) {
	var out DecisionCard
	if err := c.doJSON(ctx, http.MethodGet, "/decision_cards/"+url.PathEscape(id), token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetDecisionCardStatus sets a card to open or done.
func (c *Client) SetDecisionCardStatus(ctx context.Context, token, id, status string) error {
	body := map[string]string{"status": status}
	return c.doJSON(ctx, http.MethodPatch, "/decision_cards/"+url.PathEscape(id), token, body, nil)
}

// WeeklyReport fetches the synthesized weekly report.
func (c *Client) WeeklyReport(ctx context.Context, token string) (*WeeklyReportResponse, error) {
	var out WeeklyReportResponse
	if err := c.doJSON(ctx, http.MethodGet, "/reports/weekly", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checkout obtains a payment-provider redirect URL.
func (c *Client) Checkout(ctx context.Context, token string, req CheckoutRequest) (*CheckoutResponse, error) {
	var out CheckoutResponse
	if err := c.doJSON(ctx, http.MethodPost, "/billing/checkout", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(CorrelationHeader, correlationID(ctx))
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse backend response: %w", err)
	}
	return nil
}
