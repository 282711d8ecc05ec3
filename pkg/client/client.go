// Package client provides a small Go SDK for the milelog trip ledger API.
// It is the transport layer the CLI is built on and is usable standalone.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Trip is one live trip as returned by GET /api/v1/trips.
type Trip struct {
	TripID    string     `json:"trip_id"`
	EntryHash string     `json:"entry_hash"`
	Record    TripRecord `json:"record"`
}

// TripRecord carries the business fields of a trip.
type TripRecord struct {
	Date        string  `json:"date"`
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	DistanceKM  float64 `json:"distance_km"`
	Purpose     string  `json:"purpose"`
	ProjectID   string  `json:"project_id,omitempty"`
	ProjectName string  `json:"project_name,omitempty"`
	Vehicle     string  `json:"vehicle,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// LedgerEntry is one link of the hash chain as the API serializes it.
type LedgerEntry struct {
	ID            string      `json:"id"`
	Seq           int64       `json:"seq"`
	Operation     string      `json:"operation"`
	Source        string      `json:"source"`
	TripID        string      `json:"trip_id"`
	Timestamp     string      `json:"timestamp"`
	Snapshot      TripRecord  `json:"snapshot"`
	PrevSnapshot  *TripRecord `json:"previous_snapshot,omitempty"`
	ChangedFields []string    `json:"changed_fields,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	PrevHash      string      `json:"prev_hash"`
	Hash          string      `json:"hash"`
}

// VerificationResult mirrors the verify endpoint's response.
type VerificationResult struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt *int64 `json:"broken_at,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Report is a stored signed report. Trips and verification details are left
// as raw JSON; the CLI prints them verbatim.
type Report struct {
	ID            string          `json:"id"`
	GeneratedAt   time.Time       `json:"generated_at"`
	StartDate     string          `json:"start_date"`
	EndDate       string          `json:"end_date"`
	ProjectID     string          `json:"project_id"`
	ProjectName   string          `json:"project_name"`
	TotalDistance float64         `json:"total_distance"`
	Trips         json.RawMessage `json:"trips_data"`
	FirstTripHash string          `json:"first_trip_hash"`
	LastTripHash  string          `json:"last_trip_hash"`
	Signature     string          `json:"signature"`
}

// AuditResult mirrors the report audit endpoint's response.
type AuditResult struct {
	ReportID       string `json:"report_id"`
	SignatureValid bool   `json:"signature_valid"`
	Tampered       bool   `json:"tampered"`
}

// ImportResult summarizes a CSV import run.
type ImportResult struct {
	Imported  int             `json:"imported"`
	Batch     json.RawMessage `json:"batch"`
	FailedRow int             `json:"failed_row,omitempty"`
	Failure   string          `json:"failure,omitempty"`
}

// Session is the token-plus-user payload returned by signup and login.
type Session struct {
	Token string `json:"token"`
	User  struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	} `json:"user"`
}

// Client talks to a milelog server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken attaches a previously obtained session token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns the session token currently in use.
func (c *Client) Token() string { return c.token }

// Signup creates an account and stores the returned session token on the
// client.
func (c *Client) Signup(ctx context.Context, email, password, displayName string) (*Session, error) {
	var s Session
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}, &s)
	if err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

// Login authenticates and stores the returned session token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &s)
	if err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

// CreateTrip appends a create entry and returns it.
func (c *Client) CreateTrip(ctx context.Context, rec TripRecord) (*LedgerEntry, error) {
	var e LedgerEntry
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/trips", rec, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AmendTrip appends an amend entry. Only the non-nil patch fields change.
func (c *Client) AmendTrip(ctx context.Context, tripID string, patch map[string]any, reason string) (*LedgerEntry, error) {
	var e LedgerEntry
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/trips/"+url.PathEscape(tripID)+"/amend", map[string]any{
		"patch":  patch,
		"reason": reason,
	}, &e)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// VoidTrip appends a void entry for the trip.
func (c *Client) VoidTrip(ctx context.Context, tripID, reason string) (*LedgerEntry, error) {
	var e LedgerEntry
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/trips/"+url.PathEscape(tripID)+"/void", map[string]string{
		"reason": reason,
	}, &e)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListTrips returns the current state of every live trip.
func (c *Client) ListTrips(ctx context.Context) ([]Trip, error) {
	var resp struct {
		Trips []Trip `json:"trips"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/trips", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trips, nil
}

// TripHistory returns every ledger entry that touched the trip.
func (c *Client) TripHistory(ctx context.Context, tripID string) ([]LedgerEntry, error) {
	var resp struct {
		Entries []LedgerEntry `json:"entries"`
	}
	path := "/api/v1/trips/" + url.PathEscape(tripID) + "/history"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Verify checks the caller's hash chain. A zero from/to verifies the whole
// chain back to genesis.
func (c *Client) Verify(ctx context.Context, from, to int64) (*VerificationResult, error) {
	path := "/api/v1/ledger/verify"
	if from > 0 || to > 0 {
		path = fmt.Sprintf("%s?from=%d&to=%d", path, from, to)
	}
	var result VerificationResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateReport creates a signed report for the period.
func (c *Client) GenerateReport(ctx context.Context, startDate, endDate, projectID string) (*Report, error) {
	var r Report
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/reports", map[string]string{
		"start_date": startDate,
		"end_date":   endDate,
		"project_id": projectID,
	}, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReports returns the caller's stored reports.
func (c *Client) ListReports(ctx context.Context) ([]Report, error) {
	var resp struct {
		Reports []Report `json:"reports"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/reports", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// AuditReport re-verifies a stored report against the live chain.
func (c *Client) AuditReport(ctx context.Context, reportID string) (*AuditResult, error) {
	var result AuditResult
	path := "/api/v1/reports/" + url.PathEscape(reportID) + "/audit"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ImportCSV uploads a CSV file as a multipart form and returns the batch
// summary. A partial import (some rows appended, one failed) is returned
// without error; check FailedRow.
func (c *Client) ImportCSV(ctx context.Context, filename string, data io.Reader) (*ImportResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(fw, data); err != nil {
		return nil, fmt.Errorf("copy file into form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/imports/csv", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var result ImportResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// doJSON executes a JSON request against the API and decodes the response
// into out (which may be nil).
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do executes a prepared request with auth attached and returns the body,
// turning non-2xx statuses into errors carrying the server's message.
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMultiStatus {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	return body, nil
}
