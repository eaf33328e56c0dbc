package govision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSessionExpired is returned when a 401 could not be resolved by a token
// refresh. The stored credential has been cleared; the user must log in again.
var ErrSessionExpired = errors.New("session expired")

// CredentialStore supplies and persists the credential used by the client.
// Implemented by *creds.Store.
type CredentialStore interface {
	Get() (Credential, bool)
	Save(Credential) error
	Clear() error
}

// JobFetcher fetches the current status of one job. Implemented by *Client
// and can be swapped out for testing.
type JobFetcher interface {
	FetchJob(ctx context.Context, id string) (*JobStatusResponse, error)
}

// Uploader submits one image for processing. Implemented by *Client.
type Uploader interface {
	UploadImage(ctx context.Context, fileName string, content []byte) (*UploadResponse, error)
}

var (
	_ JobFetcher = (*Client)(nil)
	_ Uploader   = (*Client)(nil)
)

// Client talks to the govision HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	creds     CredentialStore
	userAgent string
}

const (
	defaultBaseURL   = "http://localhost:8080/v1"
	defaultUserAgent = "lens/0.1"
	requestTimeout   = 30 * time.Second
)

// NewClient builds a Client for the given base URL (scheme optional, path
// prefix kept). An empty baseURL uses the default.
func NewClient(baseURL string, store CredentialStore) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		creds:     store,
		userAgent: defaultUserAgent,
	}, nil
}

// Do issues an authenticated request. The stored access token, when present,
// is attached as a bearer header. Responses other than 401 are returned
// verbatim. A 401 triggers exactly one refresh cycle followed by one replay
// of the original request; when the refresh fails the stored credential is
// cleared and ErrSessionExpired is returned.
func (c *Client) Do(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	cred, _ := c.creds.Get()

	resp, err := c.send(ctx, method, path, contentType, body, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	_ = resp.Body.Close()

	refreshed, err := c.refresh(ctx, cred)
	if err != nil {
		_ = c.creds.Clear()
		return nil, ErrSessionExpired
	}
	return c.send(ctx, method, path, contentType, body, refreshed.AccessToken)
}

// Login exchanges email+password for a token pair and persists it together
// with the identity.
func (c *Client) Login(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, "/auth/login", "application/json", payload, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return apiError(resp, "Login failed.")
	}
	var pair TokenPair
	if !decodeJSON(resp, &pair) || pair.AccessToken == "" || pair.RefreshToken == "" {
		return fmt.Errorf("invalid server response")
	}
	return c.creds.Save(Credential{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Identity:     email,
	})
}

// Register creates a new account. Tokens are not issued; the caller logs in
// afterwards.
func (c *Client) Register(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("marshal register request: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, "/auth/register", "application/json", payload, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return apiError(resp, "Registration failed.")
	}
	return nil
}

// UploadImage submits one image as a multipart body (field name "file").
func (c *Client) UploadImage(ctx context.Context, fileName string, content []byte) (*UploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/image/upload", writer.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return nil, apiError(resp, "Upload failed")
	}
	var payload UploadResponse
	if !decodeJSON(resp, &payload) || payload.JobID == "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "Upload failed"}
	}
	return &payload, nil
}

// FetchJob retrieves the current status of one job.
func (c *Client) FetchJob(ctx context.Context, id string) (*JobStatusResponse, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), "", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return nil, apiError(resp, fmt.Sprintf("job fetch returned status %d", resp.StatusCode))
	}
	var payload JobStatusResponse
	if !decodeJSON(resp, &payload) {
		return nil, fmt.Errorf("job %s: no data in response", id)
	}
	return &payload, nil
}

// refresh performs the one-shot token refresh. Any failure here (missing
// refresh token, network error, non-2xx, tokens absent from the body) ends
// the session.
func (c *Client) refresh(ctx context.Context, cred Credential) (Credential, error) {
	if cred.RefreshToken == "" {
		return Credential{}, fmt.Errorf("no refresh token")
	}
	payload, err := json.Marshal(map[string]string{"refresh_token": cred.RefreshToken})
	if err != nil {
		return Credential{}, fmt.Errorf("marshal refresh request: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, "/auth/refresh", "application/json", payload, "")
	if err != nil {
		return Credential{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return Credential{}, fmt.Errorf("refresh returned status %d", resp.StatusCode)
	}
	var pair TokenPair
	if !decodeJSON(resp, &pair) || pair.AccessToken == "" || pair.RefreshToken == "" {
		return Credential{}, fmt.Errorf("refresh response missing tokens")
	}
	next := Credential{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Identity:     cred.Identity,
	}
	if err := c.creds.Save(next); err != nil {
		return Credential{}, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	return next, nil
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// decodeJSON decodes a JSON response body into dest. Non-JSON content types
// and unparsable bodies report false instead of an error.
func decodeJSON(resp *http.Response, dest any) bool {
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return false
	}
	return true
}

// apiError builds an APIError from a non-2xx response, falling back to the
// given message when the body carries none.
func apiError(resp *http.Response, fallback string) *APIError {
	var body errorBody
	message := fallback
	if decodeJSON(resp, &body) && strings.TrimSpace(body.Message) != "" {
		message = body.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

func parseBaseURL(baseURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api_base_url %q: %w", baseURL, err)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
