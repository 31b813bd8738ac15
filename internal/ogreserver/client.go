// Package ogreserver is the authenticated HTTP client for the catalog
// server: login, catalog submission, metadata confirmation, upload
// negotiation and log shipping.
package ogreserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"ogreclient/internal/config"
	"ogreclient/internal/ebook"
	"ogreclient/internal/services"
)

// AuthHeader carries the session token on every authenticated call.
const AuthHeader = "Ogre-Key"

// DefaultTimeout bounds each request. The server is expected to answer
// quickly; anything slower is treated the same as unreachable.
const DefaultTimeout = 5 * time.Second

// Client talks to one catalog server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
}

// New builds a client from the server config. No network traffic happens
// until Login.
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.Server.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "connect", "new_client", "server host not configured", nil)
	}
	scheme := "http"
	if cfg.Server.UseSSL {
		scheme = "https"
	}
	base, err := url.Parse(fmt.Sprintf("%s://%s", scheme, cfg.Server.Host))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "connect", "new_client",
			fmt.Sprintf("invalid server host %q", cfg.Server.Host), err)
	}

	timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Server.IgnoreSSLErrors {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		logger:     logger.With(slog.String("component", "ogreserver")),
	}, nil
}

// APIKey returns the session token captured by Login.
func (c *Client) APIKey() string {
	return c.apiKey
}

type loginResponse struct {
	Response struct {
		User struct {
			AuthenticationToken string `json:"authentication_token"`
		} `json:"user"`
	} `json:"response"`
}

// Login exchanges credentials for the session token used on all later calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("encode login body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/login", "application/json", bytes.NewReader(body), false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return services.Wrap(services.ErrAuthDenied, "connect", "login", "credentials rejected", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return services.Wrap(services.ErrAuthDenied, "connect", "login",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return services.Wrap(services.ErrRequestFailed, "connect", "login", "malformed login response", err)
	}
	if parsed.Response.User.AuthenticationToken == "" {
		return services.Wrap(services.ErrAuthDenied, "connect", "login", "no session token in response", nil)
	}
	c.apiKey = parsed.Response.User.AuthenticationToken
	return nil
}

// PostResponse is the server's verdict on a submitted catalog.
type PostResponse struct {
	Messages []string               `json:"messages"`
	Errors   []string               `json:"errors"`
	ToUpdate map[string]UpdateEntry `json:"to_update"`
}

// UpdateEntry flags one hash needing a local metadata patch.
type UpdateEntry struct {
	EbookID string `json:"ebook_id"`
}

// Post submits the session catalog, keyed by composite key.
func (c *Client) Post(ctx context.Context, books map[string]ebook.Payload) (*PostResponse, error) {
	var parsed PostResponse
	if err := c.postJSON(ctx, "/api/v1/post", books, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

type confirmResponse struct {
	Result string `json:"result"`
}

// Confirm reports a metadata patch to the server: the file's hash changed
// from oldHash to newHash. The returned result is "ok", "fail" or "same".
func (c *Client) Confirm(ctx context.Context, oldHash, newHash string) (string, error) {
	var parsed confirmResponse
	body := map[string]string{"file_hash": oldHash, "new_hash": newHash}
	if err := c.postJSON(ctx, "/api/v1/confirm", body, &parsed); err != nil {
		return "", err
	}
	return parsed.Result, nil
}

type toUploadResponse struct {
	Result []string `json:"result"`
}

// ToUpload asks which hashes the server still lacks.
func (c *Client) ToUpload(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/to-upload", "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "to_upload"); err != nil {
		return nil, err
	}

	var parsed toUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, services.Wrap(services.ErrRequestFailed, "sync", "to_upload", "malformed response", err)
	}
	return parsed.Result, nil
}

// Upload multipart-posts one file with its identity fields.
func (c *Client) Upload(ctx context.Context, rec *ebook.Record) error {
	return c.uploadMultipart(ctx, "/api/v1/upload", rec, nil)
}

// UploadErrord posts a file that errored during scan or decryption to the
// debug endpoint, carrying its on-disk filename so the failure can be
// reproduced server-side.
func (c *Client) UploadErrord(ctx context.Context, rec *ebook.Record, filename string) error {
	return c.uploadMultipart(ctx, "/api/v1/upload-errord", rec, map[string]string{"filename": filename})
}

// uploadMultipart streams one file to endpoint through an io.Pipe, so the
// request body never holds the whole ebook in memory.
func (c *Client) uploadMultipart(ctx context.Context, endpoint string, rec *ebook.Record, extra map[string]string) error {
	file, err := os.Open(rec.Path)
	if err != nil {
		return &ebook.MissingFileError{Path: rec.Path}
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		pw.CloseWithError(writeUploadBody(writer, file, rec, extra))
	}()

	resp, err := c.do(ctx, http.MethodPost, endpoint, writer.FormDataContentType(), pr, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, endpoint)
}

func writeUploadBody(writer *multipart.Writer, file *os.File, rec *ebook.Record, extra map[string]string) error {
	fields := map[string]string{
		"ebook_id":  rec.EbookID,
		"file_hash": rec.FileHash,
		"format":    rec.Format,
	}
	for name, value := range extra {
		fields[name] = value
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("write multipart field %s: %w", name, err)
		}
	}
	part, err := writer.CreateFormFile("ebook", rec.SafeName())
	if err != nil {
		return fmt.Errorf("create multipart file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read upload file %s: %w", rec.Path, err)
	}
	return writer.Close()
}

// PostLogs ships the session's log text for server-side diagnostics.
func (c *Client) PostLogs(ctx context.Context, rawLogs string) error {
	var parsed confirmResponse
	if err := c.postJSON(ctx, "/api/v1/post-logs", map[string]string{"raw_logs": rawLogs}, &parsed); err != nil {
		return err
	}
	if parsed.Result != "ok" {
		return services.Wrap(services.ErrRequestFailed, "sync", "post_logs",
			fmt.Sprintf("server rejected logs: %s", parsed.Result), nil)
	}
	return nil
}

// Definitions fetches the server's ordered format definitions. Rank is the
// list position; lower ranks win dedup tie-breaks.
func (c *Client) Definitions(ctx context.Context) ([]config.FormatDef, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/definitions", "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "definitions"); err != nil {
		return nil, err
	}

	var parsed struct {
		Definitions [][3]json.RawMessage `json:"definitions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, services.Wrap(services.ErrRequestFailed, "sync", "definitions", "malformed response", err)
	}
	defs := make([]config.FormatDef, 0, len(parsed.Definitions))
	for _, row := range parsed.Definitions {
		var def config.FormatDef
		if err := json.Unmarshal(row[0], &def.Format); err != nil {
			return nil, services.Wrap(services.ErrRequestFailed, "sync", "definitions", "malformed format entry", err)
		}
		if err := json.Unmarshal(row[1], &def.ValidFormat); err != nil {
			return nil, services.Wrap(services.ErrRequestFailed, "sync", "definitions", "malformed format entry", err)
		}
		if err := json.Unmarshal(row[2], &def.NonFiction); err != nil {
			return nil, services.Wrap(services.ErrRequestFailed, "sync", "definitions", "malformed format entry", err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Download streams a server file to destDir, returning the local path.
func (c *Client) Download(ctx context.Context, remotePath, destDir string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, remotePath, "", nil, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "download"); err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, filepath.Base(remotePath))
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create download target: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("stream download: %w", err)
	}
	return dest, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, into any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(encoded), true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, path); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return services.Wrap(services.ErrRequestFailed, "sync", path, "malformed response", err)
	}
	return nil
}

// do issues one request. Connection failures and 502s both collapse into
// ErrServerUnavailable so callers treat them identically.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, authed bool) (*http.Response, error) {
	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.Header.Set(AuthHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isConnectionError(err) {
			return nil, services.Wrap(services.ErrServerUnavailable, "connect", path, "server unreachable", err)
		}
		return nil, services.Wrap(services.ErrRequestFailed, "connect", path, "request failed", err)
	}
	if resp.StatusCode == http.StatusBadGateway {
		resp.Body.Close()
		return nil, services.Wrap(services.ErrServerUnavailable, "connect", path, "server returned 502", nil)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden {
		return services.Wrap(services.ErrAuthDenied, "sync", op, "access denied", nil)
	}
	return services.Wrap(services.ErrRequestFailed, "sync", op,
		fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
