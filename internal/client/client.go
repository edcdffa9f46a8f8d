// Package client talks to the upload gateway: it fetches the session
// dashboard and streams a single file to POST /upload/addvideo.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

const (
	uploadPath    = "/upload/addvideo"
	dashboardPath = "/dashboard"
	fileField     = "file"

	// GenericErrorMessage is shown when a failed response carries no message.
	GenericErrorMessage = "An error occurred"

	maxErrorBody = 64 * 1024
)

// ErrDashboardUnavailable means the server does not serve the dashboard
// endpoint, so the session can be neither confirmed nor refuted.
var ErrDashboardUnavailable = errors.New("dashboard endpoint not available")

// Session is the account context returned by the dashboard endpoint.
type Session struct {
	UserName         string `json:"userName"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

// UploadResult is the gateway's success body.
type UploadResult struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client is an authenticated gateway client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. token is sent as a bearer credential when non-empty.
// A nil httpClient uses http.DefaultClient.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// Dashboard fetches the session context. ErrDashboardUnavailable is
// returned when the server has no dashboard; any other error means the
// session should be treated as invalid.
func (c *Client) Dashboard(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+dashboardPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dashboard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrDashboardUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode dashboard: %w", err)
	}
	return &session, nil
}

// Upload streams the file at path as the single "file" part of a multipart
// request. The body is never held in memory.
func (c *Client) Upload(ctx context.Context, path string) (*UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeFilePart(mw, filepath.Base(path), file))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	// Unblocks the writer if the transport stopped reading early.
	pr.Close()
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readAPIError(resp)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// mediaTypes covers common media extensions that the host's mime tables
// may not know about.
var mediaTypes = map[string]string{
	".aac":  "audio/aac",
	".avi":  "video/x-msvideo",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".webm": "video/webm",
}

// contentTypeFor guesses the part Content-Type from the file extension.
func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func writeFilePart(mw *multipart.Writer, name string, r io.Reader) error {
	contentType := contentTypeFor(name)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// readAPIError extracts the server's message, falling back to the "error"
// field and then to GenericErrorMessage.
func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Message: GenericErrorMessage}

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err != nil {
		return apiErr
	}
	switch {
	case body.Message != "":
		apiErr.Message = body.Message
	case body.Error != "":
		apiErr.Message = body.Error
	}
	return apiErr
}
