package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	contentType = "application/json"
	// maxErrorBody limits how much of an error response is kept.
	maxErrorBody = 64 * 1024
	// bodyNotAvailable replaces a response body which could not be read.
	bodyNotAvailable = "N/A"
)

// InitPayload is the body of the handshake request.
type InitPayload struct {
	AppDataDir string `json:"appDataDir"`
}

// HandshakeError is returned by HandshakeClient.Init. Err is set for
// transport failures, StatusCode and Body for a non 2xx answer.
type HandshakeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return "failed to send appDataDir: " + e.Err.Error()
	}
	return fmt.Sprintf("failed to send appDataDir, status: %d, body: %s", e.StatusCode, e.Body)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// HandshakeClient delivers the application data directory to the sidecar
// once it is ready.
type HandshakeClient struct {
	requestURL *url.URL
	client     *http.Client
}

// NewHandshakeClient returns a client posting to endpoint. A zero timeout
// means the request is bound by its context only.
func NewHandshakeClient(endpoint string, timeout time.Duration) (*HandshakeClient, error) {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, errors.New("please define the handshake url with a scheme and a host, e.g. `http://127.0.0.1:4130/api/init`")
	}

	c := &HandshakeClient{
		requestURL: parsedURL,
		client: &http.Client{
			Timeout: timeout,
			// the handshake is a single request, don't leave idle
			// connections to the sidecar behind
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
	return c, nil
}

// URL returns the handshake endpoint.
func (c *HandshakeClient) URL() string {
	return c.requestURL.String()
}

// Init posts payload to the sidecar. Any 2xx status is a success, the
// response body is ignored.
func (c *HandshakeClient) Init(ctx context.Context, payload InitPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return &HandshakeError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := bodyNotAvailable
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err == nil {
			body = string(respBody)
		}
		return &HandshakeError{StatusCode: resp.StatusCode, Body: body}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	slog.DebugContext(ctx, "appDataDir sent to sidecar",
		slog.String("url", c.requestURL.String()),
		slog.Int("status", resp.StatusCode))
	return nil
}
