package callclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPRequest is an outbound HTTP call (spec §3's HTTP/HTTP_REDIRECT call
// types).
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse is the result of an HTTPRequest.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Redirected bool
}

// HTTPClient issues plain HTTP calls through a default net/http client,
// which follows redirects and returns the final response. Redirected
// reports whether the final URL differs from the requested one; the
// caller decides whether that counts as CallTypeHTTPRedirect.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient builds an HTTPClient with the default transport.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{client: &http.Client{}}
}

// Do executes req and returns resp, honoring ctx cancellation.
func (h *HTTPClient) Do(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("callclient: build request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("callclient: execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("callclient: read response body: %w", err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			respHeaders[name] = values[0]
		}
	}

	return HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    respHeaders,
		Body:       respBody,
		Redirected: resp.Request != nil && resp.Request.URL.String() != req.URL,
	}, nil
}
