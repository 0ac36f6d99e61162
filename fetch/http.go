package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 << 20 // 10 MiB
	defaultUserAgent   = "mulberry/1.0 (+https://github.com/agoodway/mulberry)"
)

// HTTPRetrieverOptions configures NewHTTPRetriever. Zero values resolve to
// the defaults above.
type HTTPRetrieverOptions struct {
	Client      *http.Client
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int64
}

// HTTPRetriever fetches pages over plain HTTP and parses HTML bodies into
// Documents. It never parses non-HTML content; the body is still returned.
type HTTPRetriever struct {
	client      *http.Client
	userAgent   string
	timeout     time.Duration
	maxBodySize int64
}

func NewHTTPRetriever(opts HTTPRetrieverOptions) *HTTPRetriever {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	return &HTTPRetriever{
		client:      opts.Client,
		userAgent:   opts.UserAgent,
		timeout:     opts.Timeout,
		maxBodySize: opts.MaxBodySize,
	}
}

func (h *HTTPRetriever) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, NewError(KindParse, rawURL, err)
	}
	if len(opts.Params) > 0 {
		q := target.Query()
		for k, v := range opts.Params {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, NewError(KindConnection, rawURL, err)
	}
	for key, value := range requestHeaders(h.userAgent) {
		req.Header.Set(key, value)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ClassifyTransport(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fetchErr := NewError(KindForStatus(resp.StatusCode), rawURL,
			fmt.Errorf("status %d", resp.StatusCode))
		fetchErr.StatusCode = resp.StatusCode
		return nil, fetchErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBodySize))
	if err != nil {
		return nil, ClassifyTransport(rawURL, err)
	}

	headers := make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	result := &Response{
		URL:          finalURL,
		StatusCode:   resp.StatusCode,
		Headers:      headers,
		Body:         body,
		ResponseTime: time.Since(start),
		FetchedAt:    time.Now(),
	}

	if isHTMLContent(resp.Header.Get("Content-Type")) {
		baseURL := target
		if resp.Request != nil && resp.Request.URL != nil {
			baseURL = resp.Request.URL
		}
		doc, parseErr := ParseDocument(body, baseURL)
		if parseErr != nil {
			return nil, parseErr
		}
		result.Document = doc
	}

	if opts.Responder != nil {
		transformed, err := opts.Responder(result)
		if err != nil {
			return nil, NewError(KindParse, rawURL, err)
		}
		result = transformed
	}

	return result, nil
}

func isHTMLContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	}
}
