package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoodway/mulberry/fetch"
)

func TestHTTPRetrieverGetHTML(t *testing.T) {
	var gotReferer, gotParam string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		gotParam = r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Hello</title></head><body><a href="/next">next</a></body></html>`))
	}))
	defer server.Close()

	retriever := fetch.NewHTTPRetriever(fetch.HTTPRetrieverOptions{UserAgent: "mulberry-test/1.0"})
	resp, err := retriever.Get(context.Background(), server.URL, fetch.Options{
		Headers: map[string]string{"Referer": "http://a.test/"},
		Params:  map[string]string{"page": "2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "http://a.test/", gotReferer)
	assert.Equal(t, "2", gotParam)
	require.NotNil(t, resp.Document)
	assert.Equal(t, "Hello", resp.Document.Title)
	require.Len(t, resp.Document.Links, 1)
	assert.Equal(t, server.URL+"/next", resp.Document.Links[0].URL)
	assert.Greater(t, resp.ResponseTime, time.Duration(0))
}

func TestHTTPRetrieverNonHTMLBodyKept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	retriever := fetch.NewHTTPRetriever(fetch.HTTPRetrieverOptions{})
	resp, err := retriever.Get(context.Background(), server.URL, fetch.Options{})
	require.NoError(t, err)
	assert.Nil(t, resp.Document)
	assert.Equal(t, []byte(`{"ok":true}`), resp.Body)
}

func TestHTTPRetrieverStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		kind      fetch.ErrorKind
		retryable bool
	}{
		{404, fetch.KindHTTP4xx, false},
		{403, fetch.KindHTTP4xx, false},
		{429, fetch.KindRateLimited, true},
		{500, fetch.KindHTTP5xx, true},
		{503, fetch.KindHTTP5xx, true},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		retriever := fetch.NewHTTPRetriever(fetch.HTTPRetrieverOptions{})
		_, err := retriever.Get(context.Background(), server.URL, fetch.Options{})
		server.Close()

		require.Error(t, err, "status %d", tc.status)
		var fetchErr *fetch.Error
		require.True(t, errors.As(err, &fetchErr), "status %d", tc.status)
		assert.Equal(t, tc.kind, fetchErr.Kind, "status %d", tc.status)
		assert.Equal(t, tc.status, fetchErr.StatusCode)
		assert.Equal(t, tc.retryable, fetchErr.IsRetryable(), "status %d", tc.status)
	}
}

func TestHTTPRetrieverTimeout(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	retriever := fetch.NewHTTPRetriever(fetch.HTTPRetrieverOptions{})
	_, err := retriever.Get(context.Background(), server.URL, fetch.Options{Timeout: 30 * time.Millisecond})

	require.Error(t, err)
	var fetchErr *fetch.Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, fetch.KindTimeout, fetchErr.Kind)
	assert.True(t, fetchErr.IsRetryable())
}

func TestHTTPRetrieverConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	retriever := fetch.NewHTTPRetriever(fetch.HTTPRetrieverOptions{})
	_, err := retriever.Get(context.Background(), addr, fetch.Options{})

	require.Error(t, err)
	var fetchErr *fetch.Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, fetch.KindConnection, fetchErr.Kind)
}

func TestHTTPRetrieverResponder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>raw</title></head><body></body></html>`))
	}))
	defer server.Close()

	retriever := fetch.NewHTTPRetriever(fetch.HTTPRetrieverOptions{})
	resp, err := retriever.Get(context.Background(), server.URL, fetch.Options{
		Responder: func(r *fetch.Response) (*fetch.Response, error) {
			r.Document.Title = "transformed"
			return r, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "transformed", resp.Document.Title)
}
