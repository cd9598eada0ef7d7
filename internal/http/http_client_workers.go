//go:build js && wasm

package http

import (
	"net/http"
	"time"

	"github.com/syumai/workers/cloudflare/fetch"
)

// fetchTransport implements http.RoundTripper over Cloudflare Workers fetch
type fetchTransport struct {
	client *fetch.Client
}

// NewTransport returns a fetch-backed transport for the Workers runtime.
func NewTransport() http.RoundTripper {
	return &fetchTransport{client: fetch.NewClient()}
}

// NewHTTPClient creates a client whose transport is Workers fetch.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(),
		Timeout:   timeout,
	}
}

func (t *fetchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fetchReq, err := fetch.NewRequest(req.Context(), req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, err
	}

	for key, values := range req.Header {
		for _, value := range values {
			fetchReq.Header.Add(key, value)
		}
	}

	return t.client.Do(fetchReq, nil)
}
