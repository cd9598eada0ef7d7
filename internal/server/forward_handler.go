package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dvcrn/frollo-sdk-go/internal/logger"
	"github.com/dvcrn/frollo-sdk-go/internal/network"
)

const maxForwardBody = 10 << 20

// hopHeaders are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forwardHandler sends the request to the API server through the auth pipeline.
func (s *Server) forwardHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.Get().With().Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Logger()

	path := strings.TrimPrefix(r.URL.Path, "/")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	target, err := s.session.URL(path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	// Buffered so the pipeline can replay it after a 401 or 429.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxForwardBody+1))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read request body")
		writeError(w, http.StatusBadRequest, "", "Error reading request body")
		return
	}
	if len(body) > maxForwardBody {
		writeError(w, http.StatusRequestEntityTooLarge, "", "Request body too large")
		return
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, reader)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Del("Authorization")
	req.Header.Del("X-API-Key")
	req.Header.Del("Host")

	resp, err := s.session.Client().Do(req)
	if err != nil {
		writeForwardError(r.Context(), w, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				log.Debug().Err(err).Msg("Client went away while streaming response")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				log.Warn().Err(readErr).Msg("Upstream response truncated")
			}
			return
		}
	}
}

func writeForwardError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logger.Get().With().Str("request_id", requestID(ctx)).Logger()

	var apiErr *network.APIError
	var netErr *network.NetworkError
	switch {
	case errors.As(err, &apiErr):
		log.Warn().Err(err).Msg("Request rejected before reaching the API")
		writeError(w, apiErr.StatusCode, string(apiErr.Code), apiErr.Message)
	case errors.Is(err, network.ErrSessionReset):
		writeError(w, http.StatusServiceUnavailable, "", "session was reset while the request was in flight")
	case ctx.Err() != nil:
		// client disconnected
		log.Debug().Err(err).Msg("Request cancelled")
	case errors.As(err, &netErr):
		log.Error().Err(err).Msg("Upstream unreachable")
		writeError(w, http.StatusBadGateway, "", netErr.Error())
	default:
		log.Error().Err(err).Msg("Forwarding failed")
		writeError(w, http.StatusBadGateway, "", err.Error())
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
