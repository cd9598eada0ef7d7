package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dvcrn/frollo-sdk-go/internal/logger"
	"github.com/dvcrn/frollo-sdk-go/internal/network"
	"github.com/dvcrn/frollo-sdk-go/internal/oauth"
)

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	LegacyToken string `json:"legacy_token"`
}

type authorizeRequest struct {
	Code     string `json:"code"`
	Verifier string `json:"verifier"`
}

type authorizeURLResponse struct {
	URL      string `json:"url"`
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// loginHandler handles POST /admin/login
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to decode login request")
		writeError(w, http.StatusBadRequest, "", "Invalid request body")
		return
	}

	var err error
	switch {
	case req.LegacyToken != "":
		err = s.session.LoginWithLegacyToken(r.Context(), req.LegacyToken)
	case req.Username != "" && req.Password != "":
		err = s.session.LoginWithPassword(r.Context(), req.Username, req.Password)
	default:
		writeError(w, http.StatusBadRequest, "", "username and password, or legacy_token, are required")
		return
	}
	if err != nil {
		writeGrantError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.session.Status(r.Context()))
}

// logoutHandler handles POST /admin/logout
func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		logger.Get().Error().Err(err).Msg("Logout failed")
		writeError(w, http.StatusInternalServerError, "", "Failed to clear credentials")
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status(r.Context()))
}

// statusHandler handles GET /admin/status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status(r.Context()))
}

// authorizeURLHandler handles GET /admin/authorize
func (s *Server) authorizeURLHandler(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		state = uuid.NewString()
	}
	u, verifier := s.session.AuthorizationURL(state)
	writeJSON(w, http.StatusOK, authorizeURLResponse{URL: u, State: state, Verifier: verifier})
}

// authorizeCodeHandler handles POST /admin/authorize
func (s *Server) authorizeCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.Verifier == "" {
		writeError(w, http.StatusBadRequest, "", "code and verifier are required")
		return
	}
	if err := s.session.ExchangeAuthorizationCode(r.Context(), req.Code, req.Verifier); err != nil {
		writeGrantError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status(r.Context()))
}

func writeGrantError(w http.ResponseWriter, err error) {
	var oauthErr *oauth.Error
	var netErr *network.NetworkError
	switch {
	case errors.As(err, &oauthErr):
		logger.Get().Warn().Err(err).Msg("Login rejected")
		writeJSON(w, http.StatusUnauthorized, oauthErr)
	case errors.Is(err, oauth.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "", err.Error())
	case errors.As(err, &netErr):
		logger.Get().Error().Err(err).Msg("Authorization server unreachable")
		writeError(w, http.StatusBadGateway, "", err.Error())
	default:
		logger.Get().Error().Err(err).Msg("Login failed")
		writeError(w, http.StatusInternalServerError, "", err.Error())
	}
}
