package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/identity"
	"github.com/UkralStul/fexora/internal/session"
)

const (
	stateCookie = "fexora_oauth_state"
	nonceCookie = "fexora_oauth_nonce"
	// federatedFlowTTL - сколько живут cookie незавершенного федеративного входа.
	federatedFlowTTL = 10 * time.Minute
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	handle, err := s.gateway.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	handle, err := s.gateway.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.gateway.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleFederatedLogin перенаправляет на страницу входа внешнего провайдера.
// state и nonce сохраняются в cookie и проверяются при возврате.
func (s *Server) handleFederatedLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomHex(16)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := randomHex(16)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	url, err := s.gateway.FederatedLoginURL(state, nonce)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	setFlowCookie(w, r, stateCookie, state, int(federatedFlowTTL/time.Second))
	setFlowCookie(w, r, nonceCookie, nonce, int(federatedFlowTTL/time.Second))
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	const op = "api.federatedCallback"
	q := r.URL.Query()

	// cookie одноразовые
	setFlowCookie(w, r, stateCookie, "", -1)
	setFlowCookie(w, r, nonceCookie, "", -1)

	cb := identity.FederatedCallback{Code: q.Get("code"), Error: q.Get("error")}
	if cb.Error == "" && cb.Code != "" {
		state, err := r.Cookie(stateCookie)
		if err != nil || subtle.ConstantTimeCompare([]byte(state.Value), []byte(q.Get("state"))) != 1 {
			s.writeError(w, r, domain.E(domain.KindFederatedLoginFailed, op, "state mismatch"))
			return
		}
		nonce, err := r.Cookie(nonceCookie)
		if err != nil || nonce.Value == "" {
			s.writeError(w, r, domain.E(domain.KindFederatedLoginFailed, op, "nonce missing"))
			return
		}
		cb.Nonce = nonce.Value
	}

	handle, err := s.gateway.SignInFederated(r.Context(), cb)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

type resetRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.gateway.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePasswordResetVerify(w http.ResponseWriter, r *http.Request) {
	email, err := s.gateway.VerifyPasswordReset(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.gateway.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	Account *domain.Account     `json:"account"`
	Profile *domain.UserProfile `json:"profile"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	account := session.FromContext(r.Context()).Current()
	profile, err := s.directory.GetProfileByID(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Account: account, Profile: profile})
}

// setFlowCookie ставит cookie федеративного входа; отрицательный maxAge удаляет ее.
func setFlowCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/federated",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
