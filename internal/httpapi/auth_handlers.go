package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type walletLoginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type accountView struct {
	ID             string `json:"id"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role"`
	WalletAddress  string `json:"walletAddress,omitempty"`
	WalletVerified bool   `json:"walletVerified"`
}

type tokenResponse struct {
	AccessToken      string       `json:"accessToken"`
	RefreshToken     string       `json:"refreshToken"`
	AccessExpiresAt  time.Time    `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	User             *accountView `json:"user,omitempty"`
}

func viewOf(account *auth.Account) *accountView {
	return &accountView{
		ID:             account.ID,
		Email:          account.Email,
		Role:           string(account.Role),
		WalletAddress:  account.WalletAddress,
		WalletVerified: account.WalletVerified,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, account, err := a.service.PasswordLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		respondAuthError(w, r, err)
		return
	}

	obs.CountTokensIssued("password")
	_ = audit.LogEvent(r.Context(), "auth.login.password", map[string]any{
		"user_id": account.ID,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             viewOf(account),
	})
}

func (a *API) handleWalletLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req walletLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, account, err := a.service.WalletLogin(r.Context(), req.Address, req.Message, req.Signature)
	if err != nil {
		respondAuthError(w, r, err)
		return
	}

	obs.CountTokensIssued("wallet")
	_ = audit.LogEvent(r.Context(), "auth.login.wallet", map[string]any{
		"user_id": account.ID,
		"wallet":  account.WalletAddress,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             viewOf(account),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	pair, err := a.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondAuthError(w, r, err)
		return
	}

	obs.CountTokensIssued("refresh")
	_ = audit.LogEvent(r.Context(), "auth.token.rotated", nil)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	token, _ := auth.TokenFromContext(r.Context())
	if err := a.service.RevokeToken(r.Context(), token); err != nil {
		respondAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.revoked", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	account, err := a.service.Directory().Find(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			respondAuthError(w, r, auth.ErrUnauthorized)
			return
		}
		respondAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(account))
}

func (a *API) handleAdminAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	accounts, err := a.service.Directory().List(r.Context())
	if err != nil {
		respondAuthError(w, r, err)
		return
	}
	views := make([]*accountView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, viewOf(account))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

func (a *API) handleWalletStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"walletAddress":  identity.WalletAddress,
		"walletVerified": true,
	})
}

// --- helpers ---

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("malformed request body")
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
