package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/domain/apikey"
)

// Handler exposes the key-management endpoints, delegating lifecycle logic
// to the issuance service and verification to the authenticator.
type Handler struct {
	keys          *apikey.Service
	authenticator *auth.Authenticator
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(keys *apikey.Service, authenticator *auth.Authenticator) *Handler {
	return &Handler{keys: keys, authenticator: authenticator}
}

// Routes returns the key-management mux. Management calls authenticate with
// a keys:manage scoped API key; the introspection endpoint accepts any
// valid key.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	manage := Authenticate(h.authenticator, "keys:manage")
	mux.Handle("POST /keys", manage(http.HandlerFunc(h.issueKey)))
	mux.Handle("GET /keys", manage(http.HandlerFunc(h.listKeys)))
	mux.Handle("PATCH /keys/{id}", manage(http.HandlerFunc(h.editKey)))
	mux.Handle("DELETE /keys/{id}", manage(http.HandlerFunc(h.revokeKey)))

	mux.Handle("GET /whoami", Authenticate(h.authenticator)(http.HandlerFunc(h.whoami)))

	return mux
}

// issueRequest is the POST /keys body.
type issueRequest struct {
	OwnerType string            `json:"owner_type,omitempty"`
	OwnerID   string            `json:"owner_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Scopes    []string          `json:"scopes,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// issueResponse carries the one-time plaintext token alongside the record.
type issueResponse struct {
	Key   keyView `json:"key"`
	Token string  `json:"token"`
}

// keyView is the externally visible shape of a key record. The stored digest
// is deliberately omitted.
type keyView struct {
	ID            string            `json:"id"`
	MaskedToken   string            `json:"masked_token"`
	Name          string            `json:"name,omitempty"`
	OwnerType     string            `json:"owner_type,omitempty"`
	OwnerID       string            `json:"owner_id,omitempty"`
	Scopes        []string          `json:"scopes,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt    *time.Time        `json:"last_used_at,omitempty"`
	RequestsCount int64             `json:"requests_count"`
	RevokedAt     *time.Time        `json:"revoked_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func viewOf(k *apikey.Key) keyView {
	return keyView{
		ID:            k.ID,
		MaskedToken:   k.MaskedToken(),
		Name:          k.Name,
		OwnerType:     k.Owner.Type,
		OwnerID:       k.Owner.ID,
		Scopes:        k.Scopes,
		Metadata:      k.Metadata,
		ExpiresAt:     k.ExpiresAt,
		LastUsedAt:    k.LastUsedAt,
		RequestsCount: k.RequestsCount,
		RevokedAt:     k.RevokedAt,
		CreatedAt:     k.CreatedAt,
	}
}

func (h *Handler) issueKey(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	issued, err := h.keys.Issue(r.Context(), apikey.IssueParams{
		Owner:     apikey.Owner{Type: req.OwnerType, ID: req.OwnerID},
		Name:      req.Name,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, issueResponse{
		Key:   viewOf(issued.Key),
		Token: issued.Token,
	})
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	owner := apikey.Owner{
		Type: r.URL.Query().Get("owner_type"),
		ID:   r.URL.Query().Get("owner_id"),
	}
	if owner.IsZero() {
		writeError(w, http.StatusBadRequest, "owner_type and owner_id are required")
		return
	}

	keys, err := h.keys.List(r.Context(), owner)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, viewOf(k))
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": views})
}

// editRequest is the PATCH /keys/{id} body.
type editRequest struct {
	Name   string   `json:"name,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

func (h *Handler) editKey(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := h.keys.Edit(r.Context(), r.PathValue("id"), req.Name, req.Scopes)
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(key))
}

func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Revoke(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			writeError(w, http.StatusNotFound, "api key not found")
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(key))
}

// whoami introspects the presented key and its resolved tenant.
func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	key, ok := KeyFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body := map[string]any{"key": viewOf(key)}
	if tenant := h.authenticator.Tenant(r.Context(), key); tenant != nil {
		body["tenant"] = tenant
	}
	writeJSON(w, http.StatusOK, body)
}

// writeLifecycleError maps issuance and edit failures onto HTTP statuses.
func writeLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apikey.ErrNameRequired),
		errors.Is(err, apikey.ErrNameInvalid),
		errors.Is(err, apikey.ErrExpiryInPast):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, apikey.ErrQuotaExceeded),
		errors.Is(err, apikey.ErrDuplicateDigest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apikey.ErrNotFound):
		writeError(w, http.StatusNotFound, "api key not found")
	default:
		zctx.From(r.Context()).Error("key operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
