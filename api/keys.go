package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/scope"
)

type createKeyRequest struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RateLimit int        `json:"rate_limit,omitempty"`
}

func (h *Handler) createKey(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	var req createKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A key can only hand out what it holds itself.
	for _, s := range req.Scopes {
		if !scope.Authorize(p.Scopes, s) {
			writeError(w, http.StatusForbidden, "cannot grant scope "+s)
			return
		}
	}
	switch {
	case req.RateLimit > p.RateLimit:
		writeError(w, http.StatusForbidden, "cannot grant rate_limit above "+strconv.Itoa(p.RateLimit))
		return
	case req.RateLimit <= 0:
		req.RateLimit = p.RateLimit
	}

	issued, err := h.relay.IssueCredential(r.Context(), credential.Input{
		TenantID:  p.TenantID,
		Name:      req.Name,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
		RateLimit: req.RateLimit,
		ActorID:   p.CredentialID.String(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, issued)
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	opts := credential.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  pageLimit(r),
		Active: queryBool(r, "active"),
	}

	keys, err := h.relay.Credentials().List(r.Context(), p.TenantID, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	credID, ok := h.ownedKey(w, r, p)
	if !ok {
		return
	}

	if err := h.relay.RevokeCredential(r.Context(), credID, p.CredentialID.String()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	credID, ok := h.ownedKey(w, r, p)
	if !ok {
		return
	}

	if err := h.relay.Credentials().Delete(r.Context(), credID, p.CredentialID.String()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ownedKey parses the path ID and confirms the key belongs to the caller's
// tenant. Keys of other tenants are reported as missing.
func (h *Handler) ownedKey(w http.ResponseWriter, r *http.Request, p *credential.Principal) (id.ID, bool) {
	credID, err := id.ParseCredentialID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid api key ID")
		return id.ID{}, false
	}

	c, err := h.relay.Credentials().Get(r.Context(), credID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return id.ID{}, false
	}
	if c.TenantID != p.TenantID {
		writeError(w, http.StatusNotFound, "api key not found")
		return id.ID{}, false
	}
	return credID, true
}
