package api

import (
	"encoding/json"
	"net/http"

	"github.com/ipflow/relay/audit"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
)

type dispatchRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type dispatchResponse struct {
	Event    string             `json:"event"`
	Outcomes []delivery.Outcome `json:"outcomes"`
}

func (h *Handler) dispatchEvent(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	outcomes, err := h.relay.Dispatch(r.Context(), p.TenantID, req.Event, req.Data)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dispatchResponse{Event: req.Event, Outcomes: outcomes})
}

func (h *Handler) listEventTypes(w http.ResponseWriter, _ *http.Request, _ *credential.Principal) {
	defs := []catalog.Definition{}
	if reg := h.relay.Catalog(); reg != nil {
		defs = reg.List()
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	opts := audit.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  pageLimit(r),
		Action: audit.Action(queryParam(r, "action")),
	}

	entries, err := h.relay.AuditLog(r.Context(), p.TenantID, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
