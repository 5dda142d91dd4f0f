package api

import (
	"net/http"

	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/delivery"
	"github.com/ipflow/relay/id"
	"github.com/ipflow/relay/subscription"
)

type createWebhookRequest struct {
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Events      []string `json:"events"`
}

// createdWebhook is the only response that carries the signing secret.
type createdWebhook struct {
	*subscription.Subscription
	Secret string `json:"secret"`
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	var req createWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.relay.CreateSubscription(r.Context(), subscription.Input{
		TenantID:    p.TenantID,
		URL:         req.URL,
		Description: req.Description,
		Events:      req.Events,
		ActorID:     p.CredentialID.String(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createdWebhook{Subscription: sub, Secret: sub.Secret})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	opts := subscription.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  pageLimit(r),
		Active: queryBool(r, "active"),
	}

	subs, err := h.relay.Subscriptions().List(r.Context(), p.TenantID, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	sub, ok := h.ownedWebhook(w, r, p)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	sub, ok := h.ownedWebhook(w, r, p)
	if !ok {
		return
	}

	var in subscription.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.ActorID = p.CredentialID.String()

	updated, err := h.relay.Subscriptions().Update(r.Context(), sub.ID, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	sub, ok := h.ownedWebhook(w, r, p)
	if !ok {
		return
	}

	if err := h.relay.Subscriptions().Delete(r.Context(), sub.ID, p.CredentialID.String()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reactivateWebhook(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	sub, ok := h.ownedWebhook(w, r, p)
	if !ok {
		return
	}

	updated, err := h.relay.Subscriptions().Reactivate(r.Context(), sub.ID, p.CredentialID.String())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) testWebhook(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	sub, ok := h.ownedWebhook(w, r, p)
	if !ok {
		return
	}

	out, err := h.relay.TestDelivery(r.Context(), sub.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request, p *credential.Principal) {
	sub, ok := h.ownedWebhook(w, r, p)
	if !ok {
		return
	}

	opts := delivery.ListOpts{
		Offset:  queryInt(r, "offset", 0),
		Limit:   pageLimit(r),
		Success: queryBool(r, "success"),
	}

	recs, err := h.relay.Deliveries(r.Context(), sub.ID, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recs)
}

// ownedWebhook loads the path subscription if it belongs to the caller's
// tenant. Subscriptions of other tenants are reported as missing.
func (h *Handler) ownedWebhook(w http.ResponseWriter, r *http.Request, p *credential.Principal) (*subscription.Subscription, bool) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return nil, false
	}

	sub, err := h.relay.Subscriptions().Get(r.Context(), subID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil, false
	}
	if sub.TenantID != p.TenantID {
		writeError(w, http.StatusNotFound, "webhook not found")
		return nil, false
	}
	return sub, true
}
