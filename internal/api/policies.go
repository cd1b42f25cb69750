package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/store"
)

// maxPolicyBytes bounds an override document.
const maxPolicyBytes = 64 << 10

func (d *Dependencies) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := d.Store.GetPolicy(r.Context(), r.PathValue("project_id"))
	if err != nil {
		d.internalError(w, "get policy", err)
		return
	}
	if policy == nil {
		writeError(w, http.StatusNotFound, "Policy not found.")
		return
	}
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

// handleReplacePolicy implements PUT: the body becomes the whole override.
func (d *Dependencies) handleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	raw, ok := readOverride(w, r)
	if !ok {
		return
	}
	policy, err := d.Store.ReplacePolicy(r.Context(), r.PathValue("project_id"), raw)
	d.writePolicyResult(w, "replace", policy, err)
}

// handleUpdatePolicy implements PATCH: fields in the body are merged into the
// stored override.
func (d *Dependencies) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	raw, ok := readOverride(w, r)
	if !ok {
		return
	}
	policy, err := d.Store.UpdatePolicy(r.Context(), r.PathValue("project_id"), raw)
	d.writePolicyResult(w, "update", policy, err)
}

// readOverride reads the request body as a raw override document. Schema
// validation happens in the store so every write path shares it.
func readOverride(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return nil, false
	}
	if len(body) > maxPolicyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "policy exceeds 64 KiB")
		return nil, false
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	return json.RawMessage(body), true
}

func (d *Dependencies) writePolicyResult(w http.ResponseWriter, op string, policy *store.Policy, err error) {
	if errors.Is(err, store.ErrInvalidPolicy) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		d.internalError(w, op+" policy", err)
		return
	}
	if policy == nil {
		writeError(w, http.StatusNotFound, "Policy not found.")
		return
	}
	d.Logger.Info("policy override saved",
		zap.String("project_id", policy.ProjectID),
		zap.Int("revision", policy.Revision),
	)
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

func policyToResp(p *store.Policy) PolicyResp {
	po := p.PolicyOverride
	if len(po) == 0 {
		po = json.RawMessage(`{}`)
	}
	return PolicyResp{
		ID:             p.ID,
		ProjectID:      p.ProjectID,
		PolicyOverride: po,
		Revision:       p.Revision,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
