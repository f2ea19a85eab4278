package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/practicecore/libs/httpx"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
)

type upgradeMembershipRequest struct {
	MembershipID string `json:"membership_id"`
	TierID       string `json:"tier_id"`
}

type upgradeMembershipResponse struct {
	Membership model.Membership `json:"membership"`
	Deferred   bool             `json:"deferred"`
}

type cancelMembershipRequest struct {
	MembershipID string `json:"membership_id"`
}

type membershipResponse struct {
	Membership       model.Membership `json:"membership"`
	RemainingCredits string           `json:"remaining_credits"`
}

func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	m, err := h.Memberships.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, membershipResponse{Membership: m, RemainingCredits: m.RemainingCredits().String()})
}

func (h *Handler) UpgradeMembership(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req upgradeMembershipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	req.MembershipID = strings.TrimSpace(req.MembershipID)
	req.TierID = strings.TrimSpace(req.TierID)
	if req.MembershipID == "" || req.TierID == "" {
		badRequest(w, "membership_id and tier_id are required")
		return
	}
	change, err := h.Memberships.Upgrade(r.Context(), p, req.MembershipID, req.TierID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, upgradeMembershipResponse{Membership: change.Membership, Deferred: change.Deferred})
}

func (h *Handler) CancelMembership(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req cancelMembershipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.MembershipID) == "" {
		badRequest(w, "membership_id is required")
		return
	}
	m, err := h.Memberships.Cancel(r.Context(), p, strings.TrimSpace(req.MembershipID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, membershipResponse{Membership: m, RemainingCredits: m.RemainingCredits().String()})
}
