package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/practicecore/libs/httpx"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/rewards"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

type redeemRequest struct {
	ClientID string `json:"client_id"`
	OptionID string `json:"option_id"`
}

type balanceResponse struct {
	ClientID string              `json:"client_id"`
	Balance  int64               `json:"balance"`
	Tier     rewards.Tier        `json:"tier"`
	Entries  []model.RewardEntry `json:"entries,omitempty"`
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" && p.Role == tenant.RoleClient {
		req.ClientID = p.Subject
	}
	if req.ClientID == "" || strings.TrimSpace(req.OptionID) == "" {
		badRequest(w, "client_id and option_id are required")
		return
	}
	if !p.CanActFor(req.ClientID) {
		forbidden(w)
		return
	}

	var out rewards.Redemption
	err := h.Store.InTx(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = h.Rewards.Redeem(ctx, tx, p.Org, req.ClientID, strings.TrimSpace(req.OptionID))
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Logger.Info("reward redeemed", "org_id", p.Org, "client_id", req.ClientID, "option_id", out.Option, "balance", out.Balance)
	httpx.WriteJSON(w, http.StatusOK, out)
}

// RewardBalance answers GET /rewards/balance?clientId=. history=1 includes
// the entries behind the balance.
func (h *Handler) RewardBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("clientId"))
	if clientID == "" && p.Role == tenant.RoleClient {
		clientID = p.Subject
	}
	if clientID == "" {
		badRequest(w, "clientId is required")
		return
	}
	if !p.CanActFor(clientID) {
		forbidden(w)
		return
	}
	withHistory, _ := strconv.ParseBool(r.URL.Query().Get("history"))

	resp := balanceResponse{ClientID: clientID}
	err := h.Store.InTx(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		if resp.Balance, err = h.Rewards.Balance(ctx, tx, p.Org, clientID); err != nil {
			return err
		}
		if withHistory {
			resp.Entries, err = tx.RewardEntries(ctx, p.Org, clientID)
		}
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp.Tier = rewards.TierFor(resp.Balance)
	httpx.WriteJSON(w, http.StatusOK, resp)
}
