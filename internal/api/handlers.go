package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/middleware"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/service"
	"github.com/mmynk/tontine/internal/storage"
)

type credentialsRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
}

type sessionResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	WalletID    string `json:"wallet_id"`
	Token       string `json:"token"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	session, err := h.Auth.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	session, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func sessionView(s *service.Session) sessionResponse {
	return sessionResponse{
		UserID:      s.User.ID,
		Email:       s.User.Email,
		DisplayName: s.User.DisplayName,
		WalletID:    s.Wallet.ID,
		Token:       s.Token,
	}
}

type createGroupRequest struct {
	Name               string          `json:"name"`
	Purpose            string          `json:"purpose"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	Frequency          string          `json:"frequency"`
	MaxMembers         int             `json:"max_members"`
	PayoutRule         string          `json:"payout_rule"`
	LockContributions  bool            `json:"lock_contributions"`
}

type memberView struct {
	UserID           string          `json:"user_id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	JoinedAt         time.Time       `json:"joined_at"`
	TotalContributed decimal.Decimal `json:"total_contributed"`
	PayoutPosition   int             `json:"payout_position"`
}

type groupView struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Purpose            string          `json:"purpose,omitempty"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	Frequency          string          `json:"frequency"`
	MaxMembers         int             `json:"max_members"`
	MemberCount        int             `json:"member_count"`
	Status             string          `json:"status"`
	JoinCode           string          `json:"join_code"`
	PayoutRule         string          `json:"payout_rule"`
	LockContributions  bool            `json:"lock_contributions"`
	CreatorID          string          `json:"creator_id"`
	Members            []memberView    `json:"members"`
	CreatedAt          time.Time       `json:"created_at"`
	FilledAt           *time.Time      `json:"filled_at,omitempty"`
}

func toGroupView(g *models.Group) groupView {
	members := make([]memberView, len(g.Members))
	for i, m := range g.Members {
		members[i] = memberView{
			UserID:           m.UserID,
			Name:             m.Name,
			Email:            m.Email,
			JoinedAt:         m.JoinedAt,
			TotalContributed: m.TotalContributed,
			PayoutPosition:   m.PayoutPosition,
		}
	}
	return groupView{
		ID:                 g.ID,
		Name:               g.Name,
		Purpose:            g.Purpose,
		ContributionAmount: g.ContributionAmount,
		Frequency:          string(g.Frequency),
		MaxMembers:         g.MaxMembers,
		MemberCount:        g.MemberCount,
		Status:             string(g.Status),
		JoinCode:           g.JoinCode,
		PayoutRule:         string(g.PayoutRule),
		LockContributions:  g.LockContributions,
		CreatorID:          g.CreatorID,
		Members:            members,
		CreatedAt:          g.CreatedAt,
		FilledAt:           g.FilledAt,
	}
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	group, err := h.Registry.Create(r.Context(), middleware.GetUserID(r.Context()), service.GroupSpec{
		Name:               req.Name,
		Purpose:            req.Purpose,
		ContributionAmount: req.ContributionAmount,
		Frequency:          models.ContributionFrequency(req.Frequency),
		MaxMembers:         req.MaxMembers,
		PayoutRule:         models.PayoutRule(req.PayoutRule),
		LockContributions:  req.LockContributions,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupView(group))
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.Registry.Get(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupView(group))
}

type updateGroupRequest struct {
	Name       *string `json:"name"`
	Purpose    *string `json:"purpose"`
	PayoutRule *string `json:"payout_rule"`
}

func (h *Handler) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req updateGroupRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	patch := storage.GroupPatch{Name: req.Name, Purpose: req.Purpose}
	if req.PayoutRule != nil {
		rule := models.PayoutRule(*req.PayoutRule)
		patch.PayoutRule = &rule
	}
	group, err := h.Registry.Update(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), patch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupView(group))
}

func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Delete(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context())); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type joinRequest struct {
	JoinCode string `json:"join_code"`
}

func (h *Handler) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	result, err := h.Membership.Join(r.Context(), req.JoinCode, middleware.GetUserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Group  groupView  `json:"group"`
		Member memberView `json:"member"`
	}{
		Group: toGroupView(result.Group),
		Member: memberView{
			UserID:           result.Member.UserID,
			Name:             result.Member.Name,
			Email:            result.Member.Email,
			JoinedAt:         result.Member.JoinedAt,
			TotalContributed: result.Member.TotalContributed,
			PayoutPosition:   result.Member.PayoutPosition,
		},
	})
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type entryView struct {
	ID            string            `json:"id"`
	Seq           int64             `json:"seq"`
	UserID        string            `json:"user_id"`
	WalletID      string            `json:"wallet_id"`
	Type          string            `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	GroupID       string            `json:"group_id,omitempty"`
	Round         int               `json:"round,omitempty"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	EscrowBefore  decimal.Decimal   `json:"escrow_before"`
	EscrowAfter   decimal.Decimal   `json:"escrow_after"`
	Description   string            `json:"description,omitempty"`
	SettlementRef string            `json:"settlement_ref,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toEntryView(e *models.LedgerEntry) entryView {
	return entryView{
		ID:            e.ID,
		Seq:           e.Seq,
		UserID:        e.UserID,
		WalletID:      e.WalletID,
		Type:          string(e.Type),
		Amount:        e.Amount,
		GroupID:       e.GroupID,
		Round:         e.Round,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		EscrowBefore:  e.EscrowBefore,
		EscrowAfter:   e.EscrowAfter,
		Description:   e.Description,
		SettlementRef: e.SettlementRef,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
	}
}

func (h *Handler) handleContribute(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	entry, err := h.Membership.Contribute(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryView(entry))
}

func (h *Handler) handleCancelGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.Membership.Cancel(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupView(group))
}

func (h *Handler) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Wallets.GetBalances(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Wallets.ListEntries(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	views := make([]entryView, len(entries))
	for i := range entries {
		views[i] = toEntryView(&entries[i])
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Wallets.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"consistent": ok})
}

type freezeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.Wallets.Freeze(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	if err := h.Wallets.Unfreeze(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	entry, err := h.Wallets.Adjust(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.Reason, req.Delta)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryView(entry))
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.Wrap(fault.Validation, err, "invalid request body")
	}
	return nil
}
