package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/escrow"
	"htlc-escrow/internal/storage"
)

type createRequest struct {
	Terms                    domain.SwapTerms       `json:"terms"`
	Taker                    domain.Address         `json:"taker"`
	TakerTraits              domain.TakerTraits     `json:"taker_traits"`
	Authorizations           []domain.Authorization `json:"authorizations"`
	SrcCancellationTimestamp *uint64                `json:"src_cancellation_timestamp,omitempty"`
}

type withdrawRequest struct {
	Secret domain.Secret  `json:"secret"`
	Caller domain.Address `json:"caller"`
}

type cancelRequest struct {
	Caller         domain.Address         `json:"caller"`
	Authorizations []domain.Authorization `json:"authorizations"`
}

type rescueRequest struct {
	Token          domain.Address         `json:"token"`
	Amount         int64                  `json:"amount"`
	Caller         domain.Address         `json:"caller"`
	Authorizations []domain.Authorization `json:"authorizations"`
}

type faucetRequest struct {
	Token  domain.Address `json:"token"`
	Owner  domain.Address `json:"owner"`
	Amount int64          `json:"amount"`
}

type addressResponse struct {
	EscrowID string         `json:"escrow_id"`
	Address  domain.Address `json:"address"`
}

type balanceResponse struct {
	Token  domain.Address `json:"token"`
	Owner  domain.Address `json:"owner"`
	Amount int64          `json:"amount"`
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := readJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	esc, err := s.engine.Create(r.Context(), escrow.CreateRequest{
		Terms:                    req.Terms,
		Taker:                    req.Taker,
		TakerTraits:              req.TakerTraits,
		Authorizations:           req.Authorizations,
		SrcCancellationTimestamp: req.SrcCancellationTimestamp,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, esc)
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	var terms domain.SwapTerms
	if err := readJSON(r, &terms); err != nil {
		writeBadRequest(w, err)
		return
	}

	id, addr, err := s.engine.AddressOf(terms)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{EscrowID: id, Address: addr})
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		escrows []*domain.Escrow
		err     error
	)
	switch {
	case q.Get("hashlock") != "":
		hashlock, perr := domain.ParseHash32(q.Get("hashlock"))
		if perr != nil {
			writeBadRequest(w, fmt.Errorf("hashlock: %w", perr))
			return
		}
		escrows, err = s.engine.FindByHashlock(r.Context(), hashlock)
	case q.Get("state") != "":
		escrows, err = s.engine.FindByState(r.Context(), domain.State(q.Get("state")))
	default:
		writeBadRequest(w, fmt.Errorf("one of hashlock or state is required"))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if escrows == nil {
		escrows = []*domain.Escrow{}
	}
	writeJSON(w, http.StatusOK, escrows)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	esc, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := s.engine.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if evs == nil {
		evs = []*domain.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := readJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	esc, err := s.engine.Withdraw(r.Context(), escrow.WithdrawRequest{
		EscrowID: chi.URLParam(r, "id"),
		Secret:   req.Secret,
		Caller:   req.Caller,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := readJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	esc, err := s.engine.Cancel(r.Context(), escrow.CancelRequest{
		EscrowID:       chi.URLParam(r, "id"),
		Caller:         req.Caller,
		Authorizations: req.Authorizations,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleRescue(w http.ResponseWriter, r *http.Request) {
	var req rescueRequest
	if err := readJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	err := s.engine.RescueFunds(r.Context(), escrow.RescueRequest{
		EscrowID:       id,
		Token:          req.Token,
		Amount:         req.Amount,
		Caller:         req.Caller,
		Authorizations: req.Authorizations,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	esc, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	token := domain.Address(chi.URLParam(r, "token"))
	owner := domain.Address(chi.URLParam(r, "owner"))
	if err := token.Validate(); err != nil {
		writeBadRequest(w, fmt.Errorf("token: %w", err))
		return
	}
	if err := owner.Validate(); err != nil {
		writeBadRequest(w, fmt.Errorf("owner: %w", err))
		return
	}

	amount, err := s.balances.Balance(r.Context(), token, owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Token: token, Owner: owner, Amount: amount})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := readJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := req.Token.Validate(); err != nil {
		writeBadRequest(w, fmt.Errorf("token: %w", err))
		return
	}
	if err := req.Owner.Validate(); err != nil {
		writeBadRequest(w, fmt.Errorf("owner: %w", err))
		return
	}
	if req.Amount <= 0 {
		writeBadRequest(w, fmt.Errorf("amount must be positive"))
		return
	}

	if err := s.balances.Mint(r.Context(), req.Token, req.Owner, req.Amount); err != nil {
		if errors.Is(err, storage.ErrOverflow) {
			overflow := *escrow.ErrArithmeticOverflow
			overflow.Detail = fmt.Sprintf("minting %d of %s to %s: %v", req.Amount, req.Token, req.Owner, err)
			s.writeError(w, &overflow)
			return
		}
		s.writeError(w, err)
		return
	}
	s.log.Debug("faucet minted %d of %s to %s", req.Amount, req.Token, req.Owner)

	amount, err := s.balances.Balance(r.Context(), req.Token, req.Owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Token: req.Token, Owner: req.Owner, Amount: amount})
}
