package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/token"
)

// DevHandler exposes the in-memory bank so local deployments can mint and
// approve tokens without an external ledger. Only mounted when dev_faucet
// is enabled.
type DevHandler struct {
	bank    *token.Bank
	custody common.Address
}

// NewDevHandler creates a DevHandler approving spends by custody.
func NewDevHandler(bank *token.Bank, custody common.Address) *DevHandler {
	return &DevHandler{bank: bank, custody: custody}
}

// devFundRequest is the body of POST /dev/faucet and POST /dev/approve.
type devFundRequest struct {
	Handle string `json:"handle"`
	Amount string `json:"amount"`
}

type devFundResponse struct {
	Trader    string `json:"trader"`
	Handle    string `json:"handle"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// Faucet handles POST /dev/faucet: mints amount to the caller.
func (h *DevHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	h.fund(w, r, h.bank.Faucet)
}

// Approve handles POST /dev/approve: sets the custody allowance of the
// caller to amount.
func (h *DevHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.fund(w, r, func(handle, trader common.Address, amount domain.Amount) error {
		return h.bank.Approve(handle, trader, h.custody, amount)
	})
}

func (h *DevHandler) fund(w http.ResponseWriter, r *http.Request, fn func(handle, trader common.Address, amount domain.Amount) error) {
	trader, err := callerAddress(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	var req devFundRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	handle, err := parseAddress("handle", req.Handle)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	if err := fn(handle, trader, amount); err != nil {
		WriteDomainError(w, err)
		return
	}

	balance := h.bank.BalanceOf(handle, trader)
	allowance := h.bank.Allowance(handle, trader, h.custody)
	WriteJSON(w, http.StatusOK, devFundResponse{
		Trader:    trader.Hex(),
		Handle:    handle.Hex(),
		Balance:   balance.Dec(),
		Allowance: allowance.Dec(),
	})
}
