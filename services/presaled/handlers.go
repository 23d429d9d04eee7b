package presaled

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/rados-io/saturn-presale/gateway/middleware"
	"github.com/rados-io/saturn-presale/native/presale"
)

const maxRequestBody = 1 << 16

type depositRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type purchaseRequest struct {
	Tier  string `json:"tier"`
	Value string `json:"value"`
}

type contributionRequest struct {
	Value string `json:"value"`
}

type transferRequest struct {
	Recipient string `json:"recipient"`
}

type accountRedeemResponse struct {
	Amount  string      `json:"amount"`
	Account accountView `json:"account"`
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAddress(field, raw string) ([20]byte, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return [20]byte{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, field)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount accepts a non-negative decimal integer. Range checks are left
// to the ledger.
func parseAmount(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative decimal integer", errBadRequest, field)
	}
	return value, nil
}

func parseGrantID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: grant id must be an unsigned integer", errBadRequest)
	}
	return id, nil
}

func caller(r *http.Request) [20]byte {
	addr, _ := middleware.CallerFromContext(r.Context())
	return addr
}

func (s *Server) handleSale(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.State()
	if err != nil {
		s.writeLedgerError(w, "sale", err)
		return
	}
	writeJSON(w, http.StatusOK, newSaleView(s.engine.Config(), st))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	value, err := parseAmount("value", r.URL.Query().Get("value"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var tier presale.Tier
	if s.engine.Mode() == presale.ModeTiered {
		if tier, err = presale.ParseTier(r.URL.Query().Get("tier")); err != nil {
			s.writeLedgerError(w, "quote", err)
			return
		}
	}
	quote, err := s.engine.Quote(tier, value)
	if err != nil {
		s.writeLedgerError(w, "quote", err)
		return
	}
	view := quoteView{Value: amountString(quote.Value), Amount: amountString(quote.Amount), LockDuration: quote.LockDuration}
	if quote.Tier.Valid() {
		view.Tier = quote.Tier.String()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	id, err := parseGrantID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	grant, err := s.engine.Grant(id)
	if err != nil {
		s.writeLedgerError(w, "grant", err)
		return
	}
	writeJSON(w, http.StatusOK, newGrantView(grant))
}

func (s *Server) handleOwnerGrants(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	grants, err := s.engine.GrantsOf(owner)
	if err != nil {
		s.writeLedgerError(w, "grants_of", err)
		return
	}
	views := make([]grantView, 0, len(grants))
	for _, g := range grants {
		views = append(views, newGrantView(g))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"grants": views})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	acc, err := s.engine.Account(addr)
	if err != nil {
		s.writeLedgerError(w, "account", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := s.engine.Deposit(token, caller(r), amount); err != nil {
		s.writeLedgerError(w, "deposit", err)
		return
	}
	s.refreshSupply()
	s.handleSale(w, r)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	tier, err := presale.ParseTier(req.Tier)
	if err != nil {
		s.writeLedgerError(w, "purchase", err)
		return
	}
	grant, err := s.engine.Purchase(r.Context(), caller(r), tier, value)
	if err != nil {
		s.writeLedgerError(w, "purchase", err)
		return
	}
	s.refreshSupply()
	writeJSON(w, http.StatusCreated, newGrantView(grant))
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	var req contributionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	acc, err := s.engine.Buy(r.Context(), caller(r), value)
	if err != nil {
		s.writeLedgerError(w, "buy", err)
		return
	}
	s.refreshSupply()
	writeJSON(w, http.StatusCreated, newAccountView(acc))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := parseGrantID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	grant, err := s.engine.TransferGrant(id, caller(r), recipient)
	if err != nil {
		s.writeLedgerError(w, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, newGrantView(grant))
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id, err := parseGrantID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	grant, err := s.engine.Redeem(r.Context(), id, caller(r))
	if err != nil {
		s.writeLedgerError(w, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, newGrantView(grant))
}

func (s *Server) handleAccountRedeem(w http.ResponseWriter, r *http.Request) {
	sender := caller(r)
	amount, err := s.engine.RedeemAccount(r.Context(), sender)
	if err != nil {
		s.writeLedgerError(w, "redeem_account", err)
		return
	}
	acc, err := s.engine.Account(sender)
	if err != nil {
		s.writeLedgerError(w, "account", err)
		return
	}
	writeJSON(w, http.StatusOK, accountRedeemResponse{Amount: amountString(amount), Account: newAccountView(acc)})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EndPresale(caller(r)); err != nil {
		s.writeLedgerError(w, "end", err)
		return
	}
	s.refreshSupply()
	s.handleSale(w, r)
}
