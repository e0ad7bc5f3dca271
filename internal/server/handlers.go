package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"fundme/internal/escrow"
	"fundme/internal/fundme"
	"fundme/internal/journal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

type fundRequest struct {
	Amount string `json:"amount"`
	Ether  string `json:"ether"`
}

type fundResponse struct {
	TxHash string         `json:"txHash"`
	Funder common.Address `json:"funder"`
	Amount fundme.Wei     `json:"amount"`
}

type transferOwnerRequest struct {
	NewOwner string `json:"newOwner"`
}

type integrationRequest struct {
	Address string `json:"address"`
}

type funderAmountRequest struct {
	Funder string `json:"funder"`
	Amount string `json:"amount"`
}

func (s *Server) fund(ctx context.Context, caller common.Address, body []byte) (interface{}, journal.Entry, error) {
	var req fundRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, journal.Entry{}, err
	}
	amount, err := parseAmount(req.Amount, req.Ether)
	if err != nil {
		return nil, journal.Entry{}, err
	}
	res, err := s.escrow.Fund(ctx, escrow.FundRequest{Caller: caller, Amount: amount})
	if err != nil {
		return nil, journal.Entry{}, err
	}
	return fundResponse{TxHash: res.TxHash, Funder: caller, Amount: amount},
		journal.Entry{Amount: amount, TxHash: res.TxHash}, nil
}

func (s *Server) getFund(ctx context.Context, caller common.Address, _ []byte) (interface{}, journal.Entry, error) {
	var res escrow.WithdrawResult
	err := s.withRetry(ctx, string(journal.KindGetFund), caller, func(ctx context.Context) error {
		var err error
		res, err = s.escrow.GetFund(ctx, caller)
		return err
	})
	if err != nil {
		return nil, journal.Entry{}, err
	}
	return res,
		journal.Entry{Subject: res.Owner, Amount: res.Amount, TxHash: res.TxHash}, nil
}

func (s *Server) refund(ctx context.Context, caller common.Address, _ []byte) (interface{}, journal.Entry, error) {
	var res escrow.RefundResult
	err := s.withRetry(ctx, string(journal.KindRefund), caller, func(ctx context.Context) error {
		var err error
		res, err = s.escrow.Refund(ctx, caller)
		return err
	})
	if err != nil {
		return nil, journal.Entry{}, err
	}
	return res,
		journal.Entry{Subject: res.Funder, Amount: res.Amount, TxHash: res.TxHash}, nil
}

func (s *Server) transferOwner(ctx context.Context, caller common.Address, body []byte) (interface{}, journal.Entry, error) {
	var req transferOwnerRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, journal.Entry{}, err
	}
	newOwner, err := parseAddress("newOwner", req.NewOwner)
	if err != nil {
		return nil, journal.Entry{}, err
	}
	res, err := s.escrow.TransferOwner(ctx, caller, newOwner)
	if err != nil {
		return nil, journal.Entry{}, err
	}
	return res, journal.Entry{Subject: newOwner, TxHash: res.TxHash}, nil
}

func (s *Server) setIntegrationAddress(ctx context.Context, caller common.Address, body []byte) (interface{}, journal.Entry, error) {
	var req integrationRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, journal.Entry{}, err
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		return nil, journal.Entry{}, err
	}
	res, err := s.escrow.SetIntegrationAddress(ctx, caller, addr)
	if err != nil {
		return nil, journal.Entry{}, err
	}
	return res, journal.Entry{Subject: addr, TxHash: res.TxHash}, nil
}

func (s *Server) setFunderAmount(ctx context.Context, caller common.Address, body []byte) (interface{}, journal.Entry, error) {
	var req funderAmountRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, journal.Entry{}, err
	}
	funder, err := parseAddress("funder", req.Funder)
	if err != nil {
		return nil, journal.Entry{}, err
	}
	amount, err := fundme.ParseWei(req.Amount)
	if err != nil {
		return nil, journal.Entry{}, badRequestf("invalid amount: %v", err)
	}
	res, err := s.escrow.SetFunderAmount(ctx, escrow.SetFunderAmountRequest{Caller: caller, Funder: funder, Amount: amount})
	if err != nil {
		return nil, journal.Entry{}, err
	}
	return res, journal.Entry{Subject: funder, Amount: amount, TxHash: res.TxHash}, nil
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	status, err := s.escrow.Campaign(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	s.metrics.setOraclePrice(status.Price.Float())
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	funder, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeErr(w, err)
		return
	}
	amount, err := s.escrow.ContributionOf(r.Context(), funder)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Funder common.Address `json:"funder"`
		Amount fundme.Wei     `json:"amount"`
	}{funder, amount})
}

func (s *Server) handleUSDValue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := parseAmount(q.Get("amount"), q.Get("ether"))
	if err != nil {
		writeErr(w, err)
		return
	}
	usd, err := s.escrow.USDValue(r.Context(), amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Amount  fundme.Wei `json:"amount"`
		USD     fundme.USD `json:"usd"`
		Dollars string     `json:"dollars"`
	}{amount, usd, usd.Dollars()})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal_disabled", "journal is not configured")
		return
	}
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, badRequestf("limit must be a positive integer"))
			return
		}
		limit = min(n, maxJournalLimit)
	}
	entries, err := s.journal.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Entries []journal.Entry `json:"entries"`
	}{entries})
}

func decodeBody(body []byte, v interface{}) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return badRequestf("request body is required")
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequestf("invalid json payload: %v", err)
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, badRequestf("%s must be a hex address", field)
	}
	return common.HexToAddress(value), nil
}

// parseAmount accepts either a wei integer or a decimal ether figure.
func parseAmount(wei, ether string) (fundme.Wei, error) {
	switch {
	case wei != "" && ether != "":
		return fundme.Wei{}, badRequestf("set either amount or ether, not both")
	case wei != "":
		amount, err := fundme.ParseWei(wei)
		if err != nil {
			return fundme.Wei{}, badRequestf("invalid amount: %v", err)
		}
		return amount, nil
	case ether != "":
		amount, err := fundme.ParseEther(ether)
		if err != nil {
			return fundme.Wei{}, badRequestf("invalid ether: %v", err)
		}
		return amount, nil
	}
	return fundme.Wei{}, badRequestf("amount is required")
}
