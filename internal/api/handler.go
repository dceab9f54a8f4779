package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/reversegremlin/harvest-market/internal/currency"
	"github.com/reversegremlin/harvest-market/internal/export"
	"github.com/reversegremlin/harvest-market/internal/ledger"
)

// Handler provides HTTP endpoints for the denomination ledger.
type Handler struct {
	ledger  *ledger.Service
	exports *export.Service
}

// NewHandler creates a new API handler.
func NewHandler(ledgerSvc *ledger.Service, exports *export.Service) *Handler {
	return &Handler{ledger: ledgerSvc, exports: exports}
}

type convertRequest struct {
	Amount int64                  `json:"amount"`
	From   *currency.Denomination `json:"from_currency"`
	To     *currency.Denomination `json:"to_currency"`
}

// conversion is a decoded convert request with both denominations present.
type conversion struct {
	Amount   int64
	From, To currency.Denomination
}

type balanceResponse struct {
	Balance        *currency.Balance `json:"balance"`
	ValueInDabbers int64             `json:"valueInDabbers"`
}

type convertResponse struct {
	Message string `json:"message"`
	ledger.Result
}

type rateResponse struct {
	Pairs   []currency.Pair            `json:"pairs"`
	Factors map[string]decimal.Decimal `json:"factors"`
}

// GetRates handles GET /api/v1/rates.
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	rates := h.ledger.Rates()
	resp := rateResponse{Pairs: rates.Table(), Factors: make(map[string]decimal.Decimal)}
	for _, p := range resp.Pairs {
		up, _ := rates.Rate(p.Lower, p.Higher)
		down, _ := rates.Rate(p.Higher, p.Lower)
		resp.Factors[p.Lower.String()+"_to_"+p.Higher.String()] = up
		resp.Factors[p.Higher.String()+"_to_"+p.Lower.String()] = down
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBalance handles GET /api/v1/accounts/{id}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	b, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		writeLedgerError(w, err, accountID, 0)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: b, ValueInDabbers: b.Value(h.ledger.Rates())})
}

// Convert handles POST /api/v1/accounts/{id}/convert.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeConvert(w, r)
	if !ok {
		return
	}

	res, err := h.ledger.Convert(r.Context(), accountID, req.From, req.To, req.Amount)
	if err != nil {
		writeLedgerError(w, err, accountID, req.From)
		return
	}
	writeJSON(w, http.StatusOK, convertResponse{
		Message: fmt.Sprintf("Successfully converted %d %s to %d %s",
			req.Amount, req.From.Plural(), res.Converted, req.To.Plural()),
		Result: res,
	})
}

// ValidateConversion handles POST /api/v1/accounts/{id}/convert/validate.
func (h *Handler) ValidateConversion(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeConvert(w, r)
	if !ok {
		return
	}

	if err := h.ledger.Validate(r.Context(), accountID, req.From, req.To, req.Amount); err != nil {
		writeLedgerError(w, err, accountID, req.From)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "message": "Conversion possible"})
}

// Normalize handles POST /api/v1/accounts/{id}/normalize.
func (h *Handler) Normalize(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	records, err := h.ledger.Normalize(r.Context(), accountID)
	if err != nil {
		writeLedgerError(w, err, accountID, 0)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// ListTransactions handles GET /api/v1/accounts/{id}/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var limit int
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	records, err := h.ledger.History(r.Context(), accountID, limit)
	if err != nil {
		writeLedgerError(w, err, accountID, 0)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// OpenAccount handles POST /api/v1/accounts/{id}.
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	b, err := h.ledger.Open(r.Context(), accountID)
	if err != nil {
		writeLedgerError(w, err, accountID, 0)
		return
	}
	writeJSON(w, http.StatusCreated, balanceResponse{Balance: b, ValueInDabbers: b.Value(h.ledger.Rates())})
}

// GetSummary handles GET /api/v1/admin/summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.ledger.Summary(r.Context())
	if err != nil {
		slog.Error("failed to summarize ledger", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// DownloadStatement handles GET /api/v1/accounts/{id}/statement.xlsx.
func (h *Handler) DownloadStatement(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	st, err := h.exports.Statement(r.Context(), accountID)
	if err != nil {
		writeLedgerError(w, err, accountID, 0)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteStatementXLSX(&buf, st); err != nil {
		slog.Error("failed to render statement", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render statement")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="statement-%d.xlsx"`, accountID))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to write statement body", "account", accountID, "error", err)
	}
}

func accountParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}

func decodeConvert(w http.ResponseWriter, r *http.Request) (conversion, bool) {
	var req convertRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		if errors.Is(err, currency.ErrUnknownDenomination) {
			writeError(w, http.StatusBadRequest, "unknown currency")
			return conversion{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return conversion{}, false
	}
	// Dabber is the zero Denomination, so an absent field must not default to it.
	if req.From == nil || req.To == nil {
		writeError(w, http.StatusBadRequest, "unknown currency")
		return conversion{}, false
	}
	if *req.From == *req.To {
		writeError(w, http.StatusBadRequest, "please select different currencies")
		return conversion{}, false
	}
	return conversion{Amount: req.Amount, From: *req.From, To: *req.To}, true
}

// writeLedgerError maps a ledger failure to its status code and user-facing message.
func writeLedgerError(w http.ResponseWriter, err error, accountID int64, from currency.Denomination) {
	switch currency.KindOf(err) {
	case currency.KindInvalidAmount:
		writeError(w, http.StatusBadRequest, "Amount must be a positive number that can be converted")
	case currency.KindInsufficientFunds:
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Insufficient %s balance", from))
	case currency.KindNoBalanceRecord:
		writeError(w, http.StatusNotFound, "User has no balance record")
	case currency.KindNoConversionPath:
		writeError(w, http.StatusBadRequest, "Invalid conversion path")
	case currency.KindUnknownDenomination:
		writeError(w, http.StatusBadRequest, "unknown currency")
	case currency.KindBalanceExists:
		writeError(w, http.StatusConflict, "balance already exists")
	default:
		slog.Error("ledger operation failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
