package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/p2psettle/backend/internal/models"
	"github.com/p2psettle/backend/internal/services"
)

// AdminHandler exposes the operator surface: quarantine and ambiguity
// listings, the repair primitives, the ingestion endpoint and the
// payout-sync feed.
type AdminHandler struct {
	store     services.ReconStore
	ingest    *services.IngestService
	sweeper   *services.Sweeper
	engine    *services.MatchingEngine
	validator *services.ValidationHelper
}

func NewAdminHandler(store services.ReconStore, ingest *services.IngestService, sweeper *services.Sweeper, engine *services.MatchingEngine) *AdminHandler {
	return &AdminHandler{
		store:     store,
		ingest:    ingest,
		sweeper:   sweeper,
		engine:    engine,
		validator: services.NewValidationHelper(),
	}
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10_485_760) // PDFs arrive base64-encoded
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// quarantineEntry is the operator view of a failed receipt.
type quarantineEntry struct {
	ReceiptID  string `json:"receipt_id"`
	FileName   string `json:"file_name"`
	RawText    string `json:"raw_text"`
	FailReason string `json:"fail_reason"`
	FailLine   int    `json:"fail_line"`
}

// ListQuarantine returns failed receipts with their raw text for layout
// diagnosis.
func (h *AdminHandler) ListQuarantine(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.store.Quarantined(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Failed to list quarantine", http.StatusInternalServerError, nil)
		return
	}
	entries := make([]quarantineEntry, 0, len(receipts))
	for _, rec := range receipts {
		entries = append(entries, quarantineEntry{
			ReceiptID:  rec.ID,
			FileName:   rec.FileName,
			RawText:    rec.RawText,
			FailReason: rec.FailReason,
			FailLine:   rec.FailLine,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"quarantine": entries})
}

// ListAmbiguities returns unresolved ambiguous matches.
func (h *AdminHandler) ListAmbiguities(w http.ResponseWriter, r *http.Request) {
	ambiguities, err := h.store.OpenAmbiguities(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Failed to list ambiguities", http.StatusInternalServerError, nil)
		return
	}
	if ambiguities == nil {
		ambiguities = []models.Ambiguity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ambiguities": ambiguities})
}

// RunSweep triggers one sweeper pass and returns its report.
func (h *AdminHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Sweep failed", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// IngestReceipt accepts one raw document from the ingestion feed.
func (h *AdminHandler) IngestReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Document []byte `json:"document" validate:"required"`
		FileName string `json:"file_name" validate:"required"`
		Source   string `json:"source"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	receipt, err := h.ingest.Ingest(r.Context(), req.Document, services.SourceMetadata{
		FileName: req.FileName,
		Source:   req.Source,
	})
	switch {
	case errors.Is(err, models.ErrDuplicateReceipt):
		writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt, "duplicate": true})
	case err != nil:
		services.SendErrorResponse(w, "Ingestion failed, document left pending", http.StatusBadGateway, nil)
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"receipt": receipt})
	}
}

// SyncPayout applies one record from the upstream payment gateway.
func (h *AdminHandler) SyncPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GatewayID string            `json:"gateway_id" validate:"required"`
		Status    int               `json:"status"`
		Amounts   map[string]string `json:"amounts" validate:"required"`
		Wallet    string            `json:"wallet"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	payout := &models.Payout{
		GatewayID: req.GatewayID,
		Status:    req.Status,
		Wallet:    req.Wallet,
	}
	var err error
	if payout.Amounts, err = parseAmounts(req.Amounts); err != nil {
		services.SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}
	if err := h.store.UpsertPayout(r.Context(), payout); err != nil {
		services.SendErrorResponse(w, "Failed to sync payout", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payout": payout})
}

func parseAmounts(raw map[string]string) (map[string]decimal.Decimal, error) {
	amounts := make(map[string]decimal.Decimal, len(raw))
	for currency, value := range raw {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return nil, err
		}
		amounts[currency] = amount
	}
	return amounts, nil
}

// RepairLink links a receipt to a payout after operator review.
func (h *AdminHandler) RepairLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptID string `json:"receipt_id" validate:"required"`
		PayoutID  int64  `json:"payout_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.repair(w, h.sweeper.RepairLink(r.Context(), req.ReceiptID, req.PayoutID))
}

// RepairUnlink clears a payout's receipt link.
func (h *AdminHandler) RepairUnlink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayoutID int64 `json:"payout_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.repair(w, h.sweeper.RepairUnlink(r.Context(), req.PayoutID))
}

// RepairSwap exchanges the payouts of two transactions.
func (h *AdminHandler) RepairSwap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionA int64 `json:"transaction_a" validate:"required"`
		TransactionB int64 `json:"transaction_b" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.repair(w, h.sweeper.RepairSwap(r.Context(), req.TransactionA, req.TransactionB))
}

// ForceStatus overrides a transaction's settlement state. Bypasses the
// transition table; audit-logged.
func (h *AdminHandler) ForceStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID int64  `json:"transaction_id" validate:"required"`
		Status        string `json:"status" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if !models.KnownStatus(models.TransactionStatus(req.Status)) {
		services.SendErrorResponse(w, "Unknown transaction status", http.StatusBadRequest, nil)
		return
	}
	h.repair(w, h.sweeper.RepairForceStatus(r.Context(), req.TransactionID, models.TransactionStatus(req.Status)))
}

// RepairMerge folds a placeholder advertisement into the confirmed one.
func (h *AdminHandler) RepairMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlaceholderID int64 `json:"placeholder_id" validate:"required"`
		RealID        int64 `json:"real_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.repair(w, h.sweeper.RepairMerge(r.Context(), req.PlaceholderID, req.RealID))
}

func (h *AdminHandler) repair(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, models.ErrAlreadyLinked):
		services.SendErrorResponse(w, "Payout already linked elsewhere", http.StatusConflict, nil)
	case errors.Is(err, models.ErrNotLinkable):
		services.SendErrorResponse(w, "Receipt failed parsing and cannot be linked", http.StatusConflict, nil)
	case errors.Is(err, models.ErrHasDependents):
		services.SendErrorResponse(w, "Placeholder still has dependents", http.StatusConflict, nil)
	case errors.Is(err, models.ErrPayoutNotFound),
		errors.Is(err, models.ErrReceiptNotFound),
		errors.Is(err, models.ErrTransactionNotFound),
		errors.Is(err, models.ErrAdNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	default:
		services.SendErrorResponse(w, "Repair failed", http.StatusInternalServerError, nil)
	}
}
