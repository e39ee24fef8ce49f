package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/streamtip/backend/internal/models"
)

// AccountService exposes the read-only account surface and the admin
// balance-adjustment entry point. Writes still go through the ledger.
type AccountService struct {
	db        *sql.DB
	ledger    *TokenLedgerService
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB, ledger *TokenLedgerService) *AccountService {
	return &AccountService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// BalanceEnquiry retrieves the token balance for an account
// @Summary Get account balance
// @Description Current token balance and lifetime tips for an account
// @Tags accounts
// @Produce json
// @Param accountId query string true "Account ID"
// @Success 200 {object} object{accountId=string,balance=int64,lifetimeTips=int64,role=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/balance-enquiry [get]
func (s *AccountService) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID == "" {
		SendErrorResponse(w, "accountId is required", http.StatusBadRequest, nil)
		return
	}

	var balance, lifetimeTips int64
	var role, status string
	err := s.db.QueryRow(`
		SELECT balance, lifetime_tips, role, status
		FROM accounts
		WHERE id = $1`, accountID).Scan(&balance, &lifetimeTips, &role, &status)

	if err == sql.ErrNoRows {
		SendServiceError(w, ErrAccountNotFound)
		return
	}
	if err != nil {
		log.Printf("[ACCOUNT] Balance enquiry failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}
	if status != models.AccountActive {
		SendServiceError(w, ErrAccountDisabled)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accountId":    accountID,
		"balance":      balance,
		"lifetimeTips": lifetimeTips,
		"role":         role,
	})
}

// AdjustBalance applies an admin balance correction
// @Summary Adjust an account balance
// @Description Admin correction; downward adjustments clamp at zero
// @Tags accounts
// @Accept json
// @Produce json
// @Param adjustment body object{accountId=string,delta=int64} true "Adjustment"
// @Success 200 {object} object{accountId=string,balance=int64}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/adjust [post]
func (s *AccountService) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId" validate:"required"`
		Delta     int64  `json:"delta" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	balance, err := s.ledger.Adjust(req.AccountID, uuid.NewString(), req.Delta)
	if err != nil {
		log.Printf("[ACCOUNT] Adjustment failed for %s: %v", req.AccountID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accountId": req.AccountID,
		"balance":   balance,
	})
}
