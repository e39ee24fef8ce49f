package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/streamtip/backend/internal/models"
)

// errCaptureRaced marks a capture whose insert lost to a concurrent capture
// with the same idempotency key; the operation is re-run to read the winner.
var errCaptureRaced = errors.New("payment capture raced a concurrent duplicate")

// RedemptionService is the external credit entry point: voucher codes and
// payment-gateway captures. Both funnel into the ledger's credit primitive
// inside the same database transaction as their own bookkeeping, so a
// single-use code or a retried webhook can never credit twice.
type RedemptionService struct {
	db        *sql.DB
	ledger    *TokenLedgerService
	validator *ValidationHelper
}

func NewRedemptionService(db *sql.DB, ledger *TokenLedgerService) *RedemptionService {
	return &RedemptionService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// RedeemVoucher marks the code used and credits the account atomically. The
// voucher row is locked first, so two concurrent redemptions serialize and
// the loser sees the used flag.
func (s *RedemptionService) RedeemVoucher(code, accountID string) (int64, error) {
	txID := uuid.NewString()
	var balance int64

	err := s.ledger.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var tokenValue int64
		var used bool
		var expiresAt sql.NullTime
		err = tx.QueryRow(`
			SELECT token_value, used, expires_at
			FROM vouchers
			WHERE code = $1
			FOR UPDATE`, code).Scan(&tokenValue, &used, &expiresAt)
		if err == sql.ErrNoRows {
			return ErrVoucherInvalid
		}
		if err != nil {
			return err
		}
		if used {
			return ErrVoucherUsed
		}
		if expiresAt.Valid && time.Now().After(expiresAt.Time) {
			return ErrVoucherExpired
		}

		if _, err := tx.Exec(`
			UPDATE vouchers
			SET used = TRUE, redeemed_by = $1, redeemed_at = $2
			WHERE code = $3`, accountID, time.Now(), code); err != nil {
			return err
		}

		balance, err = s.ledger.CreditTx(tx, accountID, txID, tokenValue)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO transactions
			(transaction_id, from_account_id, to_account_id, amount, type, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			txID, code, accountID, tokenValue, models.TxVoucher, "COMPLETED", time.Now()); err != nil {
			return err
		}

		return tx.Commit()
	})
	return balance, err
}

// CreditFromPayment credits a confirmed payment capture. The idempotency key
// is the transaction id; a retried webhook finds the existing record and gets
// the current balance back without a second credit.
func (s *RedemptionService) CreditFromPayment(accountID string, amount int64, idempotencyKey string) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, ErrInvalidAmount
	}

	var balance int64
	var duplicate bool

	op := func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var existingStatus string
		err = tx.QueryRow(`SELECT status FROM transactions WHERE transaction_id = $1`, idempotencyKey).Scan(&existingStatus)
		if err == nil {
			log.Printf("[TOPUP] Duplicate payment capture %s for account %s, status %s", idempotencyKey, accountID, existingStatus)
			duplicate = true
			err = tx.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
			if err == sql.ErrNoRows {
				return ErrAccountNotFound
			}
			if err != nil {
				return err
			}
			return tx.Commit()
		}
		if err != sql.ErrNoRows {
			return err
		}

		balance, err = s.ledger.CreditTx(tx, accountID, idempotencyKey, amount)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO transactions
			(transaction_id, from_account_id, to_account_id, amount, type, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			idempotencyKey, "gateway", accountID, amount, models.TxPayment, "COMPLETED", time.Now()); err != nil {
			// A concurrent capture with this key committed between the
			// existence check and our insert.
			if isUniqueViolation(err) {
				return errCaptureRaced
			}
			return err
		}

		return tx.Commit()
	}

	err := s.ledger.withRetry(op)
	if errors.Is(err, errCaptureRaced) {
		// The winner's row is committed now, so the re-run takes the
		// duplicate path.
		err = s.ledger.withRetry(op)
	}
	return balance, duplicate, err
}

// RedeemVoucherHandler handles voucher redemption requests
// @Summary Redeem a voucher
// @Description Credit a single-use voucher's token value to an account
// @Tags top-ups
// @Accept json
// @Produce json
// @Param voucher body object{code=string,accountId=string} true "Redemption request"
// @Success 200 {object} object{success=bool,balance=int64}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /vouchers/redeem [post]
func (s *RedemptionService) RedeemVoucherHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string `json:"code" validate:"required"`
		AccountID string `json:"accountId" validate:"required"`
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

	balance, err := s.RedeemVoucher(req.Code, req.AccountID)
	if err != nil {
		log.Printf("[TOPUP] Redemption failed for account %s: %v", req.AccountID, err)
		SendServiceError(w, err)
		return
	}

	log.Printf("[TOPUP] Voucher redeemed by account %s, new balance %d", req.AccountID, balance)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"balance": balance,
	})
}

// CreditPayment handles payment capture confirmations
// @Summary Credit a payment capture
// @Description Idempotent top-up from a confirmed external payment
// @Tags top-ups
// @Accept json
// @Produce json
// @Param payment body object{accountId=string,amount=int64,idempotencyKey=string} true "Capture confirmation"
// @Success 200 {object} object{success=bool,balance=int64,duplicate=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /payments/credit [post]
func (s *RedemptionService) CreditPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID      string `json:"accountId" validate:"required"`
		Amount         int64  `json:"amount" validate:"required,gt=0"`
		IdempotencyKey string `json:"idempotencyKey" validate:"required"`
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

	balance, duplicate, err := s.CreditFromPayment(req.AccountID, req.Amount, req.IdempotencyKey)
	if err != nil {
		log.Printf("[TOPUP] Payment credit failed for account %s (key %s): %v", req.AccountID, req.IdempotencyKey, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"balance":   balance,
		"duplicate": duplicate,
	})
}
