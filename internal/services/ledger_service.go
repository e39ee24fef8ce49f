package services

import (
	"database/sql"
	"errors"
	"log"
	"math"
	"os"
	"time"

	"github.com/lib/pq"
	"github.com/streamtip/backend/internal/models"
)

// maxTxAttempts bounds retries of a whole ledger transaction after a
// serialization or deadlock failure. Partial application is never observable,
// so replaying the full operation is safe.
const maxTxAttempts = 3

// TokenLedgerService is the exclusive owner of account balances. Every
// balance mutation in the system goes through one of its transactional
// primitives; no other component reads, computes and writes a balance.
type TokenLedgerService struct {
	db             *sql.DB
	revenueAccount string
}

func NewTokenLedgerService(db *sql.DB) *TokenLedgerService {
	revenueAccount := "platform"
	if envAccount := os.Getenv("PLATFORM_REVENUE_ACCOUNT"); envAccount != "" {
		revenueAccount = envAccount
	}
	return &TokenLedgerService{
		db:             db,
		revenueAccount: revenueAccount,
	}
}

// Credit adds tokens to an account and returns the new balance.
func (s *TokenLedgerService) Credit(accountID, txID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		b, err := s.CreditTx(tx, accountID, txID, amount)
		if err != nil {
			return err
		}
		balance = b
		return tx.Commit()
	})
	return balance, err
}

// Debit removes tokens from an account. It fails with ErrInsufficientFunds
// and performs no mutation when the balance cannot cover the amount.
func (s *TokenLedgerService) Debit(accountID, txID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		b, err := s.DebitTx(tx, accountID, txID, amount)
		if err != nil {
			return err
		}
		balance = b
		return tx.Commit()
	})
	return balance, err
}

// Transfer moves tokens from one account to another as a single indivisible
// operation and returns the sender's new balance.
func (s *TokenLedgerService) Transfer(fromID, toID, txID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		b, err := s.TransferTx(tx, fromID, toID, txID, amount)
		if err != nil {
			return err
		}
		balance = b
		return tx.Commit()
	})
	return balance, err
}

// TransferTx runs the transfer inside a caller-owned database transaction so
// it can be composed with other writes (gift records, tips counters). The
// sufficiency check happens here, after the sender row is locked, never as a
// separate prior read.
func (s *TokenLedgerService) TransferTx(tx *sql.Tx, fromID, toID, txID string, amount int64) (int64, error) {
	from, to, err := s.lockPair(tx, fromID, toID)
	if err != nil {
		return 0, err
	}

	if from.Status != models.AccountActive {
		return 0, ErrAccountDisabled
	}
	if from.Balance < amount {
		return 0, ErrInsufficientFunds
	}

	if err := s.appendEntry(tx, txID, from.ID, -amount, models.EntryDebit, from.Balance-amount); err != nil {
		return 0, err
	}
	if err := s.appendEntry(tx, txID, to.ID, amount, models.EntryCredit, to.Balance+amount); err != nil {
		return 0, err
	}

	if err := s.updateBalance(tx, from.ID, from.Balance-amount, from.Version); err != nil {
		return 0, err
	}
	if err := s.updateBalance(tx, to.ID, to.Balance+amount, to.Version); err != nil {
		return 0, err
	}

	return from.Balance - amount, nil
}

// SplitTransfer is the compound billing charge: the payer is debited the full
// amount, the broadcaster is credited floor(amount*share), and the remainder
// is recorded as platform revenue without crediting any account. Returns the
// payer's new balance.
func (s *TokenLedgerService) SplitTransfer(payerID, broadcasterID, txID string, amount int64, share float64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		b, err := s.SplitTransferTx(tx, payerID, broadcasterID, txID, amount, share)
		if err != nil {
			return err
		}
		balance = b
		return tx.Commit()
	})
	return balance, err
}

func (s *TokenLedgerService) SplitTransferTx(tx *sql.Tx, payerID, broadcasterID, txID string, amount int64, share float64) (int64, error) {
	payer, broadcaster, err := s.lockPair(tx, payerID, broadcasterID)
	if err != nil {
		return 0, err
	}

	if payer.Status != models.AccountActive {
		return 0, ErrAccountDisabled
	}
	if payer.Balance < amount {
		return 0, ErrInsufficientFunds
	}

	// The share carries at most basis-point precision. Going through integer
	// arithmetic keeps floor(amount*share) exact for large amounts, where a
	// float64 product can land one token below the true value.
	shareBps := int64(math.Round(share * 10000))
	cut := amount * shareBps / 10000
	remainder := amount - cut

	if err := s.appendEntry(tx, txID, payer.ID, -amount, models.EntryDebit, payer.Balance-amount); err != nil {
		return 0, err
	}
	if err := s.appendEntry(tx, txID, broadcaster.ID, cut, models.EntryCredit, broadcaster.Balance+cut); err != nil {
		return 0, err
	}
	if remainder > 0 {
		if err := s.appendEntry(tx, txID, s.revenueAccount, remainder, models.EntryRevenue, 0); err != nil {
			return 0, err
		}
	}

	if err := s.updateBalance(tx, payer.ID, payer.Balance-amount, payer.Version); err != nil {
		return 0, err
	}
	if err := s.updateBalance(tx, broadcaster.ID, broadcaster.Balance+cut, broadcaster.Version); err != nil {
		return 0, err
	}

	return payer.Balance - amount, nil
}

// Adjust applies an admin correction. Negative deltas clamp the resulting
// balance at zero; only adjustments clamp, debits always fail outright.
func (s *TokenLedgerService) Adjust(accountID, txID string, delta int64) (int64, error) {
	var balance int64
	err := s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		account, err := s.lockAccount(tx, accountID)
		if err != nil {
			return err
		}

		newBalance := account.Balance + delta
		if newBalance < 0 {
			newBalance = 0
		}
		applied := newBalance - account.Balance

		entryType := models.EntryCredit
		if applied < 0 {
			entryType = models.EntryDebit
		}
		if err := s.appendEntry(tx, txID, account.ID, applied, entryType, newBalance); err != nil {
			return err
		}
		if err := s.updateBalance(tx, account.ID, newBalance, account.Version); err != nil {
			return err
		}

		balance = newBalance
		return tx.Commit()
	})
	return balance, err
}

func (s *TokenLedgerService) CreditTx(tx *sql.Tx, accountID, txID string, amount int64) (int64, error) {
	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return 0, err
	}

	if err := s.appendEntry(tx, txID, account.ID, amount, models.EntryCredit, account.Balance+amount); err != nil {
		return 0, err
	}
	if err := s.updateBalance(tx, account.ID, account.Balance+amount, account.Version); err != nil {
		return 0, err
	}

	return account.Balance + amount, nil
}

func (s *TokenLedgerService) DebitTx(tx *sql.Tx, accountID, txID string, amount int64) (int64, error) {
	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return 0, err
	}

	if account.Status != models.AccountActive {
		return 0, ErrAccountDisabled
	}
	if account.Balance < amount {
		return 0, ErrInsufficientFunds
	}

	if err := s.appendEntry(tx, txID, account.ID, -amount, models.EntryDebit, account.Balance-amount); err != nil {
		return 0, err
	}
	if err := s.updateBalance(tx, account.ID, account.Balance-amount, account.Version); err != nil {
		return 0, err
	}

	return account.Balance - amount, nil
}

// lockPair locks two accounts in ascending id order to prevent deadlocks when
// concurrent operations touch the same pair in opposite directions.
func (s *TokenLedgerService) lockPair(tx *sql.Tx, firstID, secondID string) (*models.Account, *models.Account, error) {
	firstLock, secondLock := firstID, secondID
	if firstID > secondID {
		firstLock, secondLock = secondID, firstID
	}

	first, err := s.lockAccount(tx, firstLock)
	if err != nil {
		return nil, nil, err
	}
	second, err := s.lockAccount(tx, secondLock)
	if err != nil {
		return nil, nil, err
	}

	if firstLock != firstID {
		first, second = second, first
	}
	return first, second, nil
}

func (s *TokenLedgerService) lockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, balance, status, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.Status, &account.Version, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *TokenLedgerService) appendEntry(tx *sql.Tx, txID, accountID string, amount int64, entryType string, balance int64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transaction_id, account_id, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		txID, accountID, amount, entryType, balance, time.Now())
	return err
}

func (s *TokenLedgerService) updateBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)

	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	// A lost version check means another writer slipped between our row lock
	// acquisitions; surface it as a serialization failure so withRetry replays.
	if rowsAffected == 0 {
		return &pq.Error{Code: "40001", Message: "optimistic lock failed for account " + accountID}
	}

	return nil
}

// withRetry replays the whole transaction a bounded number of times on
// serialization and deadlock failures, then surfaces the last error.
func (s *TokenLedgerService) withRetry(op func() error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = op()
		if err == nil || !isRetryable(err) {
			return err
		}
		log.Printf("[LEDGER] Retryable store failure (attempt %d/%d): %v", attempt, maxTxAttempts, err)
	}
	return err
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
