package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

const voucherLockQuery = "SELECT token_value, used, expires_at FROM vouchers WHERE code = \\$1 FOR UPDATE"

func newRedemptionService(t *testing.T) (*RedemptionService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewTokenLedgerService(db)
	service := NewRedemptionService(db, ledger)
	return service, mock, func() { db.Close() }
}

func TestRedemptionService_RedeemVoucher(t *testing.T) {
	t.Run("successful redemption", func(t *testing.T) {
		service, mock, cleanup := newRedemptionService(t)
		defer cleanup()

		code := "GIFT-1000-XYZ"
		accountID := "alice"

		mock.ExpectBegin()

		mock.ExpectQuery(voucherLockQuery).
			WithArgs(code).
			WillReturnRows(sqlmock.NewRows([]string{"token_value", "used", "expires_at"}).
				AddRow(1000, false, nil))

		mock.ExpectExec("UPDATE vouchers SET used = TRUE, redeemed_by = \\$1, redeemed_at = \\$2 WHERE code = \\$3").
			WithArgs(accountID, sqlmock.AnyArg(), code).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT id, balance, status, version, updated_at FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(accountID).
			WillReturnRows(activeAccountRow(accountID, 0, 1))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), accountID, int64(1000), "CREDIT", int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(1000), sqlmock.AnyArg(), accountID, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), code, accountID, int64(1000), "VOUCHER", "COMPLETED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		balance, err := service.RedeemVoucher(code, accountID)
		assert.NoError(t, err)
		assert.Equal(t, int64(1000), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown code", func(t *testing.T) {
		service, mock, cleanup := newRedemptionService(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery(voucherLockQuery).
			WithArgs("NOPE").
			WillReturnRows(sqlmock.NewRows([]string{"token_value", "used", "expires_at"}))
		mock.ExpectRollback()

		_, err := service.RedeemVoucher("NOPE", "alice")
		assert.ErrorIs(t, err, ErrVoucherInvalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already used", func(t *testing.T) {
		service, mock, cleanup := newRedemptionService(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery(voucherLockQuery).
			WithArgs("GIFT-1000-XYZ").
			WillReturnRows(sqlmock.NewRows([]string{"token_value", "used", "expires_at"}).
				AddRow(1000, true, nil))
		mock.ExpectRollback()

		_, err := service.RedeemVoucher("GIFT-1000-XYZ", "alice")
		assert.ErrorIs(t, err, ErrVoucherUsed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired", func(t *testing.T) {
		service, mock, cleanup := newRedemptionService(t)
		defer cleanup()

		mock.ExpectBegin()
		mock.ExpectQuery(voucherLockQuery).
			WithArgs("GIFT-1000-OLD").
			WillReturnRows(sqlmock.NewRows([]string{"token_value", "used", "expires_at"}).
				AddRow(1000, false, time.Now().Add(-time.Hour)))
		mock.ExpectRollback()

		_, err := service.RedeemVoucher("GIFT-1000-OLD", "alice")
		assert.ErrorIs(t, err, ErrVoucherExpired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedemptionService_CreditFromPayment(t *testing.T) {
	t.Run("first capture credits the account", func(t *testing.T) {
		service, mock, cleanup := newRedemptionService(t)
		defer cleanup()

		accountID := "alice"
		key := "pay_abc123"

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT status FROM transactions WHERE transaction_id = \\$1").
			WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		mock.ExpectQuery("SELECT id, balance, status, version, updated_at FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(accountID).
			WillReturnRows(activeAccountRow(accountID, 50, 3))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(key, accountID, int64(200), "CREDIT", int64(250), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(250), sqlmock.AnyArg(), accountID, 3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(key, "gateway", accountID, int64(200), "PAYMENT", "COMPLETED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		balance, duplicate, err := service.CreditFromPayment(accountID, 200, key)
		assert.NoError(t, err)
		assert.False(t, duplicate)
		assert.Equal(t, int64(250), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed capture returns the balance without crediting", func(t *testing.T) {
		service, mock, cleanup := newRedemptionService(t)
		defer cleanup()

		accountID := "alice"
		key := "pay_abc123"

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT status FROM transactions WHERE transaction_id = \\$1").
			WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("COMPLETED"))

		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(250))

		mock.ExpectCommit()

		balance, duplicate, err := service.CreditFromPayment(accountID, 200, key)
		assert.NoError(t, err)
		assert.True(t, duplicate)
		assert.Equal(t, int64(250), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("capture losing a key race falls back to the duplicate path", func(t *testing.T) {
		service, mock, cleanup := newRedemptionService(t)
		defer cleanup()

		accountID := "alice"
		key := "pay_abc123"

		// A concurrent capture commits the same key after our existence
		// check, so the insert hits the unique constraint.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM transactions WHERE transaction_id = \\$1").
			WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))
		mock.ExpectQuery("SELECT id, balance, status, version, updated_at FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(accountID).
			WillReturnRows(activeAccountRow(accountID, 50, 3))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(key, accountID, int64(200), "CREDIT", int64(250), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(int64(250), sqlmock.AnyArg(), accountID, 3).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(key, "gateway", accountID, int64(200), "PAYMENT", "COMPLETED", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
		mock.ExpectRollback()

		// The re-run reads the winner's committed row.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM transactions WHERE transaction_id = \\$1").
			WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("COMPLETED"))
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(250))
		mock.ExpectCommit()

		balance, duplicate, err := service.CreditFromPayment(accountID, 200, key)
		assert.NoError(t, err)
		assert.True(t, duplicate)
		assert.Equal(t, int64(250), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		service, mock, cleanup := newRedemptionService(t)
		defer cleanup()

		_, _, err := service.CreditFromPayment("alice", 0, "pay_zero")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
