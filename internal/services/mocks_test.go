package services

import (
	"math"
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockSessionLedger struct {
	mock.Mock
}

func (m *MockSessionLedger) SplitTransfer(payerID, broadcasterID, txID string, amount int64, share float64) (int64, error) {
	args := m.Called(payerID, broadcasterID, txID, amount, share)
	return args.Get(0).(int64), args.Error(1)
}

// fakeLedger is a stateful in-memory SessionLedger for billing tests that
// charge repeatedly until the payer runs dry. onCharge, when set, runs at
// the top of every charge so tests can interleave registry calls with an
// in-flight charge.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	charges  int
	onCharge func(payerID string)
}

func newFakeLedger(balances map[string]int64) *fakeLedger {
	return &fakeLedger{balances: balances}
}

func (f *fakeLedger) SplitTransfer(payerID, broadcasterID, txID string, amount int64, share float64) (int64, error) {
	if f.onCharge != nil {
		f.onCharge(payerID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	balance, ok := f.balances[payerID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if balance < amount {
		return 0, ErrInsufficientFunds
	}

	cut := amount * int64(math.Round(share*10000)) / 10000
	f.balances[payerID] = balance - amount
	f.balances[broadcasterID] += cut
	f.charges++
	return balance - amount, nil
}

func (f *fakeLedger) balance(accountID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[accountID]
}

func (f *fakeLedger) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.charges
}
