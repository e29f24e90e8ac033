package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/hustlexp/backend/internal/fault"
)

// Mock is an in-process gateway for tests and local development. Behavior is
// scripted through the exported knobs: set FailCapture to make the next N
// capture calls error, set ShortBalances to make reversals hit insufficient
// funds, and so on. Zero value knobs mean everything succeeds.
type Mock struct {
	mu sync.Mutex

	// Failure knobs. Each counts down per failing call.
	FailCreateIntent int
	FailConfirm      int
	FailCapture      int
	FailCancel       int
	FailTransfer     int
	FailReversal     int
	FailRefund       int

	// ShortBalances marks destination accounts whose reversal attempts fail
	// with ErrInsufficientFunds.
	ShortBalances map[string]bool

	// Balances seeds GetBalance responses per account.
	Balances map[string]int64

	seq       int
	intents   map[string]*PaymentIntent
	transfers map[string]*Transfer
	reversals []Reversal
	refunds   []Refund
}

// NewMock creates a mock gateway with all calls succeeding.
func NewMock() *Mock {
	return &Mock{
		ShortBalances: make(map[string]bool),
		Balances:      make(map[string]int64),
		intents:       make(map[string]*PaymentIntent),
		transfers:     make(map[string]*Transfer),
	}
}

func (m *Mock) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mock_%04d", prefix, m.seq)
}

func (m *Mock) CreatePaymentIntent(ctx context.Context, p CreateIntentParams) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateIntent > 0 {
		m.FailCreateIntent--
		return nil, fault.New(fault.GatewayError, "mock gateway: create intent failed")
	}
	pi := &PaymentIntent{
		ID:       m.nextID("pi"),
		Amount:   p.Amount,
		Currency: p.Currency,
		Status:   "requires_confirmation",
	}
	m.intents[pi.ID] = pi
	return copyIntent(pi), nil
}

func (m *Mock) ConfirmPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailConfirm > 0 {
		m.FailConfirm--
		return nil, fault.New(fault.GatewayError, "mock gateway: confirm failed")
	}
	pi, ok := m.intents[intentID]
	if !ok {
		return nil, fault.New(fault.GatewayError, "mock gateway: no such intent %s", intentID)
	}
	pi.Status = "requires_capture"
	return copyIntent(pi), nil
}

func (m *Mock) CapturePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCapture > 0 {
		m.FailCapture--
		return nil, fault.New(fault.GatewayError, "mock gateway: capture failed")
	}
	pi, ok := m.intents[intentID]
	if !ok {
		return nil, fault.New(fault.GatewayError, "mock gateway: no such intent %s", intentID)
	}
	pi.Status = "succeeded"
	pi.ChargeID = m.nextID("ch")
	return copyIntent(pi), nil
}

func (m *Mock) CancelPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCancel > 0 {
		m.FailCancel--
		return nil, fault.New(fault.GatewayError, "mock gateway: cancel failed")
	}
	pi, ok := m.intents[intentID]
	if !ok {
		return nil, fault.New(fault.GatewayError, "mock gateway: no such intent %s", intentID)
	}
	pi.Status = "canceled"
	return copyIntent(pi), nil
}

func (m *Mock) CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTransfer > 0 {
		m.FailTransfer--
		return nil, fault.New(fault.GatewayError, "mock gateway: transfer failed")
	}
	tr := &Transfer{
		ID:                 m.nextID("tr"),
		Amount:             p.Amount,
		DestinationAccount: p.DestinationAccount,
	}
	m.transfers[tr.ID] = tr
	m.Balances[p.DestinationAccount] += p.Amount
	return &Transfer{ID: tr.ID, Amount: tr.Amount, DestinationAccount: tr.DestinationAccount}, nil
}

func (m *Mock) ReverseTransfer(ctx context.Context, transferID string, amount int64) (*Reversal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReversal > 0 {
		m.FailReversal--
		return nil, fault.New(fault.GatewayError, "mock gateway: reversal failed")
	}
	tr, ok := m.transfers[transferID]
	if !ok {
		return nil, fault.New(fault.GatewayError, "mock gateway: no such transfer %s", transferID)
	}
	if m.ShortBalances[tr.DestinationAccount] || m.Balances[tr.DestinationAccount] < amount {
		return nil, fault.Wrap(fault.NegativeBalance, ErrInsufficientFunds,
			"mock gateway: account %s cannot cover reversal of %d", tr.DestinationAccount, amount)
	}
	m.Balances[tr.DestinationAccount] -= amount
	rev := Reversal{ID: m.nextID("trr"), TransferID: transferID, Amount: amount}
	m.reversals = append(m.reversals, rev)
	return &rev, nil
}

func (m *Mock) RefundCharge(ctx context.Context, chargeID string, amount int64) (*Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRefund > 0 {
		m.FailRefund--
		return nil, fault.New(fault.GatewayError, "mock gateway: refund failed")
	}
	rf := Refund{ID: m.nextID("re"), ChargeID: chargeID, Amount: amount, Status: "succeeded"}
	m.refunds = append(m.refunds, rf)
	return &rf, nil
}

func (m *Mock) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Balance{AccountID: accountID, Available: m.Balances[accountID]}, nil
}

// Reversals returns the reversals performed so far, for assertions.
func (m *Mock) Reversals() []Reversal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reversal(nil), m.reversals...)
}

// Refunds returns the refunds performed so far, for assertions.
func (m *Mock) Refunds() []Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Refund(nil), m.refunds...)
}

// Intent returns a created intent by ID, for assertions.
func (m *Mock) Intent(id string) *PaymentIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.intents[id]
	if !ok {
		return nil
	}
	return copyIntent(pi)
}

func copyIntent(pi *PaymentIntent) *PaymentIntent {
	cp := *pi
	return &cp
}

var _ Client = (*Mock)(nil)
