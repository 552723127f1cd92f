package processor

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Client used by tests and local wiring.
type Memory struct {
	mu sync.Mutex

	// CreateErrs are returned, in order, by successive CreatePaymentIntent calls before succeeding.
	CreateErrs []error
	// CreateStatus is the status assigned to created intents (succeeded when empty).
	CreateStatus IntentStatus
	RefundErr    error
	AttachErr    error

	Intents  map[string]*PaymentIntent
	Accounts map[string]*Account
	Charges  []ChargeRequest
	Refunds  []RefundRequest
	seq      int
}

// NewMemory returns an empty in-memory processor.
func NewMemory() *Memory {
	return &Memory{
		Intents:  map[string]*PaymentIntent{},
		Accounts: map[string]*Account{},
	}
}

func (m *Memory) CreatePaymentIntent(_ context.Context, req ChargeRequest) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Charges = append(m.Charges, req)
	if len(m.CreateErrs) > 0 {
		err := m.CreateErrs[0]
		m.CreateErrs = m.CreateErrs[1:]
		return nil, Classify(err)
	}
	m.seq++
	status := m.CreateStatus
	if status == "" {
		status = IntentSucceeded
	}
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	pi := &PaymentIntent{
		ID:       fmt.Sprintf("pi_mem_%d", m.seq),
		Status:   status,
		Metadata: meta,
	}
	if status == IntentSucceeded {
		pi.LatestChargeID = fmt.Sprintf("ch_mem_%d", m.seq)
	}
	m.Intents[pi.ID] = pi
	out := *pi
	return &out, nil
}

func (m *Memory) RetrievePaymentIntent(_ context.Context, id string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.Intents[id]
	if !ok {
		return nil, &Error{Code: "resource_missing", Message: "no such payment_intent: " + id}
	}
	out := *pi
	return &out, nil
}

func (m *Memory) CreateRefund(_ context.Context, req RefundRequest) (*Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RefundErr != nil {
		return nil, Classify(m.RefundErr)
	}
	m.Refunds = append(m.Refunds, req)
	return &Refund{ID: fmt.Sprintf("re_mem_%d", len(m.Refunds)), Status: "pending"}, nil
}

func (m *Memory) AttachPaymentMethod(context.Context, string, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AttachErr != nil {
		return Classify(m.AttachErr)
	}
	return nil
}

func (m *Memory) GetAccount(_ context.Context, accountID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.Accounts[accountID]
	if !ok {
		return nil, &Error{Code: "resource_missing", Message: "no such account: " + accountID}
	}
	out := *acct
	return &out, nil
}

// ChargeCount reports how many charge attempts reached the processor.
func (m *Memory) ChargeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Charges)
}
