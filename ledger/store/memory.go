// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/vsla-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	byGroup     map[string][]ledger.Transaction
	byID        map[ledger.TransactionID]ledger.Transaction
	reversed    map[ledger.TransactionID]bool
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		byGroup:     make(map[string][]ledger.Transaction),
		byID:        make(map[ledger.TransactionID]ledger.Transaction),
		reversed:    make(map[ledger.TransactionID]bool),
		idempotency: make(map[string]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	m.appendLocked(tx)
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}

	for _, tx := range txs {
		m.appendLocked(tx)
	}
	return nil
}

// AppendChecked runs check over the member's history under the write lock.
func (m *Memory) AppendChecked(_ context.Context, tx ledger.Transaction, check func([]ledger.Transaction) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var history []ledger.Transaction
	for _, prev := range m.byGroup[tx.GroupID] {
		if prev.MemberID == tx.MemberID {
			history = append(history, prev)
		}
	}
	if err := check(history); err != nil {
		return err
	}
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	m.appendLocked(tx)
	return nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) {
	txs := m.byGroup[tx.GroupID]

	// Keep each group's log sorted by EffectiveAt; ties keep insertion order.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, ledger.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.byGroup[tx.GroupID] = txs

	m.byID[tx.ID] = tx
	if tx.Type == ledger.TxReversal && tx.ReferenceID != "" {
		m.reversed[ledger.TransactionID(tx.ReferenceID)] = true
	}
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *Memory) IsReversed(_ context.Context, id ledger.TransactionID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reversed[id], nil
}

func (m *Memory) LoadByMember(_ context.Context, groupID, memberID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.byGroup[groupID] {
		if tx.MemberID == memberID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) LoadByGroup(_ context.Context, groupID string, from, to time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.byGroup[groupID] {
		if !from.IsZero() && tx.EffectiveAt.Before(from) {
			continue
		}
		if !to.IsZero() && tx.EffectiveAt.After(to) {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

func (m *Memory) LoadByLoan(_ context.Context, loanID string) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, txs := range m.byGroup {
		for _, tx := range txs {
			if tx.LoanID == loanID {
				result = append(result, tx)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EffectiveAt.Before(result[j].EffectiveAt)
	})
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

var _ ledger.Store = (*Memory)(nil)
