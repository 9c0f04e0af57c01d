package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
)

var ErrNotFound = errors.New("not found")

// MemoryStore keeps accounts and the ledger in process memory. Each account
// has its own lock so debits against different accounts never wait on each other.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*domain.Account
	locks        map[string]chan struct{}
	transactions map[uuid.UUID]domain.Transaction
	byAccount    map[string][]uuid.UUID
	refunded     map[uuid.UUID]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*domain.Account),
		locks:        make(map[string]chan struct{}),
		transactions: make(map[uuid.UUID]domain.Transaction),
		byAccount:    make(map[string][]uuid.UUID),
		refunded:     make(map[uuid.UUID]int64),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acc domain.Account) error {
	if acc.Balance < 0 {
		return fmt.Errorf("balance must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acc.InstrumentID]; exists {
		return domain.ErrAccountExists
	}
	s.accounts[acc.InstrumentID] = &acc
	s.locks[acc.InstrumentID] = make(chan struct{}, 1)
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, instrumentID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[instrumentID]
	if !ok {
		return nil, domain.ErrInstrumentNotFound
	}
	copied := *acc
	return &copied, nil
}

// WithAccountLock serializes read-check-write per account. Staged writes are
// applied under the store lock in one step, so readers never observe a
// balance without its ledger entry.
func (s *MemoryStore) WithAccountLock(ctx context.Context, instrumentID string, fn func(ctx context.Context, tx payment.AccountTx) error) error {
	s.mu.RLock()
	lock, ok := s.locks[instrumentID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrInstrumentNotFound
	}

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	acc, err := s.GetAccount(ctx, instrumentID)
	if err != nil {
		return err
	}

	tx := &memoryTx{store: s, account: *acc, balance: acc.Balance}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tx.pending {
		if _, dup := s.transactions[t.ID]; dup {
			return fmt.Errorf("duplicate transaction id %s", t.ID)
		}
	}
	s.accounts[instrumentID].Balance = tx.balance
	for _, t := range tx.pending {
		s.appendLocked(t)
	}
	return nil
}

// Append records an entry outside any account lock. Used for audit entries
// that do not move money.
func (s *MemoryStore) Append(_ context.Context, t *domain.Transaction) (uuid.UUID, error) {
	if err := checkEntry(t); err != nil {
		return uuid.Nil, err
	}
	if t.Status == domain.StatusApproved {
		return uuid.Nil, fmt.Errorf("approved entries must be written under the account lock")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[t.InstrumentID]; !ok {
		return uuid.Nil, domain.ErrInstrumentNotFound
	}
	if t.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, err
		}
		t.ID = id
	}
	if _, dup := s.transactions[t.ID]; dup {
		return uuid.Nil, fmt.Errorf("duplicate transaction id %s", t.ID)
	}
	s.appendLocked(*t)
	return t.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &t, nil
}

func (s *MemoryStore) ListByAccount(_ context.Context, instrumentID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byAccount[instrumentID]
	out := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.transactions[id])
	}
	return out, nil
}

func (s *MemoryStore) appendLocked(t domain.Transaction) {
	s.transactions[t.ID] = t
	s.byAccount[t.InstrumentID] = append(s.byAccount[t.InstrumentID], t.ID)
	if t.Type == domain.TxRefund && t.Approved() && t.OriginalTransactionID != nil {
		s.refunded[*t.OriginalTransactionID] += t.Amount
	}
}

type memoryTx struct {
	store   *MemoryStore
	account domain.Account
	balance int64
	pending []domain.Transaction
}

func (tx *memoryTx) Account() domain.Account { return tx.account }

func (tx *memoryTx) SetBalance(_ context.Context, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("balance must not be negative, got %d", balance)
	}
	tx.balance = balance
	return nil
}

func (tx *memoryTx) Append(_ context.Context, t *domain.Transaction) error {
	if err := checkEntry(t); err != nil {
		return err
	}
	if t.InstrumentID != tx.account.InstrumentID {
		return fmt.Errorf("entry for %s appended under lock of another account", domain.MaskInstrument(t.InstrumentID))
	}
	tx.pending = append(tx.pending, *t)
	return nil
}

func (tx *memoryTx) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	for i := range tx.pending {
		if tx.pending[i].ID == id {
			t := tx.pending[i]
			return &t, nil
		}
	}
	return tx.store.Get(ctx, id)
}

func (tx *memoryTx) RefundedTotal(_ context.Context, debitID uuid.UUID) (int64, error) {
	tx.store.mu.RLock()
	total := tx.store.refunded[debitID]
	tx.store.mu.RUnlock()
	for _, t := range tx.pending {
		if t.Type == domain.TxRefund && t.Approved() && t.OriginalTransactionID != nil && *t.OriginalTransactionID == debitID {
			total += t.Amount
		}
	}
	return total, nil
}

func checkEntry(t *domain.Transaction) error {
	if t.Amount <= 0 {
		return fmt.Errorf("transaction amount must be positive")
	}
	if t.Status != domain.StatusApproved && t.Status != domain.StatusDeclined {
		return fmt.Errorf("unknown transaction status %q", t.Status)
	}
	return nil
}

// APIKey is a stored operator key. Hash is the sha256 of the full key.
type APIKey struct {
	ID    string
	Hash  string
	Label string
}

// MemoryKeyStore holds operator API key hashes.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]APIKey)}
}

func (s *MemoryKeyStore) SaveAPIKey(_ context.Context, key APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return fmt.Errorf("api key %s already exists", key.ID)
	}
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryKeyStore) LookupAPIKey(_ context.Context, keyID string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil, ErrNotFound
	}
	return &key, nil
}

// MemoryIdempotencyStore keeps idempotency records in process memory.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]idempotencyRecord
	now     func() time.Time
}

type idempotencyRecord struct {
	StoredResponse
	reservedAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]idempotencyRecord), now: time.Now}
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key, fingerprint string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[key]; ok {
		stale := rec.Pending() && now.Sub(rec.reservedAt) >= PendingTTL
		if !stale {
			res := rec.StoredResponse
			res.Body = append([]byte(nil), res.Body...)
			return &res, nil
		}
	}
	s.records[key] = idempotencyRecord{
		StoredResponse: StoredResponse{Fingerprint: fingerprint},
		reservedAt:     now,
	}
	return nil, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, res StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !rec.Pending() {
		return nil
	}
	rec.Status = res.Status
	rec.Body = append([]byte(nil), res.Body...)
	s.records[key] = rec
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.Pending() {
		delete(s.records, key)
	}
	return nil
}
