package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/openmerch/paywatch/types"
)

// MemoryStore is an in-memory Store for single-instance deployments.
// All operations are guarded by a single mutex, which makes every state
// transition an atomic conditional update. For multi-process deployments,
// implement Store with a shared backend.
type MemoryStore struct {
	mu           sync.Mutex
	intents      map[string]*types.PaymentIntent
	byCredential map[string]string // credential -> intent id
	products     map[string]*types.Product
	nextIndex    uint32
	now          func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents:      make(map[string]*types.PaymentIntent),
		byCredential: make(map[string]string),
		products:     make(map[string]*types.Product),
		now:          time.Now,
	}
}

// SetClock overrides the store's time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) CreateIntent(_ context.Context, intent *types.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if intent.ID == "" {
		return types.NewError(types.CodeNotFound, "intent id is required")
	}
	if _, exists := s.intents[intent.ID]; exists {
		return fmt.Errorf("intent %s already exists", intent.ID)
	}

	stored := intent.Clone()
	stored.Status = types.StatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.intents[stored.ID] = stored
	return nil
}

func (s *MemoryStore) GetIntent(_ context.Context, id string) (*types.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return intent.Clone(), nil
}

func (s *MemoryStore) PendingIntents(_ context.Context, filter IntentFilter) ([]*types.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.PaymentIntent
	for _, intent := range s.intents {
		if intent.Status != types.StatusPending {
			continue
		}
		if filter.Network != "" && intent.Network != filter.Network {
			continue
		}
		if filter.Asset != "" && intent.Asset != filter.Asset {
			continue
		}
		out = append(out, intent.Clone())
	}
	return out, nil
}

func (s *MemoryStore) ConfirmIntent(_ context.Context, id, txRef string) (*types.PaymentIntent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, false, types.ErrNotFound
	}

	switch intent.Status {
	case types.StatusConfirmed, types.StatusDelivered:
		// Already confirmed; at-least-once callback delivery makes this a
		// normal occurrence, not an error.
		return intent.Clone(), false, nil
	case types.StatusExpired:
		return nil, false, types.ErrNotPending
	}

	credential, err := mintCredential()
	if err != nil {
		return nil, false, fmt.Errorf("mint delivery credential: %w", err)
	}

	now := s.now()
	intent.Status = types.StatusConfirmed
	intent.ObservedTxRef = txRef
	intent.DeliveryCredential = credential
	intent.ConfirmedAt = &now
	s.byCredential[credential] = intent.ID

	return intent.Clone(), true, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, id string) (*types.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, types.ErrNotFound
	}

	switch intent.Status {
	case types.StatusDelivered:
		// Repeat downloads are allowed; the timestamp stays put.
		return intent.Clone(), nil
	case types.StatusConfirmed:
		now := s.now()
		intent.Status = types.StatusDelivered
		intent.DeliveredAt = &now
		return intent.Clone(), nil
	default:
		return nil, types.ErrNotConfirmed
	}
}

func (s *MemoryStore) IntentByCredential(_ context.Context, credential string) (*types.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCredential[credential]
	if !ok {
		return nil, types.ErrNotFound
	}
	return s.intents[id].Clone(), nil
}

func (s *MemoryStore) ExpirePendingOlderThan(_ context.Context, deadline time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for _, intent := range s.intents {
		if intent.Status != types.StatusPending {
			continue
		}
		if intent.CreatedAt.Before(deadline) {
			intent.Status = types.StatusExpired
			swept++
		}
	}
	return swept, nil
}

func (s *MemoryStore) NextAddressIndex(_ context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.nextIndex
	s.nextIndex++
	return idx, nil
}

func (s *MemoryStore) PutProduct(_ context.Context, product *types.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *product
	s.products[p.Slug] = &p
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, slug string) (*types.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[slug]
	if !ok {
		return nil, types.ErrNotFound
	}
	p := *product
	return &p, nil
}

// mintCredential produces a high-entropy single-purpose token. 32 bytes of
// OS randomness, hex encoded.
func mintCredential() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
