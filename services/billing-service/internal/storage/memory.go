package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/outbox"
)

type paymentKey struct {
	invoice string
	status  PaymentStatus
	attempt int64
}

type memState struct {
	subs       map[string]Subscription // by external subscription id
	payments   []Payment
	paymentIdx map[paymentKey]struct{}
	identities map[string]Identity // by normalized email
	linkages   map[string]PendingLinkage
	events     []outbox.Event
}

func (s memState) clone() memState {
	out := memState{
		subs:       make(map[string]Subscription, len(s.subs)),
		payments:   append([]Payment(nil), s.payments...),
		paymentIdx: make(map[paymentKey]struct{}, len(s.paymentIdx)),
		identities: make(map[string]Identity, len(s.identities)),
		linkages:   make(map[string]PendingLinkage, len(s.linkages)),
		events:     append([]outbox.Event(nil), s.events...),
	}
	for k, v := range s.subs {
		out.subs[k] = v
	}
	for k := range s.paymentIdx {
		out.paymentIdx[k] = struct{}{}
	}
	for k, v := range s.identities {
		out.identities[k] = v
	}
	for k, v := range s.linkages {
		out.linkages[k] = v
	}
	return out
}

// Memory is an in-process Store used by tests and local simulation. Transactions are
// serialized and rolled back by restoring a snapshot taken when InTx started, so a write
// made outside InTx while a transaction is open is lost if that transaction fails.
// Route every write through InTx when the store is shared between goroutines.
type Memory struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   memState
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		st: memState{
			subs:       map[string]Subscription{},
			paymentIdx: map[paymentKey]struct{}{},
			identities: map[string]Identity{},
			linkages:   map[string]PendingLinkage{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// AddIdentity registers a site user for verified-email lookups.
func (m *Memory) AddIdentity(id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.identities[NormalizeEmail(id.Email)] = id
}

// OutboxEvents returns a copy of every event recorded so far.
func (m *Memory) OutboxEvents() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbox.Event(nil), m.st.events...)
}

func (m *Memory) InTx(ctx context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()

	if err := fn(memTx{m}); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// memTx is the view handed to InTx callbacks; nested InTx calls run inline.
type memTx struct {
	*Memory
}

func (t memTx) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

func (m *Memory) GetSubscription(ctx context.Context, externalSubscriptionID string) (Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.subs[externalSubscriptionID]
	return s, ok, nil
}

func (m *Memory) GetSubscriptionForUpdate(ctx context.Context, externalSubscriptionID string) (Subscription, bool, error) {
	return m.GetSubscription(ctx, externalSubscriptionID)
}

func (m *Memory) LatestSubscriptionForUser(ctx context.Context, userID string) (Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best Subscription
	found := false
	for _, s := range m.st.subs {
		if s.UserID != userID {
			continue
		}
		if !found || better(s, best) {
			best, found = s, true
		}
	}
	return best, found, nil
}

func better(a, b Subscription) bool {
	if a.Status.Entitled() != b.Status.Entitled() {
		return a.Status.Entitled()
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func (m *Memory) UpsertSubscription(ctx context.Context, s Subscription) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := s
	if existing, ok := m.st.subs[s.ExternalSubscriptionID]; ok {
		out = mergeSubscription(existing, s)
	} else {
		out.ID = uuid.NewString()
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	m.st.subs[out.ExternalSubscriptionID] = out
	return out, nil
}

func (m *Memory) SetSubscriptionStatus(ctx context.Context, externalSubscriptionID string, status entitlements.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.subs[externalSubscriptionID]
	if !ok || s.Status.Terminal() {
		return false, nil
	}
	s.Status = status
	s.UpdatedAt = m.now()
	m.st.subs[externalSubscriptionID] = s
	return true, nil
}

func (m *Memory) CancelSubscription(ctx context.Context, externalSubscriptionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.subs[externalSubscriptionID]
	if !ok {
		return false, nil
	}
	s.Status = entitlements.StatusCancelled
	s.AutoRenew = false
	if s.CancelledAt == nil {
		s.CancelledAt = &at
	}
	s.UpdatedAt = m.now()
	m.st.subs[externalSubscriptionID] = s
	return true, nil
}

func (m *Memory) ListSubscriptionsForReconcile(ctx context.Context, limit int) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []Subscription
	for _, s := range m.st.subs {
		if !s.Status.Terminal() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) InsertPayment(ctx context.Context, p Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := paymentKey{invoice: p.ExternalInvoiceID, status: p.Status, attempt: p.AttemptCount}
	if _, dup := m.st.paymentIdx[key]; dup {
		return false, nil
	}
	p.ID = uuid.NewString()
	p.CreatedAt = m.now()
	m.st.paymentIdx[key] = struct{}{}
	m.st.payments = append(m.st.payments, p)
	return true, nil
}

func (m *Memory) ListPayments(ctx context.Context, subscriptionID string) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.st.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) FindVerifiedIdentityByEmail(ctx context.Context, email string) (Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.st.identities[NormalizeEmail(email)]
	if !ok || !id.EmailVerified {
		return Identity{}, false, nil
	}
	return id, true, nil
}

func (m *Memory) UpsertPendingLinkage(ctx context.Context, l PendingLinkage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.Email = NormalizeEmail(l.Email)
	if existing, ok := m.st.linkages[l.PlaceholderUserID]; ok {
		if existing.ResolvedAt != nil {
			return nil
		}
		existing.Email = l.Email
		m.st.linkages[l.PlaceholderUserID] = existing
		return nil
	}
	l.CreatedAt = m.now()
	l.ResolvedUserID, l.ResolvedAt = "", nil
	m.st.linkages[l.PlaceholderUserID] = l
	return nil
}

func (m *Memory) ListPendingLinkages(ctx context.Context, email string, limit int) ([]PendingLinkage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	email = NormalizeEmail(email)
	var out []PendingLinkage
	for _, l := range m.st.linkages {
		if l.ResolvedAt != nil || (email != "" && l.Email != email) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PlaceholderUserID < out[j].PlaceholderUserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ReassignUser(ctx context.Context, placeholderUserID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.st.subs {
		if s.UserID == placeholderUserID {
			s.UserID = userID
			s.UpdatedAt = m.now()
			m.st.subs[k] = s
			n++
		}
	}
	for i := range m.st.payments {
		if m.st.payments[i].UserID == placeholderUserID {
			m.st.payments[i].UserID = userID
			n++
		}
	}
	return n, nil
}

func (m *Memory) ResolvePendingLinkage(ctx context.Context, placeholderUserID, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.st.linkages[placeholderUserID]
	if !ok || l.ResolvedAt != nil {
		return nil
	}
	l.ResolvedUserID = userID
	l.ResolvedAt = &at
	m.st.linkages[placeholderUserID] = l
	return nil
}

func (m *Memory) InsertOutboxEvent(ctx context.Context, evt outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.events = append(m.st.events, evt)
	return nil
}
