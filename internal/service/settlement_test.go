package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ga1ien/kulti-sub004/internal/domain"
)

// memStore is an in-memory SettlementStore with the same atomicity semantics
// as the Postgres implementation: the claim is a conditional update, and a
// payout either commits together with its earn transaction or not at all.
type memStore struct {
	mu       sync.Mutex
	sess     *domain.Session
	parts    []domain.Participant
	payouts  map[uuid.UUID]int64
	order    []uuid.UUID
	payCount map[uuid.UUID]int
	earned   map[uuid.UUID]int64
	failPay  map[uuid.UUID]int // fail the next N pay attempts per account
}

func newMemStore(sess *domain.Session, parts []domain.Participant) *memStore {
	return &memStore{
		sess:     sess,
		parts:    parts,
		payouts:  map[uuid.UUID]int64{},
		payCount: map[uuid.UUID]int{},
		earned:   map[uuid.UUID]int64{},
		failPay:  map[uuid.UUID]int{},
	}
}

func (m *memStore) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || m.sess.ID != id {
		return nil, domain.ErrSessionNotFound
	}
	copy := *m.sess
	return &copy, nil
}

func (m *memStore) ClaimSettlement(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || m.sess.ID != id || m.sess.CreditsCalculated {
		return false, nil
	}
	m.sess.Status = domain.SessionEnded
	if m.sess.EndedAt == nil {
		m.sess.EndedAt = &endedAt
	}
	return true, nil
}

func (m *memStore) FinalizeParticipants(ctx context.Context, id uuid.UUID, endedAt time.Time) ([]domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.parts {
		if m.parts[i].LeftAt == nil {
			at := endedAt
			m.parts[i].LeftAt = &at
		}
	}
	return append([]domain.Participant(nil), m.parts...), nil
}

func (m *memStore) PayParticipant(ctx context.Context, sessionID, accountID uuid.UUID, amount int64) (*domain.ApplyResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.failPay[accountID]; n > 0 {
		m.failPay[accountID] = n - 1
		return nil, false, fmt.Errorf("%w: injected failure", domain.ErrStorageConflict)
	}
	if _, done := m.payouts[accountID]; done {
		return nil, false, nil
	}
	m.payouts[accountID] = amount
	m.order = append(m.order, accountID)
	m.payCount[accountID]++
	m.earned[accountID] += amount
	return &domain.ApplyResult{
		Transaction: domain.Transaction{
			ID:        uuid.New(),
			AccountID: accountID,
			Amount:    amount,
			Type:      domain.TransactionEarn,
			SessionID: &sessionID,
			CreatedAt: time.Now(),
		},
		NewBalance:     m.earned[accountID],
		NewTotalEarned: m.earned[accountID],
	}, true, nil
}

func (m *memStore) ListPayouts(ctx context.Context, sessionID uuid.UUID) ([]domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Payout{}
	for _, id := range m.order {
		out = append(out, domain.Payout{SessionID: sessionID, AccountID: id, Amount: m.payouts[id]})
	}
	return out, nil
}

func (m *memStore) CompleteSettlement(ctx context.Context, sessionID uuid.UUID, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sess.CreditsCalculated {
		m.sess.CreditsCalculated = true
		m.sess.TotalCreditsDistributed = total
	}
	return nil
}

// fixedPlan ignores participant records and proposes a fixed distribution.
type fixedPlan []domain.PlanEntry

func (f fixedPlan) BuildPlan(sess *domain.Session, parts []domain.Participant) domain.DistributionPlan {
	return domain.DistributionPlan{SessionID: sess.ID, Entries: f}
}

type recordingEmitter struct {
	mu          sync.Mutex
	settlements []domain.SettlementResult
	milestones  []domain.MilestoneAward
	streaks     int
}

func (e *recordingEmitter) SettlementCompleted(ctx context.Context, r domain.SettlementResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settlements = append(e.settlements, r)
}

func (e *recordingEmitter) MilestoneAwarded(ctx context.Context, a domain.MilestoneAward) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.milestones = append(e.milestones, a)
}

func (e *recordingEmitter) StreakAdvanced(ctx context.Context, id uuid.UUID, s domain.StreakResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streaks++
}

func liveSession() *domain.Session {
	return &domain.Session{
		ID:        uuid.New(),
		HostID:    uuid.New(),
		Status:    domain.SessionLive,
		StartedAt: time.Now().Add(-time.Hour),
	}
}

func TestSettleDistributesPlanOnce(t *testing.T) {
	sess := liveSession()
	a, b := uuid.New(), uuid.New()
	store := newMemStore(sess, []domain.Participant{
		{SessionID: sess.ID, AccountID: a, Role: domain.RoleViewer, JoinedAt: sess.StartedAt},
		{SessionID: sess.ID, AccountID: b, Role: domain.RoleViewer, JoinedAt: sess.StartedAt},
	})
	emitter := &recordingEmitter{}
	engine := NewSettlement(store, fixedPlan{
		{AccountID: a, Amount: 40},
		{AccountID: b, Amount: 25},
	}, nil, emitter, zap.NewNop())

	result, err := engine.Settle(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if result.TotalCreditsDistributed != 65 {
		t.Errorf("total = %d, want 65", result.TotalCreditsDistributed)
	}
	if result.NewTransactions != 2 {
		t.Errorf("new transactions = %d, want 2", result.NewTransactions)
	}
	if result.AlreadySettled {
		t.Error("first settle reported AlreadySettled")
	}
	if !store.sess.CreditsCalculated {
		t.Error("credits_calculated not set")
	}
	if len(emitter.settlements) != 1 {
		t.Errorf("settlement events = %d, want 1", len(emitter.settlements))
	}
	for _, p := range store.parts {
		if p.LeftAt == nil {
			t.Error("open participant record not finalized")
		}
	}
}

func TestSettleTwiceReturnsPriorResult(t *testing.T) {
	sess := liveSession()
	a, b := uuid.New(), uuid.New()
	store := newMemStore(sess, nil)
	emitter := &recordingEmitter{}
	engine := NewSettlement(store, fixedPlan{
		{AccountID: a, Amount: 40},
		{AccountID: b, Amount: 25},
	}, nil, emitter, zap.NewNop())

	first, err := engine.Settle(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	second, err := engine.Settle(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}

	if !second.AlreadySettled {
		t.Error("second settle not marked AlreadySettled")
	}
	if second.NewTransactions != 0 {
		t.Errorf("second settle created %d transactions, want 0", second.NewTransactions)
	}
	if second.TotalCreditsDistributed != first.TotalCreditsDistributed {
		t.Errorf("replayed total = %d, want %d", second.TotalCreditsDistributed, first.TotalCreditsDistributed)
	}
	for id, n := range store.payCount {
		if n != 1 {
			t.Errorf("account %s paid %d times", id, n)
		}
	}
	if len(emitter.settlements) != 1 {
		t.Errorf("settlement events = %d, want 1", len(emitter.settlements))
	}
}

func TestSettleRetryAfterPartialFailure(t *testing.T) {
	sess := liveSession()
	a, b := uuid.New(), uuid.New()
	store := newMemStore(sess, nil)
	store.failPay[b] = 1
	engine := NewSettlement(store, fixedPlan{
		{AccountID: a, Amount: 40},
		{AccountID: b, Amount: 25},
	}, nil, &recordingEmitter{}, zap.NewNop())

	_, err := engine.Settle(context.Background(), sess.ID)
	var partial *domain.PartialSettlementError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want PartialSettlementError", err)
	}
	if partial.Paid != 1 || partial.Failed != 1 {
		t.Errorf("partial = {paid:%d failed:%d}, want {paid:1 failed:1}", partial.Paid, partial.Failed)
	}
	if store.sess.CreditsCalculated {
		t.Fatal("partial failure must leave credits_calculated false")
	}

	// The retry pays only the participant the payout ledger has not seen.
	result, err := engine.Settle(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("retry Settle: %v", err)
	}
	if result.NewTransactions != 1 {
		t.Errorf("retry created %d transactions, want 1", result.NewTransactions)
	}
	if result.TotalCreditsDistributed != 65 {
		t.Errorf("total = %d, want 65", result.TotalCreditsDistributed)
	}
	if store.payCount[a] != 1 || store.payCount[b] != 1 {
		t.Errorf("pay counts = a:%d b:%d, want 1 each", store.payCount[a], store.payCount[b])
	}
}

func TestSettleConcurrentCallsPayExactlyOnce(t *testing.T) {
	sess := liveSession()
	a, b := uuid.New(), uuid.New()
	store := newMemStore(sess, nil)
	engine := NewSettlement(store, fixedPlan{
		{AccountID: a, Amount: 40},
		{AccountID: b, Amount: 25},
	}, nil, &recordingEmitter{}, zap.NewNop())

	const callers = 8
	results := make([]*domain.SettlementResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Settle(context.Background(), sess.ID)
		}(i)
	}
	wg.Wait()

	var newTx int
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].TotalCreditsDistributed != 65 {
			t.Errorf("caller %d total = %d, want 65", i, results[i].TotalCreditsDistributed)
		}
		newTx += results[i].NewTransactions
	}
	if newTx != 2 {
		t.Errorf("total new transactions across callers = %d, want 2", newTx)
	}
	if store.payCount[a] != 1 || store.payCount[b] != 1 {
		t.Errorf("pay counts = a:%d b:%d, want 1 each", store.payCount[a], store.payCount[b])
	}
}

func TestSettleSkipsZeroAmountEntries(t *testing.T) {
	sess := liveSession()
	a, idle := uuid.New(), uuid.New()
	store := newMemStore(sess, nil)
	engine := NewSettlement(store, fixedPlan{
		{AccountID: a, Amount: 10},
		{AccountID: idle, Amount: 0},
	}, nil, &recordingEmitter{}, zap.NewNop())

	result, err := engine.Settle(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if result.NewTransactions != 1 {
		t.Errorf("new transactions = %d, want 1", result.NewTransactions)
	}
	if _, paid := store.payouts[idle]; paid {
		t.Error("zero-amount participant was paid")
	}
}

func TestSettleUnknownSession(t *testing.T) {
	store := newMemStore(nil, nil)
	engine := NewSettlement(store, fixedPlan{}, nil, &recordingEmitter{}, zap.NewNop())

	_, err := engine.Settle(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
