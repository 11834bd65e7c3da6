package rosca_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rotasave.org/internal/rosca"
	"rotasave.org/internal/store/memory"
)

const (
	t0     = 1234567890
	amount = 10_000_000
	week   = 604800
)

type recordingSink struct {
	mu     sync.Mutex
	events []rosca.Event
}

func (s *recordingSink) Emit(_ context.Context, evt rosca.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) kinds() []rosca.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rosca.EventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

type recordingTransfers struct {
	mu   sync.Mutex
	seen []rosca.TransferInstruction
	fail error
}

func (r *recordingTransfers) Transfer(_ context.Context, in rosca.TransferInstruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.seen = append(r.seen, in)
	return nil
}

type fixture struct {
	engine    *rosca.Engine
	store     *memory.Store
	sink      *recordingSink
	transfers *recordingTransfers
}

func newFixture(t *testing.T, opts ...rosca.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		sink:      &recordingSink{},
		transfers: &recordingTransfers{},
	}
	opts = append([]rosca.Option{
		rosca.WithEventSink(f.sink),
		rosca.WithTransferer(f.transfers),
	}, opts...)
	f.engine = rosca.NewEngine(f.store, opts...)
	return f
}

// activeGroup creates a group of n members named m0..m(n-1) and fills it.
func (f *fixture) activeGroup(t *testing.T, n int) (uint64, []rosca.Principal) {
	t.Helper()
	ctx := context.Background()
	members := make([]rosca.Principal, n)
	for i := range members {
		members[i] = rosca.Principal(fmt.Sprintf("m%d", i))
	}
	id, err := f.engine.CreateGroup(ctx, members[0], amount, week, uint32(n), t0)
	require.NoError(t, err)
	for _, m := range members[1:] {
		require.NoError(t, f.engine.JoinGroup(ctx, id, m))
	}
	return id, members
}

func TestCreateGroupAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.CreateGroup(ctx, "alice", amount, week, 5, t0)
	require.NoError(t, err)
	b, err := f.engine.CreateGroup(ctx, "bob", amount, week, 5, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a)
	assert.Equal(t, uint64(2), b)

	g, err := f.engine.GetGroup(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, g.CurrentCycle)
	assert.Equal(t, rosca.StatusForming, g.Status)
	assert.Equal(t, []rosca.Principal{"alice"}, g.Members)
	assert.Equal(t, []rosca.EventKind{rosca.EventGroupCreated, rosca.EventGroupCreated}, f.sink.kinds())
}

func TestCreateGroupWithID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.CreateGroupWithID(ctx, 0, "alice", amount, week, 5, t0))
	require.NoError(t, f.engine.CreateGroupWithID(ctx, 2, "alice", amount, week, 5, t0))
	err := f.engine.CreateGroupWithID(ctx, 2, "bob", amount, week, 5, t0)
	assert.True(t, errors.Is(err, rosca.ErrGroupExists))

	// The sequence skips ids taken explicitly.
	next, err := f.engine.CreateGroup(ctx, "carol", amount, week, 5, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)

	large := ^uint64(0) - 1
	require.NoError(t, f.engine.CreateGroupWithID(ctx, large, "dave", amount, week, 5, t0))
	cycle, err := f.engine.GetCurrentCycle(ctx, large)
	require.NoError(t, err)
	assert.Zero(t, cycle)
}

func TestCreateGroupInvalidConfigurationTouchesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateGroup(context.Background(), "alice", amount, week, 1, t0)
	assert.True(t, errors.Is(err, rosca.ErrInvalidConfiguration))
	assert.Empty(t, f.store.Keys())
	assert.Empty(t, f.sink.kinds())
}

func TestQueriesOnMissingGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GetCurrentCycle(ctx, 404)
	assert.True(t, errors.Is(err, rosca.ErrGroupNotFound))
	assert.Equal(t, rosca.CategoryNotFound, rosca.CategoryOf(err))

	_, err = f.engine.GetGroupStatus(ctx, 404)
	assert.True(t, errors.Is(err, rosca.ErrGroupNotFound))

	err = f.engine.JoinGroup(ctx, 404, "x")
	assert.True(t, errors.Is(err, rosca.ErrGroupNotFound))

	_, err = f.engine.AdvanceCycle(ctx, 404, t0)
	assert.True(t, errors.Is(err, rosca.ErrGroupNotFound))
}

func TestJoinEmitsActivation(t *testing.T) {
	f := newFixture(t)
	f.activeGroup(t, 3)
	assert.Equal(t, []rosca.EventKind{
		rosca.EventGroupCreated,
		rosca.EventMemberJoined,
		rosca.EventGroupActivated,
	}, f.sink.kinds())
}

func TestScenarioAFiveMemberRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 5)

	_, err := f.engine.AdvanceCycle(ctx, id, t0+week)
	require.NoError(t, err)
	cycle, err := f.engine.GetCurrentCycle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cycle)

	for c := 1; c < 5; c++ {
		_, err := f.engine.AdvanceCycle(ctx, id, int64(t0+(c+1)*week))
		require.NoError(t, err)
	}
	g, err := f.engine.GetGroup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), g.CurrentCycle)
	assert.True(t, g.IsComplete())
	assert.Equal(t, rosca.StatusCompleted, g.Status)

	payouts, err := f.engine.ListPayouts(ctx, id)
	require.NoError(t, err)
	require.Len(t, payouts, 5)
	for c, p := range payouts {
		assert.Equal(t, members[c], p.Recipient)
		assert.Equal(t, int64(5*amount), p.Amount)
	}
}

func TestScenarioBAdvancePastCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.activeGroup(t, 2)

	for i := 0; i < 2; i++ {
		_, err := f.engine.AdvanceCycle(ctx, id, t0)
		require.NoError(t, err)
	}
	before := len(f.sink.kinds())

	_, err := f.engine.AdvanceCycle(ctx, id, t0)
	assert.True(t, errors.Is(err, rosca.ErrAlreadyComplete))
	assert.Len(t, f.sink.kinds(), before, "failed operation must not emit")

	cycle, err := f.engine.GetCurrentCycle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cycle)
}

func TestScenarioCGroupsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g1, _ := f.activeGroup(t, 5)
	g2, _ := f.activeGroup(t, 5)

	for i := 0; i < 2; i++ {
		_, err := f.engine.AdvanceCycle(ctx, g1, t0)
		require.NoError(t, err)
	}
	_, err := f.engine.AdvanceCycle(ctx, g2, t0)
	require.NoError(t, err)

	c1, err := f.engine.GetCurrentCycle(ctx, g1)
	require.NoError(t, err)
	c2, err := f.engine.GetCurrentCycle(ctx, g2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), c1)
	assert.Equal(t, uint32(1), c2)

	_, err = f.engine.GetPayout(ctx, g2, 1)
	assert.True(t, errors.Is(err, rosca.ErrPayoutNotFound))
	_, err = f.engine.GetPayout(ctx, g1, 1)
	assert.NoError(t, err)
}

func TestScenarioDWrongAmountLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 3)

	_, err := f.engine.Contribute(ctx, id, members[1], amount-1, t0)
	assert.True(t, errors.Is(err, rosca.ErrWrongAmount))
	assert.Equal(t, rosca.CategoryValidation, rosca.CategoryOf(err))

	_, err = f.engine.GetContribution(ctx, id, 0, members[1])
	assert.True(t, errors.Is(err, rosca.ErrContributionNotFound))
	assert.Empty(t, f.transfers.seen)
}

func TestDuplicateContributionKeepsFirstRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 3)

	first, err := f.engine.Contribute(ctx, id, members[2], amount, t0+10)
	require.NoError(t, err)

	_, err = f.engine.Contribute(ctx, id, members[2], amount, t0+20)
	assert.True(t, errors.Is(err, rosca.ErrDuplicateContribution))

	stored, err := f.engine.GetContribution(ctx, id, 0, members[2])
	require.NoError(t, err)
	assert.Equal(t, first, stored)
	assert.Equal(t, int64(t0+10), stored.Timestamp)
	assert.Len(t, f.transfers.seen, 1)
}

func TestContributionsCompleteForCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 3)

	done, err := f.engine.ContributionsCompleteForCycle(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, done)

	for _, m := range members {
		_, err := f.engine.Contribute(ctx, id, m, amount, t0)
		require.NoError(t, err)
	}
	done, err = f.engine.ContributionsCompleteForCycle(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, done)

	_, err = f.engine.AdvanceCycle(ctx, id, t0+week)
	require.NoError(t, err)

	// Closed cycles keep their answer; the new one starts empty.
	done, err = f.engine.ContributionsCompleteForCycle(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, done)
	done, err = f.engine.ContributionsCompleteForCycle(ctx, id, 1)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = f.engine.ContributionsCompleteForCycle(ctx, id, 3)
	assert.ErrorIs(t, err, rosca.ErrInvalidCycle)
	assert.Equal(t, rosca.CategoryValidation, rosca.CategoryOf(err))
}

func TestRequireFullContributionsPolicy(t *testing.T) {
	f := newFixture(t, rosca.WithAdvancePolicy(rosca.RequireFullContributions))
	ctx := context.Background()
	id, members := f.activeGroup(t, 2)

	_, err := f.engine.Contribute(ctx, id, members[0], amount, t0)
	require.NoError(t, err)

	_, err = f.engine.AdvanceCycle(ctx, id, t0)
	assert.True(t, errors.Is(err, rosca.ErrContributionsIncomplete))
	cycle, err := f.engine.GetCurrentCycle(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, cycle)

	_, err = f.engine.Contribute(ctx, id, members[1], amount, t0)
	require.NoError(t, err)
	p, err := f.engine.AdvanceCycle(ctx, id, t0)
	require.NoError(t, err)
	assert.Equal(t, members[0], p.Recipient)
}

func TestTransferInstructions(t *testing.T) {
	f := newFixture(t, rosca.WithCurrency("XLM"))
	ctx := context.Background()
	id, members := f.activeGroup(t, 2)

	_, err := f.engine.Contribute(ctx, id, members[1], amount, t0)
	require.NoError(t, err)
	_, err = f.engine.AdvanceCycle(ctx, id, t0)
	require.NoError(t, err)

	pool := rosca.PoolAccount(id)
	assert.Equal(t, []rosca.TransferInstruction{
		{From: members[1], To: pool, Amount: amount, Currency: "XLM", IdempotencyKey: rosca.ContributionKey(id, 0, members[1]).String()},
		{From: pool, To: members[0], Amount: 2 * amount, Currency: "XLM", IdempotencyKey: rosca.PayoutKey(id, 0).String()},
	}, f.transfers.seen)
}

func TestFailedTransferIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 2)
	emitted := len(f.sink.kinds())

	f.transfers.fail = errors.New("ledger unavailable")

	_, err := f.engine.Contribute(ctx, id, members[0], amount, t0)
	assert.True(t, errors.Is(err, rosca.ErrTransferFailed))
	assert.Equal(t, rosca.CategoryInternal, rosca.CategoryOf(err))

	_, err = f.engine.AdvanceCycle(ctx, id, t0)
	assert.True(t, errors.Is(err, rosca.ErrTransferFailed))

	g, err := f.engine.GetGroup(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, g.CurrentCycle)
	assert.Empty(t, g.CycleContributors)
	_, err = f.engine.GetPayout(ctx, id, 0)
	assert.True(t, errors.Is(err, rosca.ErrPayoutNotFound))
	assert.Len(t, f.sink.kinds(), emitted)

	// The same calls succeed once the ledger is back.
	f.transfers.fail = nil
	_, err = f.engine.Contribute(ctx, id, members[0], amount, t0)
	require.NoError(t, err)
	_, err = f.engine.AdvanceCycle(ctx, id, t0)
	require.NoError(t, err)
}

func TestRejectedTransferIsStateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 2)

	f.transfers.fail = fmt.Errorf("ledger: %w", rosca.ErrTransferRejected)
	_, err := f.engine.Contribute(ctx, id, members[0], amount, t0)
	assert.ErrorIs(t, err, rosca.ErrTransferRejected)
	assert.False(t, errors.Is(err, rosca.ErrTransferFailed))
	assert.Equal(t, rosca.CodeTransferRejected, rosca.CodeOf(err))
	assert.Equal(t, rosca.CategoryStateConflict, rosca.CategoryOf(err))
}

var errCommit = errors.New("commit failed")

// commitFailingStore runs steps normally until armed, then reports errCommit
// for every Update. With keep set the writes land before the error, as when
// a commit acknowledgement is lost.
type commitFailingStore struct {
	*memory.Store
	keep  bool
	armed atomic.Bool
}

func (s *commitFailingStore) Update(ctx context.Context, lock []byte, fn func(rosca.Tx) error) error {
	if !s.armed.Load() {
		return s.Store.Update(ctx, lock, fn)
	}
	if s.keep {
		if err := s.Store.Update(ctx, lock, fn); err != nil {
			return err
		}
		return errCommit
	}
	return s.Store.Update(ctx, lock, func(tx rosca.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errCommit
	})
}

func TestUncommittedStepReversesTransfers(t *testing.T) {
	ctx := context.Background()
	store := &commitFailingStore{Store: memory.New()}
	transfers := &recordingTransfers{}
	sink := &recordingSink{}
	engine := rosca.NewEngine(store, rosca.WithTransferer(transfers), rosca.WithEventSink(sink))

	id, err := engine.CreateGroup(ctx, "alice", amount, week, 2, t0)
	require.NoError(t, err)
	require.NoError(t, engine.JoinGroup(ctx, id, "bob"))
	emitted := len(sink.kinds())

	store.armed.Store(true)
	_, err = engine.Contribute(ctx, id, "bob", amount, t0)
	require.ErrorIs(t, err, errCommit)
	assert.ErrorIs(t, err, rosca.ErrStorage)
	assert.Len(t, sink.kinds(), emitted)

	key := rosca.ContributionKey(id, 0, "bob").String()
	assert.Equal(t, []rosca.TransferInstruction{
		{From: "bob", To: rosca.PoolAccount(id), Amount: amount, Currency: rosca.DefaultCurrency, IdempotencyKey: key},
		{From: rosca.PoolAccount(id), To: "bob", Amount: amount, Currency: rosca.DefaultCurrency, IdempotencyKey: rosca.ReversalKey(key)},
	}, transfers.seen)

	_, err = engine.GetContribution(ctx, id, 0, "bob")
	assert.ErrorIs(t, err, rosca.ErrContributionNotFound)
}

func TestFailedReversalIsReported(t *testing.T) {
	ctx := context.Background()
	store := &commitFailingStore{Store: memory.New()}
	var calls atomic.Int32
	transfers := rosca.TransferFunc(func(context.Context, rosca.TransferInstruction) error {
		if calls.Add(1) > 1 {
			return errors.New("ledger unavailable")
		}
		return nil
	})
	engine := rosca.NewEngine(store, rosca.WithTransferer(transfers))

	id, err := engine.CreateGroup(ctx, "alice", amount, week, 2, t0)
	require.NoError(t, err)
	require.NoError(t, engine.JoinGroup(ctx, id, "bob"))
	store.armed.Store(true)

	_, err = engine.Contribute(ctx, id, "alice", amount, t0)
	require.ErrorIs(t, err, errCommit)
	assert.ErrorIs(t, err, rosca.ErrTransferFailed)
	assert.Contains(t, err.Error(), "reverse")
}

func TestCommittedStepSurvivesLostAcknowledgement(t *testing.T) {
	ctx := context.Background()
	store := &commitFailingStore{Store: memory.New(), keep: true}
	transfers := &recordingTransfers{}
	sink := &recordingSink{}
	engine := rosca.NewEngine(store, rosca.WithTransferer(transfers), rosca.WithEventSink(sink))

	id, err := engine.CreateGroup(ctx, "alice", amount, week, 2, t0)
	require.NoError(t, err)
	require.NoError(t, engine.JoinGroup(ctx, id, "bob"))

	store.armed.Store(true)
	rec, err := engine.Contribute(ctx, id, "bob", amount, t0)
	require.NoError(t, err)
	assert.Equal(t, rosca.Principal("bob"), rec.Member)
	assert.Len(t, transfers.seen, 1)
	assert.Equal(t, rosca.EventContributionRecorded, sink.kinds()[len(sink.kinds())-1])

	stored, err := engine.GetContribution(ctx, id, 0, "bob")
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}

func TestCancelGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 3)

	err := f.engine.CancelGroup(ctx, id, members[1], t0)
	assert.True(t, errors.Is(err, rosca.ErrUnauthorized))

	require.NoError(t, f.engine.CancelGroup(ctx, id, members[0], t0))
	status, err := f.engine.GetGroupStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rosca.StatusCancelled, status)

	_, err = f.engine.Contribute(ctx, id, members[1], amount, t0)
	assert.True(t, errors.Is(err, rosca.ErrInvalidStatus))
	_, err = f.engine.AdvanceCycle(ctx, id, t0)
	assert.True(t, errors.Is(err, rosca.ErrInvalidStatus))
}

func TestConcurrentDuplicateContributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 3)

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			_, err := f.engine.Contribute(ctx, id, members[1], amount, ts)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, rosca.ErrDuplicateContribution):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(t0 + i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(31), dup.Load())
	g, err := f.engine.GetGroup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(amount), g.CyclePool)
	assert.Len(t, f.transfers.seen, 1)
}

func TestConcurrentAdvanceNeverDoublePays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 4)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		payouts  []rosca.PayoutRecord
		complete atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.engine.AdvanceCycle(ctx, id, t0)
			if err != nil {
				if errors.Is(err, rosca.ErrAlreadyComplete) {
					complete.Add(1)
					return
				}
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			payouts = append(payouts, p)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, payouts, 4)
	assert.Equal(t, int32(16), complete.Load())
	seen := map[uint32]rosca.Principal{}
	for _, p := range payouts {
		_, dup := seen[p.Cycle]
		require.False(t, dup, "cycle %d paid twice", p.Cycle)
		seen[p.Cycle] = p.Recipient
	}
	for c, m := range members {
		assert.Equal(t, m, seen[uint32(c)])
	}
}

func TestOneEventPerSuccessfulMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, members := f.activeGroup(t, 2)

	_, err := f.engine.Contribute(ctx, id, members[0], amount, t0)
	require.NoError(t, err)
	_, err = f.engine.Contribute(ctx, id, members[0], amount, t0)
	require.Error(t, err)
	_, err = f.engine.AdvanceCycle(ctx, id, t0)
	require.NoError(t, err)
	_, err = f.engine.AdvanceCycle(ctx, id, t0)
	require.NoError(t, err)
	require.Error(t, f.engine.CancelGroup(ctx, id, members[0], t0))

	assert.Equal(t, []rosca.EventKind{
		rosca.EventGroupCreated,
		rosca.EventGroupActivated,
		rosca.EventContributionRecorded,
		rosca.EventCycleAdvanced,
		rosca.EventGroupCompleted,
	}, f.sink.kinds())
	for _, e := range f.sink.events {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, id, e.GroupID)
	}
}

func TestSinkFailureDoesNotUndoMutation(t *testing.T) {
	sink := rosca.SinkFunc(func(context.Context, rosca.Event) error { return errors.New("sink down") })
	engine := rosca.NewEngine(memory.New(), rosca.WithEventSink(sink))
	ctx := context.Background()

	id, err := engine.CreateGroup(ctx, "a", amount, week, 2, t0)
	require.NoError(t, err)
	require.NoError(t, engine.JoinGroup(ctx, id, "b"))
	status, err := engine.GetGroupStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rosca.StatusActive, status)
}
