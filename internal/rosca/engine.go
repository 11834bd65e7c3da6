package rosca

import (
	"context"
	"errors"
	"log/slog"

	"rotasave.org/internal/ids"
)

// DefaultCurrency is used in transfer instructions unless overridden.
const DefaultCurrency = "SAV"

// Engine applies group operations against a Store. Every mutating operation
// is one Store.Update scoped to the group's key: load, validate, mutate,
// transfer, persist. Events are emitted only after the step commits.
type Engine struct {
	store     Store
	transfers Transferer
	sink      EventSink
	emitter   *EventEmitter
	policy    AdvancePolicy
	currency  string
	logger    *slog.Logger
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransferer delegates fund movement to t. Without one the engine only
// keeps books.
func WithTransferer(t Transferer) Option {
	return func(e *Engine) { e.transfers = t }
}

// WithEventSink sets where events go.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithAdvancePolicy sets the rule deciding whether a cycle may close.
func WithAdvancePolicy(p AdvancePolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithCurrency sets the currency of transfer instructions.
func WithCurrency(c string) Option {
	return func(e *Engine) {
		if c != "" {
			e.currency = c
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithIDGenerator overrides how event ids are produced.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) {
		if f != nil {
			e.newID = f
		}
	}
}

// NewEngine builds an engine persisting through store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		policy:   AllowPartialContributions,
		currency: DefaultCurrency,
		logger:   slog.Default(),
		newID:    ids.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.emitter = NewEventEmitter(e.sink, e.newID)
	return e
}

// CreateGroup creates a group under the next free id from the group sequence.
func (e *Engine) CreateGroup(ctx context.Context, creator Principal, contributionAmount int64, cycleDurationSeconds uint64, maxMembers uint32, createdAt int64) (uint64, error) {
	return e.createGroup(ctx, nil, creator, contributionAmount, cycleDurationSeconds, maxMembers, createdAt)
}

// CreateGroupWithID creates a group under a caller-chosen id.
func (e *Engine) CreateGroupWithID(ctx context.Context, id uint64, creator Principal, contributionAmount int64, cycleDurationSeconds uint64, maxMembers uint32, createdAt int64) error {
	_, err := e.createGroup(ctx, &id, creator, contributionAmount, cycleDurationSeconds, maxMembers, createdAt)
	return err
}

func (e *Engine) createGroup(ctx context.Context, want *uint64, creator Principal, contributionAmount int64, cycleDurationSeconds uint64, maxMembers uint32, createdAt int64) (uint64, error) {
	// Reject bad configuration before touching the store.
	if _, err := NewGroup(0, creator, contributionAmount, cycleDurationSeconds, maxMembers, createdAt); err != nil {
		return 0, err
	}

	var g *Group
	seqKey := GroupSequenceKey()
	err := e.store.Update(ctx, seqKey.Bytes(), func(tx Tx) error {
		var seq uint64
		if _, err := getRecord(ctx, tx, seqKey, &seq); err != nil {
			return err
		}

		var id uint64
		if want != nil {
			id = *want
			taken, err := exists(ctx, tx, GroupDataKey(id))
			if err != nil {
				return err
			}
			if taken {
				return newError(CodeGroupExists, "group %d already exists", id)
			}
		} else {
			id = seq
			for {
				id++
				taken, err := exists(ctx, tx, GroupDataKey(id))
				if err != nil {
					return err
				}
				if !taken {
					break
				}
			}
		}

		var err error
		g, err = NewGroup(id, creator, contributionAmount, cycleDurationSeconds, maxMembers, createdAt)
		if err != nil {
			return err
		}
		if err := putRecord(ctx, tx, GroupDataKey(id), g); err != nil {
			return err
		}
		if id > seq {
			return putRecord(ctx, tx, seqKey, id)
		}
		return nil
	})
	if err != nil {
		return 0, e.fail(ctx, "create_group", 0, err)
	}

	e.emit(ctx, "create_group", Event{
		Kind:      EventGroupCreated,
		GroupID:   g.ID,
		Member:    g.Creator,
		Amount:    g.ContributionAmount,
		Timestamp: g.CreatedAt,
	})
	return g.ID, nil
}

// JoinGroup appends member to the group's rotation.
func (e *Engine) JoinGroup(ctx context.Context, groupID uint64, member Principal) error {
	_, err := e.mutate(ctx, "join_group", groupID, func(tx Tx, g *Group, _ *step) (Event, error) {
		return g.Join(member)
	})
	return err
}

// Contribute records member's contribution for the group's current cycle.
func (e *Engine) Contribute(ctx context.Context, groupID uint64, member Principal, amount int64, timestamp int64) (ContributionRecord, error) {
	var rec ContributionRecord
	_, err := e.mutate(ctx, "contribute", groupID, func(tx Tx, g *Group, st *step) (Event, error) {
		var (
			evt Event
			err error
		)
		rec, evt, err = g.RecordContribution(member, amount, timestamp)
		if err != nil {
			return Event{}, err
		}
		key := rec.Key()
		taken, err := exists(ctx, tx, key)
		if err != nil {
			return Event{}, err
		}
		if taken {
			return Event{}, newError(CodeDuplicateContribution, "%s already recorded", key)
		}
		st.record = key
		if err := e.transfer(ctx, st, TransferInstruction{
			From:           member,
			To:             PoolAccount(groupID),
			Amount:         amount,
			IdempotencyKey: key.String(),
		}); err != nil {
			return Event{}, err
		}
		return evt, putRecord(ctx, tx, key, rec)
	})
	if err != nil {
		return ContributionRecord{}, err
	}
	return rec, nil
}

// AdvanceCycle closes the current cycle, books its payout and instructs the
// pool-to-recipient transfer. timestamp is the caller's notion of now.
func (e *Engine) AdvanceCycle(ctx context.Context, groupID uint64, timestamp int64) (PayoutRecord, error) {
	var payout PayoutRecord
	_, err := e.mutate(ctx, "advance_cycle", groupID, func(tx Tx, g *Group, st *step) (Event, error) {
		before := *g.Clone()
		var (
			evt Event
			err error
		)
		payout, evt, err = g.AdvanceCycle(timestamp)
		if err != nil {
			return Event{}, err
		}
		if err := e.policy(before, before.ContributionsComplete()); err != nil {
			return Event{}, err
		}
		key := payout.Key()
		taken, err := exists(ctx, tx, key)
		if err != nil {
			return Event{}, err
		}
		if taken {
			return Event{}, newError(CodeAlreadyComplete, "%s already recorded", key)
		}
		st.record = key
		if err := e.transfer(ctx, st, TransferInstruction{
			From:           PoolAccount(groupID),
			To:             payout.Recipient,
			Amount:         payout.Amount,
			IdempotencyKey: key.String(),
		}); err != nil {
			return Event{}, err
		}
		return evt, putRecord(ctx, tx, key, payout)
	})
	if err != nil {
		return PayoutRecord{}, err
	}
	return payout, nil
}

// CancelGroup aborts the group on behalf of by, who must be its creator.
func (e *Engine) CancelGroup(ctx context.Context, groupID uint64, by Principal, timestamp int64) error {
	_, err := e.mutate(ctx, "cancel_group", groupID, func(tx Tx, g *Group, _ *step) (Event, error) {
		return g.Cancel(by, timestamp)
	})
	return err
}

// GetGroup returns a snapshot of the group.
func (e *Engine) GetGroup(ctx context.Context, groupID uint64) (Group, error) {
	var out Group
	err := e.store.View(ctx, func(tx Tx) error {
		g, err := loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		out = *g
		return nil
	})
	if err != nil {
		return Group{}, asEngineError(err, "get group %d", groupID)
	}
	return out, nil
}

// GetCurrentCycle returns the zero-based cycle in progress.
func (e *Engine) GetCurrentCycle(ctx context.Context, groupID uint64) (uint32, error) {
	g, err := e.GetGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return g.CurrentCycleNumber(), nil
}

// GetGroupStatus returns the lifecycle status of the group.
func (e *Engine) GetGroupStatus(ctx context.Context, groupID uint64) (Status, error) {
	g, err := e.GetGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return g.Status, nil
}

// GetContribution looks up one member's contribution for one cycle.
func (e *Engine) GetContribution(ctx context.Context, groupID uint64, cycle uint32, member Principal) (ContributionRecord, error) {
	var rec ContributionRecord
	err := e.store.View(ctx, func(tx Tx) error {
		if _, err := loadGroup(ctx, tx, groupID); err != nil {
			return err
		}
		ok, err := getRecord(ctx, tx, ContributionKey(groupID, cycle, member), &rec)
		if err != nil {
			return err
		}
		if !ok {
			return newError(CodeContributionNotFound, "%s", ContributionKey(groupID, cycle, member))
		}
		return nil
	})
	if err != nil {
		return ContributionRecord{}, asEngineError(err, "get contribution")
	}
	return rec, nil
}

// GetPayout looks up the payout of one cycle.
func (e *Engine) GetPayout(ctx context.Context, groupID uint64, cycle uint32) (PayoutRecord, error) {
	var rec PayoutRecord
	err := e.store.View(ctx, func(tx Tx) error {
		if _, err := loadGroup(ctx, tx, groupID); err != nil {
			return err
		}
		ok, err := getRecord(ctx, tx, PayoutKey(groupID, cycle), &rec)
		if err != nil {
			return err
		}
		if !ok {
			return newError(CodePayoutNotFound, "%s", PayoutKey(groupID, cycle))
		}
		return nil
	})
	if err != nil {
		return PayoutRecord{}, asEngineError(err, "get payout")
	}
	return rec, nil
}

// ListPayouts returns the payouts of every closed cycle in cycle order.
func (e *Engine) ListPayouts(ctx context.Context, groupID uint64) ([]PayoutRecord, error) {
	var out []PayoutRecord
	err := e.store.View(ctx, func(tx Tx) error {
		g, err := loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		out = make([]PayoutRecord, 0, g.CurrentCycle)
		for c := uint32(0); c < g.CurrentCycle; c++ {
			var rec PayoutRecord
			ok, err := getRecord(ctx, tx, PayoutKey(groupID, c), &rec)
			if err != nil {
				return err
			}
			if !ok {
				return newError(CodePayoutNotFound, "%s", PayoutKey(groupID, c))
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, asEngineError(err, "list payouts")
	}
	return out, nil
}

// ContributionsCompleteForCycle reports whether every member has a
// contribution record for cycle. Closing a cycle does not require this; the
// configured AdvancePolicy decides.
func (e *Engine) ContributionsCompleteForCycle(ctx context.Context, groupID uint64, cycle uint32) (bool, error) {
	complete := true
	err := e.store.View(ctx, func(tx Tx) error {
		g, err := loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if cycle >= g.MaxMembers {
			return newError(CodeInvalidCycle, "group %d has no cycle %d", groupID, cycle)
		}
		for _, m := range g.Members {
			ok, err := exists(ctx, tx, ContributionKey(groupID, cycle, m))
			if err != nil {
				return err
			}
			if !ok {
				complete = false
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, asEngineError(err, "contributions for cycle %d", cycle)
	}
	return complete, nil
}

// step records what a mutation did outside the store: the record key that
// proves it committed and the transfers already executed.
type step struct {
	record StorageKey
	moved  []TransferInstruction
}

func (e *Engine) mutate(ctx context.Context, op string, groupID uint64, fn func(tx Tx, g *Group, st *step) (Event, error)) (Event, error) {
	var (
		evt Event
		st  step
	)
	key := GroupDataKey(groupID)
	err := e.store.Update(ctx, key.Bytes(), func(tx Tx) error {
		current, err := loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		next := current.Clone()
		evt, err = fn(tx, next, &st)
		if err != nil {
			return err
		}
		return putRecord(ctx, tx, key, next)
	})
	if err != nil && len(st.moved) > 0 {
		committed, uerr := e.unwind(ctx, op, &st)
		if committed {
			return e.emit(ctx, op, evt), nil
		}
		err = errors.Join(err, uerr)
	}
	if err != nil {
		return Event{}, e.fail(ctx, op, groupID, err)
	}
	return e.emit(ctx, op, evt), nil
}

func (e *Engine) transfer(ctx context.Context, st *step, in TransferInstruction) error {
	if e.transfers == nil {
		return nil
	}
	if in.Currency == "" {
		in.Currency = e.currency
	}
	if err := e.transfers.Transfer(ctx, in); err != nil {
		code := CodeTransferFailed
		if errors.Is(err, ErrTransferRejected) {
			code = CodeTransferRejected
		}
		return wrapError(code, err, "%s -> %s (%s)", in.From, in.To, in.IdempotencyKey)
	}
	st.moved = append(st.moved, in)
	return nil
}

// unwind runs after a step that moved funds failed to commit. A step whose
// record is in the store did commit and is reported as such; otherwise its
// transfers are reversed, newest first. Cancellation of the caller does not
// stop the unwind.
func (e *Engine) unwind(ctx context.Context, op string, st *step) (committed bool, err error) {
	ctx = context.WithoutCancel(ctx)
	err = e.store.View(ctx, func(tx Tx) error {
		var verr error
		committed, verr = exists(ctx, tx, st.record)
		return verr
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "transfers left in place, commit state unknown", "op", op, "record", st.record.String(), "error", err)
		return false, wrapError(CodeStorage, err, "check %s after failed commit", st.record)
	}
	if committed {
		e.logger.WarnContext(ctx, "step committed despite store error", "op", op, "record", st.record.String())
		return true, nil
	}

	var errs []error
	for i := len(st.moved) - 1; i >= 0; i-- {
		in := st.moved[i]
		if rerr := e.reverse(ctx, in); rerr != nil {
			e.logger.ErrorContext(ctx, "transfer reversal failed", "op", op, "idempotency_key", in.IdempotencyKey, "amount", in.Amount, "error", rerr)
			errs = append(errs, wrapError(CodeTransferFailed, rerr, "reverse %s", in.IdempotencyKey))
			continue
		}
		e.logger.WarnContext(ctx, "transfer reversed", "op", op, "idempotency_key", in.IdempotencyKey, "amount", in.Amount)
	}
	return false, errors.Join(errs...)
}

func (e *Engine) reverse(ctx context.Context, in TransferInstruction) error {
	if r, ok := e.transfers.(Reverser); ok {
		return r.Reverse(ctx, in)
	}
	return e.transfers.Transfer(ctx, TransferInstruction{
		From:           in.To,
		To:             in.From,
		Amount:         in.Amount,
		Currency:       in.Currency,
		IdempotencyKey: ReversalKey(in.IdempotencyKey),
	})
}

func (e *Engine) emit(ctx context.Context, op string, evt Event) Event {
	out, err := e.emitter.Emit(ctx, evt)
	if err != nil {
		// The mutation is committed; delivery problems belong to the sink.
		e.logger.ErrorContext(ctx, "event delivery failed", "op", op, "event", out.Kind, "group_id", out.GroupID, "error", err)
	}
	e.logger.DebugContext(ctx, "group mutated", "op", op, "event", out.Kind, "event_id", out.ID, "group_id", out.GroupID, "cycle", out.Cycle)
	return out
}

func (e *Engine) fail(ctx context.Context, op string, groupID uint64, err error) error {
	err = asEngineError(err, "%s group %d", op, groupID)
	if CategoryOf(err) == CategoryInternal {
		e.logger.ErrorContext(ctx, "operation failed", "op", op, "group_id", groupID, "error", err)
	}
	return err
}

// asEngineError leaves *Error values alone and wraps anything else as a
// storage error.
func asEngineError(err error, format string, args ...any) error {
	if CodeOf(err) != "" {
		return err
	}
	return wrapError(CodeStorage, err, format, args...)
}
