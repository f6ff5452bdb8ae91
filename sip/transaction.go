package sip

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/sipstack/siptx/internal/types"
)

// TransactionType distinguishes the four transaction flavours defined by
// RFC 3261 §17: client/server, INVITE/non-INVITE.
type TransactionType string

const (
	TransactionTypeClientInvite    TransactionType = "client_invite"
	TransactionTypeClientNonInvite TransactionType = "client_non_invite"
	TransactionTypeServerInvite    TransactionType = "server_invite"
	TransactionTypeServerNonInvite TransactionType = "server_non_invite"
)

// TransactionState names a node of one of the four state machines in RFC 3261
// §17.1.1 (INVITE client), §17.1.2 (non-INVITE client), §17.2.1 (INVITE
// server) and §17.2.2 (non-INVITE server). Not every state applies to every
// flavour; see the flavour-specific FSM wiring for which ones a given
// transaction type actually visits.
type TransactionState string

const (
	TransactionStateCalling    TransactionState = "calling"
	TransactionStateTrying     TransactionState = "trying"
	TransactionStateProceeding TransactionState = "proceeding"
	TransactionStateAccepted   TransactionState = "accepted"
	TransactionStateCompleted  TransactionState = "completed"
	TransactionStateConfirmed  TransactionState = "confirmed"
	TransactionStateTerminated TransactionState = "terminated"
)

// Transaction is the behaviour shared by [ClientTransaction] and
// [ServerTransaction]: every SIP transaction has a flavour, sits in some
// state of its FSM, can be watched for state changes, can be force-closed,
// and knows whether an arbitrary message belongs to it.
type Transaction interface {
	// Type reports the transaction's flavour.
	Type() TransactionType
	// State reports the transaction's current FSM state.
	State() TransactionState
	// OnStateChanged registers fn to run synchronously on every state
	// transition, including the terminal one. Call the returned func to
	// unregister it.
	OnStateChanged(fn TransactionStateHandler) (unbind func())
	// Terminate drives the transaction directly to [TransactionStateTerminated],
	// stopping any timers still pending. Calling it on an already-terminated
	// transaction is a no-op.
	Terminate(ctx context.Context) error
	// MatchMessage reports whether msg belongs to this transaction, per the
	// matching rules of RFC 3261 §17.1.3 (client side) or §17.2.3 (server side).
	MatchMessage(msg Message) bool
}

// transactImpl is the narrow view of a transaction that the base FSM plumbing
// and the context helpers need; both clientTransactImpl and serverTransactImpl
// extend it with their direction-specific surface.
type transactImpl interface {
	MatchMessage(msg Message) bool
}

const txCtxKey types.ContextKey = "transaction"

// ContextWithTransaction returns a copy of ctx carrying tx, retrievable
// through [TransactionFromContext]. The transaction layer stamps this onto
// every context an action or a received-message callback runs with.
func ContextWithTransaction(ctx context.Context, tx transactImpl) context.Context {
	return context.WithValue(ctx, txCtxKey, tx)
}

// TransactionFromContext returns the transaction carried by ctx, if any.
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(txCtxKey).(Transaction)
	return tx, ok
}

// Events common to every transaction flavour. Flavour-specific files define
// their own additional trigger names (timers, recv/send events) alongside
// these.
const (
	txEvtTerminate = "terminate"
	txEvtTranspErr = "transport_error"
)

// baseTransact is the part of a transaction that doesn't depend on direction
// (client vs server): the [stateless.StateMachine] driving it, the state-change
// fan-out, and the handful of actions every flavour's FSM wires into its
// Terminated state. [clientTransact] and [serverTransact] each embed one and
// layer their own key, transport and message-matching logic on top.
type baseTransact struct {
	fsm  *stateless.StateMachine
	typ  TransactionType
	impl transactImpl
	log  *slog.Logger

	onState types.CallbackManager[TransactionStateHandler]
}

func newBaseTransact(typ TransactionType, impl transactImpl, logger *slog.Logger) *baseTransact {
	return &baseTransact{
		typ:  typ,
		impl: impl,
		log:  logger,
	}
}

// Type reports the transaction's flavour.
func (tx *baseTransact) Type() TransactionType {
	if tx == nil {
		return ""
	}
	return tx.typ
}

// State reports the transaction's current FSM state.
func (tx *baseTransact) State() TransactionState {
	if tx == nil || tx.fsm == nil {
		return ""
	}
	st, _ := tx.fsm.MustState().(TransactionState) //nolint:forcetypeassert
	return st
}

// OnStateChanged registers fn to run on every state transition, fired from
// the goroutine that drove the transition.
func (tx *baseTransact) OnStateChanged(fn TransactionStateHandler) (unbind func()) {
	return tx.onState.Add(fn)
}

// Terminate fires [txEvtTerminate]; every flavour permits it from every
// non-terminal state and self-loops on it once terminated, so this is safe
// to call more than once or concurrently with the FSM's own timers.
func (tx *baseTransact) Terminate(ctx context.Context) error {
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtTerminate))
}

// initFSM builds the underlying state machine starting at start and wires the
// transition hook that drives OnStateChanged callbacks. Flavour-specific
// initFSM methods call this first, then call Configure on top of it.
func (tx *baseTransact) initFSM(start TransactionState) error {
	tx.fsm = stateless.NewStateMachine(start)
	tx.fsm.OnTransitioned(func(ctx context.Context, tr stateless.Transition) {
		from, _ := tr.Source.(TransactionState)      //nolint:forcetypeassert
		to, _ := tr.Destination.(TransactionState)    //nolint:forcetypeassert
		if from == to {
			return
		}
		for fn := range tx.onState.All() {
			fn(ctx, from, to)
		}
	})
	return nil
}

// actNoop satisfies FSM transitions that exist only to keep a trigger legal
// in a given state (e.g. a redundant retransmit once past the state that
// cares about it).
func (tx *baseTransact) actNoop(_ context.Context, _ ...any) error {
	return nil
}

// actTerminated runs once, on entry into TransactionStateTerminated, for every
// flavour. Flavour-specific actTerminated methods call this first and then
// stop their own timers.
func (tx *baseTransact) actTerminated(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction terminated", slog.Any("transaction", tx.impl))
	return nil
}

// actTranspErr logs a transport failure reported by a send. Client
// transactions and the non-INVITE server transaction run it on their way to
// Terminated; the INVITE server transaction runs it as an internal
// transition and keeps its current state. The error itself was already
// reported to the caller that attempted the send; this is purely an audit
// trail.
func (tx *baseTransact) actTranspErr(ctx context.Context, args ...any) error {
	var sendErr error
	if len(args) > 0 {
		sendErr, _ = args[0].(error) //nolint:forcetypeassert
	}
	tx.log.LogAttrs(ctx, slog.LevelWarn, "transaction transport error",
		slog.Any("transaction", tx.impl),
		slog.Any("error", sendErr),
	)
	return nil
}

// actTimedOut logs that the transaction gave up waiting on its peer (timer B,
// F or H firing) rather than being torn down by [Terminate] or a transport
// error.
func (tx *baseTransact) actTimedOut(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction timed out waiting for peer", slog.Any("transaction", tx.impl))
	return nil
}
