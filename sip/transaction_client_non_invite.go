package sip

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/siptx/internal/timeutil"
)

// NonInviteClientTransaction is the UAC non-INVITE transaction FSM of RFC
// 3261 §17.1.2: Trying and Proceeding share the same retransmit timer (E) and
// give-up timer (F); Completed just waits out timer K to absorb duplicate
// final responses before terminating.
type NonInviteClientTransaction struct {
	*clientTransact

	tmrE *atomicTimer // request retransmit (unreliable transport only)
	tmrF *atomicTimer // give-up timeout
	tmrK *atomicTimer // final-response retransmit absorption
}

func NewNonInviteClientTransaction(
	ctx context.Context,
	req *OutboundRequestEnvelope,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (*NonInviteClientTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if mtd := req.Method(); mtd.Equal(RequestMethodInvite) || mtd.Equal(RequestMethodAck) {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	tx := newNonInviteClientTransaction()
	clnTx, err := newClientTransact(TransactionTypeClientNonInvite, tx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.clientTransact = clnTx

	ctx = ContextWithTransaction(ctx, tx)

	if err := tx.initFSM(TransactionStateTrying); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := tx.actTrying(ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

func newNonInviteClientTransaction() *NonInviteClientTransaction {
	return &NonInviteClientTransaction{
		tmrE: &atomicTimer{name: "timer E"},
		tmrF: &atomicTimer{name: "timer F"},
		tmrK: &atomicTimer{name: "timer K"},
	}
}

const (
	txEvtTimerE = "timer_e"
	txEvtTimerF = "timer_f"
	txEvtTimerK = "timer_k"
)

func (tx *NonInviteClientTransaction) initFSM(start TransactionState) error {
	if err := tx.clientTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	tx.fsm.Configure(TransactionStateTrying).
		InternalTransition(txEvtTimerE, tx.actSendReq).
		Permit(txEvtRecv1xx, TransactionStateProceeding).
		Permit(txEvtRecv2xx, TransactionStateCompleted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimerF, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntry(tx.actProceeding).
		OnEntryFrom(txEvtRecv1xx, tx.actPassRes).
		InternalTransition(txEvtTimerE, tx.actSendReq).
		InternalTransition(txEvtRecv1xx, tx.actPassRes).
		Permit(txEvtRecv2xx, TransactionStateCompleted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimerF, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntry(tx.actCompleted).
		OnEntryFrom(txEvtRecv2xx, tx.actPassRes).
		OnEntryFrom(txEvtRecv300699, tx.actPassRes).
		Permit(txEvtTimerK, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtTimerF, tx.actTimedOut).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		InternalTransition(txEvtTerminate, tx.actNoop)

	return nil
}

func (tx *NonInviteClientTransaction) actTrying(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction trying", slog.Any("transaction", tx))

	if err := tx.sendReq(ctx, tx.req); err != nil {
		return errtrace.Wrap(err)
	}

	if !tx.tp.Reliable() {
		tx.tmrE.start(tx.clientTransact, ctx, tx.timings.TimeE(), tx.fireTimerE(ctx))
	}
	tx.tmrF.start(tx.clientTransact, ctx, tx.timings.TimeF(), tx.fireTimerF(ctx))

	return nil
}

// fireTimerE returns the Timer E callback. While Trying, the interval
// doubles (capped at T2) each retransmit per RFC 3261 §17.1.2.2; once in
// Proceeding it holds steady at T2, since the peer has already acknowledged
// the request exists and is just slow to finish processing it.
func (tx *NonInviteClientTransaction) fireTimerE(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer E expired", slog.Any("transaction", tx))

		switch tx.State() {
		case TransactionStateTrying, TransactionStateProceeding:
		default:
			tx.tmrE.clear()
			return
		}

		if err := tx.fsm.FireCtx(ctx, txEvtTimerE); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerE, tx.State(), err))
		}

		tmr := tx.tmrE.load()
		if tmr == nil {
			return
		}
		dur := tx.timings.T2()
		if tx.State() == TransactionStateTrying {
			dur = min(2*tmr.Duration(), dur)
		}
		tmr.Reset(dur)

		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer E reset",
			slog.Any("transaction", tx),
			slog.Time("expires_at", time.Now().Add(tmr.Left())),
		)
	}
}

func (tx *NonInviteClientTransaction) fireTimerF(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer F expired", slog.Any("transaction", tx))
		tx.tmrF.clear()

		switch tx.State() {
		case TransactionStateTrying, TransactionStateProceeding:
		default:
			return
		}

		if err := tx.fsm.FireCtx(ctx, txEvtTimerF); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerF, tx.State(), err))
		}
	}
}

func (tx *NonInviteClientTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.clientTransact.actCompleted(ctx, args...) //nolint:errcheck
	tx.tmrE.stop(tx.clientTransact, ctx)
	tx.tmrF.stop(tx.clientTransact, ctx)
	tx.tmrK.start(tx.clientTransact, ctx, tx.timings.TimeK(), tx.fireTimerK(ctx))
	return nil
}

func (tx *NonInviteClientTransaction) fireTimerK(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer K expired", slog.Any("transaction", tx))
		tx.tmrK.clear()

		if tx.State() != TransactionStateCompleted {
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimerK); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerK, tx.State(), err))
		}
	}
}

func (tx *NonInviteClientTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.clientTransact.actTerminated(ctx, args...) //nolint:errcheck
	tx.tmrE.stop(tx.clientTransact, ctx)
	tx.tmrF.stop(tx.clientTransact, ctx)
	tx.tmrK.stop(tx.clientTransact, ctx)
	return nil
}

func (tx *NonInviteClientTransaction) takeSnapshot() *ClientTransactionSnapshot {
	return &ClientTransactionSnapshot{
		Time:         time.Now(),
		Type:         tx.typ,
		State:        tx.State(),
		Key:          tx.key,
		Request:      tx.req,
		LastResponse: tx.LastResponse(),
		SendOptions:  cloneSendReqOpts(tx.sendOpts),
		Timings:      tx.timings,
		TimerE:       tx.tmrE.load().Snapshot(),
		TimerF:       tx.tmrF.load().Snapshot(),
		TimerK:       tx.tmrK.load().Snapshot(),
	}
}

// RestoreNonInviteClientTransaction rebuilds a non-INVITE client transaction
// from a snapshot taken by [NonInviteClientTransaction.Snapshot].
func RestoreNonInviteClientTransaction(
	ctx context.Context,
	snap *ClientTransactionSnapshot,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (*NonInviteClientTransaction, error) {
	if !snap.IsValid() || snap.Type != TransactionTypeClientNonInvite {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid snapshot"))
	}

	var restoreOpts ClientTransactionOptions
	if opts != nil {
		restoreOpts = *opts
	}
	restoreOpts.Key = snap.Key
	restoreOpts.SendOptions = cloneSendReqOpts(snap.SendOptions)
	restoreOpts.Timings = snap.Timings

	tx := newNonInviteClientTransaction()
	clnTx, err := newClientTransact(TransactionTypeClientNonInvite, tx, snap.Request, tp, &restoreOpts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.clientTransact = clnTx

	ctx = ContextWithTransaction(ctx, tx)

	if snap.LastResponse != nil {
		tx.lastRes.Store(snap.LastResponse)
	}

	if err := tx.initFSM(snap.State); err != nil {
		return nil, errtrace.Wrap(err)
	}

	tx.restoreTimers(ctx, snap)

	return tx, nil
}

func (tx *NonInviteClientTransaction) restoreTimers(ctx context.Context, snap *ClientTransactionSnapshot) {
	restore := func(t *atomicTimer, saved *timeutil.TimerSnapshot, fire func() func()) {
		if saved == nil {
			return
		}
		restored := timeutil.RestoreTimer(saved)
		restored.SetCallback(fire())
		t.ptr.Store(restored)
	}

	restore(tx.tmrE, snap.TimerE, func() func() { return tx.fireTimerE(ctx) })
	restore(tx.tmrF, snap.TimerF, func() func() { return tx.fireTimerF(ctx) })
	restore(tx.tmrK, snap.TimerK, func() func() { return tx.fireTimerK(ctx) })
}
