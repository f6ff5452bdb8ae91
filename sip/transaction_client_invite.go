package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/siptx/header"
	"github.com/sipstack/siptx/internal/timeutil"
)

// InviteClientTransaction is the UAC INVITE transaction FSM of RFC 3261
// §17.1.1, including the RFC 6026 patch that adds an Accepted state so a late
// 2xx retransmit on a forked branch doesn't fall through to Terminated.
type InviteClientTransaction struct {
	*clientTransact

	tmrA *atomicTimer // request retransmit (unreliable transport only)
	tmrB *atomicTimer // give-up timeout
	tmrD *atomicTimer // final-response retransmit absorption
	tmrM *atomicTimer // RFC 6026 2xx retransmit absorption

	ack atomic.Pointer[OutboundRequestEnvelope]
}

// atomicTimer is a named, lock-free slot for one of a transaction's pending
// timers: only one instance of a given timer is ever outstanding, so a
// compare-and-swap pointer is all the coordination it needs.
type atomicTimer struct {
	name string
	ptr  atomic.Pointer[timeutil.SerializableTimer]
}

func (t *atomicTimer) start(tx *clientTransact, ctx context.Context, d time.Duration, fire func()) {
	tmr := timeutil.AfterFunc(d, fire)
	t.ptr.Store(tmr)
	tx.log.LogAttrs(ctx, slog.LevelDebug, t.name+" started",
		slog.Any("transaction", tx.impl),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)
}

func (t *atomicTimer) stop(tx *clientTransact, ctx context.Context) {
	if tmr := t.ptr.Swap(nil); tmr != nil && tmr.Stop() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, t.name+" stopped", slog.Any("transaction", tx.impl))
	}
}

func (t *atomicTimer) clear() { t.ptr.Store(nil) }
func (t *atomicTimer) load() *timeutil.SerializableTimer { return t.ptr.Load() }

// NewInviteClientTransaction creates and starts an INVITE client transaction
// for req, which must already be a valid INVITE. ctx is only used to seed the
// initial FSM actions; it has no bearing on the transaction's lifetime. opts
// may be nil to accept every default.
func NewInviteClientTransaction(
	ctx context.Context,
	req *OutboundRequestEnvelope,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (*InviteClientTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if !req.Method().Equal(RequestMethodInvite) {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	tx := newInviteClientTransaction()
	clnTx, err := newClientTransact(TransactionTypeClientInvite, tx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.clientTransact = clnTx

	ctx = ContextWithTransaction(ctx, tx)

	if err := tx.initFSM(TransactionStateCalling); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := tx.actCalling(ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

func newInviteClientTransaction() *InviteClientTransaction {
	return &InviteClientTransaction{
		tmrA: &atomicTimer{name: "timer A"},
		tmrB: &atomicTimer{name: "timer B"},
		tmrD: &atomicTimer{name: "timer D"},
		tmrM: &atomicTimer{name: "timer M"},
	}
}

const (
	txEvtTimerA = "timer_a"
	txEvtTimerB = "timer_b"
	txEvtTimerD = "timer_d"
	txEvtTimerM = "timer_m"
)

func (tx *InviteClientTransaction) initFSM(start TransactionState) error {
	if err := tx.clientTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	tx.fsm.Configure(TransactionStateCalling).
		InternalTransition(txEvtTimerA, tx.actSendReq).
		Permit(txEvtRecv1xx, TransactionStateProceeding).
		Permit(txEvtRecv2xx, TransactionStateAccepted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimerB, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntry(tx.actProceeding).
		OnEntryFrom(txEvtRecv1xx, tx.actPassRes).
		InternalTransition(txEvtRecv1xx, tx.actPassRes).
		Permit(txEvtRecv2xx, TransactionStateAccepted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntry(tx.actCompleted).
		OnEntryFrom(txEvtRecv300699, tx.actPassResSendAck).
		InternalTransition(txEvtRecv300699, tx.actSendAck).
		Permit(txEvtTimerD, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateAccepted).
		OnEntry(tx.actAccepted).
		OnEntryFrom(txEvtRecv2xx, tx.actPassRes).
		InternalTransition(txEvtRecv2xx, tx.actPassRes).
		Permit(txEvtTimerM, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtTimerB, tx.actTimedOut).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		InternalTransition(txEvtTerminate, tx.actNoop)

	return nil
}

func (tx *InviteClientTransaction) actPassResSendAck(ctx context.Context, args ...any) error {
	tx.actPassRes(ctx, args...) //nolint:errcheck
	tx.actSendAck(ctx, args...) //nolint:errcheck
	return nil
}

// actSendAck builds (once) and (re)sends the ACK for a non-2xx final
// response, per RFC 3261 §17.1.1.3: same branch and Call-ID as the original
// INVITE, To taken from the response that triggered it.
func (tx *InviteClientTransaction) actSendAck(ctx context.Context, _ ...any) error {
	ack := tx.ack.Load()
	if ack == nil {
		ack = tx.buildAck()
		tx.ack.Store(ack)
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send request",
		slog.Any("transaction", tx.impl),
		slog.Any("request", ack),
	)

	tx.sendReq(ctx, ack) //nolint:errcheck
	return nil
}

func (tx *InviteClientTransaction) buildAck() *OutboundRequestEnvelope {
	ack := tx.req.Clone().(*OutboundRequestEnvelope) //nolint:forcetypeassert
	ack.message().Method = RequestMethodAck

	via, _ := ack.message().Headers.FirstVia()
	ack.message().Headers.Set(header.Via{*via})

	cseq, _ := ack.message().Headers.CSeq()
	cseq.Method = RequestMethodAck

	to, _ := tx.LastResponse().Headers().To()
	ack.message().Headers.Set(to)

	ack.message().Headers.Set(header.MaxForwards(70))
	return ack
}

func (tx *InviteClientTransaction) actCalling(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction calling", slog.Any("transaction", tx))

	if err := tx.sendReq(ctx, tx.req); err != nil {
		return errtrace.Wrap(err)
	}

	if !tx.tp.Reliable() {
		tx.tmrA.start(tx.clientTransact, ctx, tx.timings.TimeA(), tx.fireTimerA(ctx))
	}
	tx.tmrB.start(tx.clientTransact, ctx, tx.timings.TimeB(), tx.fireTimerB(ctx))

	return nil
}

// fireTimerA returns the callback for a Timer A tick: log, fire the
// retransmit trigger if still Calling, then double the interval per RFC 3261
// §17.1.1.2's exponential backoff, capped at T2.
func (tx *InviteClientTransaction) fireTimerA(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer A expired", slog.Any("transaction", tx))

		if tx.State() != TransactionStateCalling {
			tx.tmrA.clear()
			return
		}

		if err := tx.fsm.FireCtx(ctx, txEvtTimerA); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerA, tx.State(), err))
		}

		if tmr := tx.tmrA.load(); tmr != nil {
			tmr.Reset(min(2*tmr.Duration(), tx.timings.T2()))
			tx.log.LogAttrs(ctx, slog.LevelDebug, "timer A reset",
				slog.Any("transaction", tx),
				slog.Time("expires_at", time.Now().Add(tmr.Left())),
			)
		}
	}
}

func (tx *InviteClientTransaction) fireTimerB(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer B expired", slog.Any("transaction", tx))
		tx.tmrB.clear()

		if tx.State() != TransactionStateCalling {
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimerB); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerB, tx.State(), err))
		}
	}
}

func (tx *InviteClientTransaction) actProceeding(ctx context.Context, args ...any) error {
	tx.clientTransact.actProceeding(ctx, args...) //nolint:errcheck
	tx.tmrA.stop(tx.clientTransact, ctx)
	tx.tmrB.stop(tx.clientTransact, ctx)
	return nil
}

func (tx *InviteClientTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.clientTransact.actCompleted(ctx, args...) //nolint:errcheck
	tx.tmrA.stop(tx.clientTransact, ctx)
	tx.tmrB.stop(tx.clientTransact, ctx)
	tx.tmrD.start(tx.clientTransact, ctx, tx.timings.TimeD(), tx.fireTimerD(ctx))
	return nil
}

func (tx *InviteClientTransaction) fireTimerD(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer D expired", slog.Any("transaction", tx))
		tx.tmrD.clear()

		if tx.State() != TransactionStateCompleted {
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimerD); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerD, tx.State(), err))
		}
	}
}

func (tx *InviteClientTransaction) actAccepted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction accepted", slog.Any("transaction", tx))
	tx.tmrA.stop(tx.clientTransact, ctx)
	tx.tmrB.stop(tx.clientTransact, ctx)
	tx.tmrM.start(tx.clientTransact, ctx, tx.timings.TimeM(), tx.fireTimerM(ctx))
	return nil
}

func (tx *InviteClientTransaction) fireTimerM(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer M expired", slog.Any("transaction", tx))
		tx.tmrM.clear()

		if tx.State() != TransactionStateAccepted {
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimerM); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerM, tx.State(), err))
		}
	}
}

func (tx *InviteClientTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.clientTransact.actTerminated(ctx, args...) //nolint:errcheck
	tx.tmrA.stop(tx.clientTransact, ctx)
	tx.tmrB.stop(tx.clientTransact, ctx)
	tx.tmrD.stop(tx.clientTransact, ctx)
	tx.tmrM.stop(tx.clientTransact, ctx)
	return nil
}

func (tx *InviteClientTransaction) takeSnapshot() *ClientTransactionSnapshot {
	return &ClientTransactionSnapshot{
		Time:         time.Now(),
		Type:         tx.typ,
		State:        tx.State(),
		Key:          tx.key,
		Request:      tx.req,
		LastResponse: tx.LastResponse(),
		SendOptions:  cloneSendReqOpts(tx.sendOpts),
		Timings:      tx.timings,
		TimerA:       tx.tmrA.load().Snapshot(),
		TimerB:       tx.tmrB.load().Snapshot(),
		TimerD:       tx.tmrD.load().Snapshot(),
		TimerM:       tx.tmrM.load().Snapshot(),
	}
}

// RestoreInviteClientTransaction rebuilds an INVITE client transaction from a
// snapshot taken by [InviteClientTransaction.Snapshot], resuming whatever
// timers were pending at the time it was taken.
func RestoreInviteClientTransaction(
	ctx context.Context,
	snap *ClientTransactionSnapshot,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (*InviteClientTransaction, error) {
	if !snap.IsValid() || snap.Type != TransactionTypeClientInvite {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid snapshot"))
	}

	var restoreOpts ClientTransactionOptions
	if opts != nil {
		restoreOpts = *opts
	}
	restoreOpts.Key = snap.Key
	restoreOpts.SendOptions = cloneSendReqOpts(snap.SendOptions)
	restoreOpts.Timings = snap.Timings

	tx := newInviteClientTransaction()
	clnTx, err := newClientTransact(TransactionTypeClientInvite, tx, snap.Request, tp, &restoreOpts)
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

func (tx *InviteClientTransaction) restoreTimers(ctx context.Context, snap *ClientTransactionSnapshot) {
	restore := func(t *atomicTimer, saved *timeutil.TimerSnapshot, fire func() func()) {
		if saved == nil {
			return
		}
		restored := timeutil.RestoreTimer(saved)
		restored.SetCallback(fire())
		t.ptr.Store(restored)
	}

	restore(tx.tmrA, snap.TimerA, func() func() { return tx.fireTimerA(ctx) })
	restore(tx.tmrB, snap.TimerB, func() func() { return tx.fireTimerB(ctx) })
	restore(tx.tmrD, snap.TimerD, func() func() { return tx.fireTimerD(ctx) })
	restore(tx.tmrM, snap.TimerM, func() func() { return tx.fireTimerM(ctx) })
}
