package sip

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/siptx/internal/timeutil"
	"github.com/sipstack/siptx/internal/types"
)

// srvTimer is the server-side counterpart of [atomicTimer]: a named,
// lock-free timer slot shared by the INVITE and non-INVITE server FSMs to
// avoid repeating the same start/stop/log boilerplate five times over
// (timers 1xx, G, H, I, L).
type srvTimer struct {
	name string
	ptr  atomic.Pointer[timeutil.SerializableTimer]
}

func (t *srvTimer) start(tx *serverTransact, ctx context.Context, d time.Duration, fire func()) {
	tmr := timeutil.AfterFunc(d, fire)
	t.ptr.Store(tmr)
	tx.log.LogAttrs(ctx, slog.LevelDebug, t.name+" started",
		slog.Any("transaction", tx.impl),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)
}

func (t *srvTimer) stop(tx *serverTransact, ctx context.Context) {
	if tmr := t.ptr.Swap(nil); tmr != nil && tmr.Stop() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, t.name+" stopped", slog.Any("transaction", tx.impl))
	}
}

func (t *srvTimer) clear() { t.ptr.Store(nil) }

func (t *srvTimer) load() *timeutil.SerializableTimer { return t.ptr.Load() }

// InviteServerTransaction is the UAS INVITE transaction FSM of RFC 3261
// §17.2.1 plus the RFC 6026 patch that inserts an Accepted state between a
// 2xx response and Terminated so late retransmitted ACKs have somewhere to
// land instead of falling straight through to the transport layer.
type InviteServerTransaction struct {
	*serverTransact

	tmr1xx *srvTimer
	tmrG   *srvTimer
	tmrH   *srvTimer
	tmrI   *srvTimer
	tmrL   *srvTimer

	onAck       types.CallbackManager[AckHandler]
	pendingAcks types.Deque[pendingAck]
}

// AckHandler is invoked for an ACK matched to an [InviteServerTransaction]
// under the RFC 2543 fallback rule (a 2xx ACK is never matched this way
// under RFC 3261, where it opens its own dialog-level exchange).
type AckHandler = func(ctx context.Context, tx ServerTransaction, ack *InboundRequestEnvelope)

type pendingAck struct {
	ctx context.Context
	ack *InboundRequestEnvelope
}

// NewInviteServerTransaction opens an INVITE server transaction for req and
// immediately enters Proceeding, starting the 200ms auto-100 timer.
func NewInviteServerTransaction(
	ctx context.Context,
	req *InboundRequestEnvelope,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (*InviteServerTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if !req.Method().Equal(RequestMethodInvite) {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	tx := newInviteServerTransaction()
	srvTx, err := newServerTransact(TransactionTypeServerInvite, tx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.serverTransact = srvTx

	ctx = ContextWithTransaction(ctx, tx)

	if err := tx.initFSM(TransactionStateProceeding); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := tx.actProceeding(ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

func newInviteServerTransaction() *InviteServerTransaction {
	return &InviteServerTransaction{
		tmr1xx: &srvTimer{name: "1xx timer"},
		tmrG:   &srvTimer{name: "timer G"},
		tmrH:   &srvTimer{name: "timer H"},
		tmrI:   &srvTimer{name: "timer I"},
		tmrL:   &srvTimer{name: "timer L"},
	}
}

const (
	txEvtRecvAck  = "recv_ack"
	txEvtTimer1xx = "timer_1xx"
	txEvtTimerG   = "timer_g"
	txEvtTimerH   = "timer_h"
	txEvtTimerI   = "timer_i"
	txEvtTimerL   = "timer_l"
)

func (tx *InviteServerTransaction) initFSM(start TransactionState) error {
	if err := tx.serverTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	tx.fsm.SetTriggerParameters(txEvtRecvAck, reflect.TypeFor[*InboundRequestEnvelope]())

	tx.fsm.Configure(TransactionStateProceeding).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		InternalTransition(txEvtSend1xx, tx.actSendRes).
		InternalTransition(txEvtTimer1xx, tx.actSend100).
		InternalTransition(txEvtTranspErr, tx.actTranspErr).
		Permit(txEvtSend2xx, TransactionStateAccepted).
		Permit(txEvtSend300699, TransactionStateCompleted).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateAccepted).
		OnEntry(tx.actAccepted).
		OnEntryFrom(txEvtSend2xx, tx.actSendRes).
		InternalTransition(txEvtRecvReq, tx.actNoop).
		InternalTransition(txEvtRecvAck, tx.actPassAck).
		InternalTransition(txEvtSend2xx, tx.actSendRes).
		InternalTransition(txEvtTranspErr, tx.actTranspErr).
		Permit(txEvtTimerL, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntry(tx.actCompleted).
		OnEntryFrom(txEvtSend300699, tx.actSendRes).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		InternalTransition(txEvtTimerG, tx.actResendRes).
		InternalTransition(txEvtTranspErr, tx.actTranspErr).
		Permit(txEvtRecvAck, TransactionStateConfirmed).
		Permit(txEvtTimerH, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateConfirmed).
		OnEntry(tx.actConfirmed).
		InternalTransition(txEvtRecvReq, tx.actNoop).
		InternalTransition(txEvtRecvAck, tx.actNoop).
		Permit(txEvtTimerI, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtTimerH, tx.actTimedOut).
		InternalTransition(txEvtTerminate, tx.actNoop)

	return nil
}

// actSend100 builds and sends the automatic 100 Trying once timer 1xx fires
// without the application having sent its own provisional response (RFC
// 3261 §17.2.1 final paragraph).
func (tx *InviteServerTransaction) actSend100(ctx context.Context, _ ...any) error {
	res, err := tx.req.NewResponse(ResponseStatusTrying, nil)
	if err != nil {
		panic(fmt.Errorf("build automatic %q response: %w", ResponseStatusTrying, err))
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send response",
		slog.Any("transaction", tx), slog.Any("response", res))

	tx.sendRes(ctx, res, nil) //nolint:errcheck
	return nil
}

func (tx *InviteServerTransaction) actSendRes(ctx context.Context, args ...any) error {
	tx.tmr1xx.stop(tx.serverTransact, ctx)
	return errtrace.Wrap(tx.serverTransact.actSendRes(ctx, args...))
}

func (tx *InviteServerTransaction) actPassAck(ctx context.Context, args ...any) error {
	ack := args[0].(*InboundRequestEnvelope) //nolint:forcetypeassert

	tx.log.LogAttrs(ctx, slog.LevelDebug, "pass ACK", slog.Any("transaction", tx), slog.Any("ack", ack))

	tx.pendingAcks.Append(pendingAck{ctx, ack})
	if tx.onAck.Len() > 0 {
		tx.flushAcks()
	}
	return nil
}

func (tx *InviteServerTransaction) flushAcks() {
	acks := tx.pendingAcks.Drain()
	if len(acks) == 0 {
		return
	}
	for fn := range tx.onAck.All() {
		for _, e := range acks {
			fn(e.ctx, tx, e.ack)
		}
	}
}

//nolint:unparam
func (tx *InviteServerTransaction) actProceeding(ctx context.Context, args ...any) error {
	tx.serverTransact.actProceeding(ctx, args...) //nolint:errcheck
	tx.tmr1xx.start(tx.serverTransact, ctx, tx.timings.Time100(), tx.fireTimer1xx(ctx))
	return nil
}

func (tx *InviteServerTransaction) fireTimer1xx(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "1xx timer expired", slog.Any("transaction", tx))
		tx.tmr1xx.clear()

		if tx.State() != TransactionStateProceeding {
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimer1xx); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimer1xx, tx.State(), err))
		}
	}
}

func (tx *InviteServerTransaction) actAccepted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction accepted", slog.Any("transaction", tx))
	tx.tmrL.start(tx.serverTransact, ctx, tx.timings.TimeL(), tx.fireTimerL(ctx))
	return nil
}

func (tx *InviteServerTransaction) fireTimerL(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer L expired", slog.Any("transaction", tx))
		tx.tmrL.clear()

		if tx.State() != TransactionStateAccepted {
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimerL); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerL, tx.State(), err))
		}
	}
}

func (tx *InviteServerTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.serverTransact.actCompleted(ctx, args...) //nolint:errcheck

	if !tx.tp.Reliable() {
		tx.tmrG.start(tx.serverTransact, ctx, tx.timings.TimeG(), tx.fireTimerG(ctx))
	}
	tx.tmrH.start(tx.serverTransact, ctx, tx.timings.TimeH(), tx.fireTimerH(ctx))

	return nil
}

// fireTimerG reschedules itself with a doubling interval (capped at T2) per
// RFC 3261 §17.2.1, since it only retransmits the final response while
// waiting for the ACK that timer H is the deadline for.
func (tx *InviteServerTransaction) fireTimerG(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer G expired", slog.Any("transaction", tx))

		if tx.State() != TransactionStateCompleted {
			tx.tmrG.clear()
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimerG); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerG, tx.State(), err))
		}

		if tmr := tx.tmrG.load(); tmr != nil {
			dur := min(2*tmr.Duration(), tx.timings.T2())
			tmr.Reset(dur)
			tx.log.LogAttrs(ctx, slog.LevelDebug, "timer G reset",
				slog.Any("transaction", tx),
				slog.Time("expires_at", time.Now().Add(tmr.Left())),
			)
		}
	}
}

func (tx *InviteServerTransaction) fireTimerH(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer H expired", slog.Any("transaction", tx))
		tx.tmrH.clear()

		if tx.State() != TransactionStateCompleted {
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimerH); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerH, tx.State(), err))
		}
	}
}

func (tx *InviteServerTransaction) actConfirmed(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction confirmed", slog.Any("transaction", tx))

	tx.tmrH.stop(tx.serverTransact, ctx)
	tx.tmrG.stop(tx.serverTransact, ctx)

	var timeI time.Duration
	if !tx.tp.Reliable() {
		timeI = tx.timings.TimeI()
	}
	tx.tmrI.start(tx.serverTransact, ctx, timeI, tx.fireTimerI(ctx))

	return nil
}

func (tx *InviteServerTransaction) fireTimerI(ctx context.Context) func() {
	return func() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer I expired", slog.Any("transaction", tx))
		tx.tmrI.clear()

		if tx.State() != TransactionStateConfirmed {
			return
		}
		if err := tx.fsm.FireCtx(ctx, txEvtTimerI); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerI, tx.State(), err))
		}
	}
}

func (tx *InviteServerTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.serverTransact.actTerminated(ctx, args...) //nolint:errcheck

	// Timer H transitioning here can leave G still armed; stop every timer
	// regardless of which edge got us to Terminated.
	tx.tmrG.stop(tx.serverTransact, ctx)
	tx.tmrH.stop(tx.serverTransact, ctx)
	tx.tmrI.stop(tx.serverTransact, ctx)
	tx.tmrL.stop(tx.serverTransact, ctx)

	return nil
}

// adjustKeys implements [keyAdjuster]. An RFC 2543 ACK for the initial
// non-2xx-bearing INVITE carries the To-tag this transaction assigned in its
// final response, which the transaction's own key (taken before any
// response existed) never had — so it's patched in here before comparison.
func (tx *InviteServerTransaction) adjustKeys(txKey, _ *ServerTransactionKey, reqMtd RequestMethod) {
	if IsRFC3261Branch(txKey.Branch) || !reqMtd.Equal(RequestMethodAck) || txKey.ToTag != "" {
		return
	}
	res := tx.LastResponse()
	if res == nil {
		return
	}
	res.AccessMessage(func(r *Response) {
		to, _ := r.Headers.To()
		txKey.ToTag, _ = to.Tag()
	})
}

// recvReq implements [requestRouter], diverting ACKs to their own trigger
// since an ACK never re-triggers retransmission the way a duplicate INVITE
// or a non-2xx retransmit does.
func (tx *InviteServerTransaction) recvReq(ctx context.Context, req *InboundRequestEnvelope) error {
	if req.Method().Equal(RequestMethodAck) {
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvAck, req))
	}
	return errtrace.Wrap(tx.serverTransact.recvReq(ctx, req))
}

// OnAck registers fn to run for every ACK matched to this transaction under
// the RFC 2543 fallback rule. Multiple registrations run in registration
// order; the returned func unbinds fn. Any ACK that already arrived before
// the first handler was registered is delivered immediately.
func (tx *InviteServerTransaction) OnAck(fn AckHandler) (unbind func()) {
	defer tx.flushAcks()
	return tx.onAck.Add(fn)
}

func (tx *InviteServerTransaction) takeSnapshot() *ServerTransactionSnapshot {
	return &ServerTransactionSnapshot{
		Time:         time.Now(),
		Type:         tx.typ,
		State:        tx.State(),
		Key:          tx.key,
		Request:      tx.req,
		LastResponse: tx.LastResponse(),
		SendOptions:  cloneSendResOpts(tx.sendOpts.Load()),
		Timings:      tx.timings,
		Timer1xx:     tx.tmr1xx.load().Snapshot(),
		TimerG:       tx.tmrG.load().Snapshot(),
		TimerH:       tx.tmrH.load().Snapshot(),
		TimerI:       tx.tmrI.load().Snapshot(),
		TimerL:       tx.tmrL.load().Snapshot(),
	}
}

// RestoreInviteServerTransaction rebuilds an INVITE server transaction from
// a snapshot taken by [InviteServerTransaction.Snapshot]. Timers already
// expired as of the snapshot's clock are not rearmed.
func RestoreInviteServerTransaction(
	ctx context.Context,
	snap *ServerTransactionSnapshot,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (*InviteServerTransaction, error) {
	if !snap.IsValid() || snap.Type != TransactionTypeServerInvite {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid snapshot"))
	}

	var restoreOpts ServerTransactionOptions
	if opts != nil {
		restoreOpts = *opts
	}
	restoreOpts.Key = snap.Key
	restoreOpts.Timings = snap.Timings

	tx := newInviteServerTransaction()
	srvTx, err := newServerTransact(TransactionTypeServerInvite, tx, snap.Request, tp, &restoreOpts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.serverTransact = srvTx

	ctx = ContextWithTransaction(ctx, tx)

	if snap.LastResponse != nil {
		tx.lastRes.Store(snap.LastResponse)
	}
	if snap.SendOptions != nil {
		tx.sendOpts.Store(cloneSendResOpts(snap.SendOptions))
	}

	if err := tx.initFSM(snap.State); err != nil {
		return nil, errtrace.Wrap(err)
	}

	tx.restoreTimers(ctx, snap)

	return tx, nil
}

func (tx *InviteServerTransaction) restoreTimers(ctx context.Context, snap *ServerTransactionSnapshot) {
	restore := func(t *srvTimer, saved *timeutil.TimerSnapshot, fire func() func()) {
		if saved == nil {
			return
		}
		restored := timeutil.RestoreTimer(saved)
		restored.SetCallback(fire())
		t.ptr.Store(restored)
	}

	restore(tx.tmr1xx, snap.Timer1xx, func() func() { return tx.fireTimer1xx(ctx) })
	restore(tx.tmrG, snap.TimerG, func() func() { return tx.fireTimerG(ctx) })
	restore(tx.tmrH, snap.TimerH, func() func() { return tx.fireTimerH(ctx) })
	restore(tx.tmrI, snap.TimerI, func() func() { return tx.fireTimerI(ctx) })
	restore(tx.tmrL, snap.TimerL, func() func() { return tx.fireTimerL(ctx) })
}
