package sip

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/siptx/internal/syncutil"
	"github.com/sipstack/siptx/internal/timeutil"
	"github.com/sipstack/siptx/internal/types"
	"github.com/sipstack/siptx/internal/util"
	"github.com/sipstack/siptx/log"
)

// ClientTransaction is the UAC side of RFC 3261 §17.1: the state machine that
// owns a single outbound request, retransmits it as its timers demand, and
// hands every matching response back to whoever is watching.
type ClientTransaction interface {
	Transaction
	ResponseReceiver
	// Key identifies the transaction for response matching (RFC 3261 §17.1.3).
	Key() ClientTransactionKey
	// Request returns the request that opened the transaction.
	Request() *OutboundRequestEnvelope
	// LastResponse returns the most recent response handed to [RecvResponse],
	// or nil if none has arrived yet.
	LastResponse() *InboundResponseEnvelope
	// Transport returns the transport the transaction sends on.
	Transport() ClientTransport
	// OnResponse subscribes fn to every response the transaction accepts,
	// including ones that arrived before the subscription. The returned func
	// removes the subscription.
	OnResponse(fn InboundResponseHandler) (unbind func())
}

// ClientTransport is the subset of a transport a client transaction needs:
// the ability to send a request, and whether retransmission is required.
type ClientTransport interface {
	RequestSender
	Reliable() bool
}

// ClientTransactionFactory builds a [ClientTransaction] for an outbound request.
type ClientTransactionFactory interface {
	NewClientTransaction(
		ctx context.Context,
		req *OutboundRequestEnvelope,
		tp ClientTransport,
		opts *ClientTransactionOptions,
	) (ClientTransaction, error)
}

// ClientTransactionFactoryFunc adapts a plain function to [ClientTransactionFactory].
type ClientTransactionFactoryFunc func(
	ctx context.Context,
	req *OutboundRequestEnvelope,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (ClientTransaction, error)

func (f ClientTransactionFactoryFunc) NewClientTransaction(
	ctx context.Context,
	req *OutboundRequestEnvelope,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (ClientTransaction, error) {
	return errtrace.Wrap2(f(ctx, req, tp, opts))
}

// NewClientTransaction picks the right FSM for req's method: an
// [InviteClientTransaction] for INVITE, a [NonInviteClientTransaction]
// otherwise, per the split mandated by RFC 3261 §17.1.1/§17.1.2.
func NewClientTransaction(
	ctx context.Context,
	req *OutboundRequestEnvelope,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (ClientTransaction, error) {
	if req.Method().Equal(RequestMethodInvite) {
		return errtrace.Wrap2(NewInviteClientTransaction(ctx, req, tp, opts))
	}
	return errtrace.Wrap2(NewNonInviteClientTransaction(ctx, req, tp, opts))
}

// ClientTransactionOptions configures a new client transaction. The zero
// value is valid: a key is derived from the request, default timings apply,
// and the package logger is used.
type ClientTransactionOptions struct {
	// Key overrides the key derived from the request. Leave zero to derive it.
	Key ClientTransactionKey
	// Timings overrides the default SIP timer values.
	Timings TimingConfig
	// SendOptions is passed through to every [ClientTransport.SendRequest] call.
	SendOptions *SendRequestOptions
	// Logger receives the transaction's diagnostic output; defaults to [log.Default].
	Logger *slog.Logger
}

func (o *ClientTransactionOptions) key() ClientTransactionKey {
	if o == nil {
		return zeroClnTxKey
	}
	return o.Key
}

func (o *ClientTransactionOptions) timings() TimingConfig {
	if o == nil {
		return defTimingCfg
	}
	return o.Timings
}

func (o *ClientTransactionOptions) sendOpts() *SendRequestOptions {
	if o == nil {
		return nil
	}
	return o.SendOptions
}

func (o *ClientTransactionOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

// clientTransact is the direction-specific half of a client transaction,
// sitting between [baseTransact]'s flavour-agnostic FSM plumbing and the
// INVITE/non-INVITE specifics in transaction_client_invite.go and
// transaction_client_non_invite.go. It owns the request being sent, the
// transport it goes out on, and the queue of responses waiting for a
// subscriber.
type clientTransact struct {
	*baseTransact
	key      ClientTransactionKey
	tp       ClientTransport
	timings  TimingConfig
	req      *OutboundRequestEnvelope
	sendOpts *SendRequestOptions
	lastRes  atomic.Pointer[InboundResponseEnvelope]

	respSubs  types.CallbackManager[InboundResponseHandler]
	respQueue types.Deque[queuedResponse]
}

// queuedResponse holds a response that arrived before any [ClientTransaction.OnResponse]
// subscriber existed, so it can be replayed once one does.
type queuedResponse struct {
	ctx context.Context
	res *InboundResponseEnvelope
}

func newClientTransact(
	typ TransactionType,
	impl clientTransactImpl,
	req *OutboundRequestEnvelope,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (*clientTransact, error) {
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if tp == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid transport"))
	}

	stampBranch(req)

	key := opts.key()
	if !key.IsValid() {
		var err error
		if key, err = MakeClientTransactionKey(req); err != nil {
			return nil, errtrace.Wrap(NewInvalidArgumentError(err))
		}
	}
	req.Metadata().Set("transaction_key", key)

	tx := &clientTransact{
		key:      key,
		tp:       tp,
		req:      req,
		sendOpts: opts.sendOpts(),
		timings:  opts.timings(),
	}
	tx.baseTransact = newBaseTransact(typ, impl, opts.log())
	return tx, nil
}

// stampBranch fills in a fresh RFC 3261 magic-cookie branch on req's topmost
// Via if it doesn't already carry one, so every transaction gets a globally
// unique matching key even when the caller built the request by hand.
func stampBranch(req *OutboundRequestEnvelope) {
	req.AccessMessage(func(r *Request) {
		via, _ := r.Headers.FirstVia()
		branch, hasBranch := via.Branch()
		if hasBranch && branch != "" && strings.HasPrefix(branch, MagicCookie) {
			return
		}
		if via.Params == nil {
			via.Params = make(Values)
		}
		via.Params.Set("branch", GenerateBranch(0))
	})
}

// clientTransactImpl is the view newClientTransact needs of the concrete
// flavour embedding it: everything transactImpl requires plus the exported
// surface and snapshotting.
type clientTransactImpl interface {
	transactImpl
	ClientTransaction
	takeSnapshot() *ClientTransactionSnapshot
}

func (tx *clientTransact) asImpl() clientTransactImpl {
	return tx.impl.(clientTransactImpl) //nolint:forcetypeassert
}

// LogValue implements [slog.LogValuer].
func (tx *clientTransact) LogValue() slog.Value {
	if tx == nil {
		return zeroSlogValue
	}
	return slog.GroupValue(
		slog.Any("key", tx.key),
		slog.Any("type", tx.typ),
		slog.Any("state", tx.State()),
	)
}

func (tx *clientTransact) Key() ClientTransactionKey {
	if tx == nil {
		return zeroClnTxKey
	}
	return tx.key
}

func (tx *clientTransact) Request() *OutboundRequestEnvelope {
	if tx == nil {
		return nil
	}
	return tx.req
}

func (tx *clientTransact) LastResponse() *InboundResponseEnvelope {
	if tx == nil {
		return nil
	}
	return tx.lastRes.Load()
}

func (tx *clientTransact) Transport() ClientTransport {
	if tx == nil {
		return nil
	}
	return tx.tp
}

// MatchMessage implements RFC 3261 §17.1.3: a response matches when its
// topmost Via branch and CSeq method reproduce the key the request was
// stamped with.
func (tx *clientTransact) MatchMessage(msg Message) bool {
	key, err := MakeClientTransactionKey(msg)
	if err != nil {
		return false
	}
	return tx.key.Equal(key)
}

// RecvResponse routes an inbound response to the FSM trigger matching its
// status class; INVITE and non-INVITE flavours each permit a different
// subset of these from any given state.
func (tx *clientTransact) RecvResponse(ctx context.Context, res *InboundResponseEnvelope) error {
	if !tx.MatchMessage(res) {
		return errtrace.Wrap(ErrMessageNotMatched)
	}

	ctx = ContextWithTransaction(ctx, tx.impl)

	evt := txEvtRecv300699
	switch {
	case res.Status().IsProvisional():
		evt = txEvtRecv1xx
	case res.Status().IsSuccessful():
		evt = txEvtRecv2xx
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, evt, res))
}

// sendReq dispatches req on the transaction's transport; a failure fires the
// shared transport-error trigger rather than returning silently, since every
// flavour's FSM treats that as an immediate path to Terminated.
func (tx *clientTransact) sendReq(ctx context.Context, req *OutboundRequestEnvelope) error {
	if err := tx.tp.SendRequest(ctx, req, tx.sendOpts); err != nil {
		err = fmt.Errorf("send %q request: %w", req.Method(), err)
		if fireErr := tx.fsm.FireCtx(ctx, txEvtTranspErr, errtrace.Wrap(err)); fireErr != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTranspErr, tx.State(), fireErr))
		}
		return errtrace.Wrap(err)
	}
	return nil
}

const (
	txEvtRecv1xx    = "recv_1xx"
	txEvtRecv2xx    = "recv_2xx"
	txEvtRecv300699 = "recv_300-699"
)

func (tx *clientTransact) initFSM(start TransactionState) error {
	if err := tx.baseTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	respType := reflect.TypeFor[*InboundResponseEnvelope]()
	for _, evt := range [...]string{txEvtRecv1xx, txEvtRecv2xx, txEvtRecv300699} {
		tx.fsm.SetTriggerParameters(evt, respType)
	}

	return nil
}

func (tx *clientTransact) actSendReq(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "send request",
		slog.Any("transaction", tx.impl),
		slog.Any("request", tx.req),
	)

	tx.sendReq(ctx, tx.req) //nolint:errcheck
	return nil
}

func (tx *clientTransact) actPassRes(ctx context.Context, args ...any) error {
	res := args[0].(*InboundResponseEnvelope) //nolint:forcetypeassert
	tx.lastRes.Store(res)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "pass response",
		slog.Any("transaction", tx.impl),
		slog.Any("response", res),
	)

	tx.respQueue.Append(queuedResponse{ctx, res})
	if tx.respSubs.Len() > 0 {
		tx.flushResponses()
	}
	return nil
}

// flushResponses replays every queued response to every current subscriber,
// in arrival order, then empties the queue.
func (tx *clientTransact) flushResponses() {
	queued := tx.respQueue.Drain()
	if len(queued) == 0 {
		return
	}

	for fn := range tx.respSubs.All() {
		for _, e := range queued {
			fn(e.ctx, e.res)
		}
	}
}

func (tx *clientTransact) actProceeding(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction proceeding", slog.Any("transaction", tx))
	return nil
}

//nolint:unparam
func (tx *clientTransact) actCompleted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction completed", slog.Any("transaction", tx))
	return nil
}

// OnResponse subscribes fn to every response the transaction has already
// queued plus every one still to come; multiple subscribers fire in
// registration order.
func (tx *clientTransact) OnResponse(fn InboundResponseHandler) (unbind func()) {
	defer tx.flushResponses()
	return tx.respSubs.Add(fn)
}

// Snapshot captures enough state to rebuild the transaction after a restart
// via [RestoreInviteClientTransaction] or [RestoreNonInviteClientTransaction].
func (tx *clientTransact) Snapshot() *ClientTransactionSnapshot {
	if tx == nil {
		return nil
	}
	return tx.asImpl().takeSnapshot()
}

// MarshalJSON implements [json.Marshaler] by serializing [Snapshot].
func (tx *clientTransact) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(json.Marshal(tx.Snapshot()))
}

// ClientTransactionSnapshot is the serializable state of a client
// transaction, enough to recreate it (FSM state, pending timers, request and
// last response) after a process restart.
type ClientTransactionSnapshot struct {
	Time         time.Time                `json:"time"`
	Type         TransactionType          `json:"type"`
	State        TransactionState         `json:"state"`
	Key          ClientTransactionKey     `json:"key"`
	Request      *OutboundRequestEnvelope `json:"request"`
	SendOptions  *SendRequestOptions      `json:"send_options,omitempty"`
	LastResponse *InboundResponseEnvelope `json:"last_response,omitempty"`
	Timings      TimingConfig             `json:"timing_config,omitzero"`

	// INVITE-only timers.
	TimerA *timeutil.TimerSnapshot `json:"timer_a,omitempty"`
	TimerB *timeutil.TimerSnapshot `json:"timer_b,omitempty"`
	TimerD *timeutil.TimerSnapshot `json:"timer_d,omitempty"`
	TimerM *timeutil.TimerSnapshot `json:"timer_m,omitempty"`

	// Non-INVITE-only timers.
	TimerE *timeutil.TimerSnapshot `json:"timer_e,omitempty"`
	TimerF *timeutil.TimerSnapshot `json:"timer_f,omitempty"`
	TimerK *timeutil.TimerSnapshot `json:"timer_k,omitempty"`
}

func (snap *ClientTransactionSnapshot) IsValid() bool {
	return snap != nil &&
		snap.Type != "" &&
		snap.State != "" &&
		snap.Key.IsValid() &&
		snap.Request.IsValid() &&
		(snap.LastResponse == nil || snap.LastResponse.IsValid())
}

// ClientTransactionKey identifies a client transaction for the purpose of
// routing an inbound response to it, per RFC 3261 §17.1.3: the branch
// parameter of the request's topmost Via plus its method (CANCEL and ACK
// share a branch with the request they act on but are distinguished by
// method).
//
//nolint:recvcheck
type ClientTransactionKey struct {
	Branch string `json:"branch"`
	Method string `json:"method"`
}

var zeroClnTxKey ClientTransactionKey

// MakeClientTransactionKey derives a [ClientTransactionKey] from msg's
// topmost Via branch and CSeq method.
func MakeClientTransactionKey(msg Message) (ClientTransactionKey, error) {
	if msg == nil {
		return zeroClnTxKey, errtrace.Wrap(NewInvalidArgumentError("invalid message"))
	}
	if err := msg.Validate(); err != nil {
		return zeroClnTxKey, errtrace.Wrap(NewInvalidArgumentError(err))
	}

	hdrs := GetMessageHeaders(msg)
	via, _ := hdrs.FirstVia()
	cseq, _ := hdrs.CSeq()

	k := ClientTransactionKey{
		Method: string(cseq.Method.ToUpper()),
	}
	k.Branch, _ = via.Branch()
	return k, nil
}

// Equal reports whether val is a [ClientTransactionKey] (or pointer to one)
// with the same branch and a case-insensitively equal method.
func (k ClientTransactionKey) Equal(val any) bool {
	var other ClientTransactionKey
	switch v := val.(type) {
	case ClientTransactionKey:
		other = v
	case *ClientTransactionKey:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}

	return k.Branch == other.Branch && util.EqFold(k.Method, other.Method)
}

func (k ClientTransactionKey) IsValid() bool {
	return k.Branch != "" && k.Method != ""
}

func (k ClientTransactionKey) IsZero() bool {
	return k.Branch == "" && k.Method == ""
}

func (k ClientTransactionKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("branch", k.Branch),
		slog.Any("method", k.Method),
	)
}

func (k ClientTransactionKey) MarshalBinary() ([]byte, error) {
	method := util.UCase(k.Method)

	size := util.SizePrefixedString(k.Branch) + util.SizePrefixedString(method)

	buf := make([]byte, 0, size)
	buf = util.AppendPrefixedString(buf, k.Branch)
	buf = util.AppendPrefixedString(buf, method)
	return buf, nil
}

func (k *ClientTransactionKey) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return errtrace.Wrap(NewInvalidArgumentError("invalid data"))
	}

	var (
		rest = data
		err  error
		key  ClientTransactionKey
	)
	if key.Branch, rest, err = util.ConsumePrefixedString(rest); err != nil {
		return errtrace.Wrap(err)
	}
	if key.Method, rest, err = util.ConsumePrefixedString(rest); err != nil {
		return errtrace.Wrap(err)
	}
	if len(rest) != 0 {
		return errtrace.Wrap(NewInvalidArgumentError("unexpected trailing data"))
	}

	*k = key
	return nil
}

func (k ClientTransactionKey) String() string {
	data, _ := k.MarshalBinary()
	return hex.EncodeToString(data)
}

func (k ClientTransactionKey) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		f.Write([]byte(k.String()))
		return
	case 'q':
		f.Write([]byte(strconv.Quote(k.String())))
		return
	default:
		if !f.Flag('+') && !f.Flag('#') {
			f.Write([]byte(k.String()))
			return
		}

		type hideMethods ClientTransactionKey
		type ClientTransactionKey hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), ClientTransactionKey(k))
		return
	}
}

// ClientTransactionStore tracks live client transactions keyed by
// [ClientTransactionKey] so inbound responses can be routed to the
// transaction that requested them.
type ClientTransactionStore interface {
	Load(ctx context.Context, key ClientTransactionKey) (ClientTransaction, error)
	LookupMatched(ctx context.Context, msg Message) (ClientTransaction, error)
	Store(ctx context.Context, tx ClientTransaction) error
	Delete(ctx context.Context, tx ClientTransaction) error
	All(ctx context.Context) (iter.Seq[ClientTransaction], error)
}

// MemoryClientTransactionStore is a process-local [ClientTransactionStore]
// guarded by a per-key lock so concurrent lookups on unrelated keys never
// contend.
type MemoryClientTransactionStore struct {
	locks syncutil.KeyMutex[string]
	byKey *syncutil.ShardMap[string, ClientTransaction]
}

// NewMemoryClientTransactionStore creates an empty in-memory store.
func NewMemoryClientTransactionStore() *MemoryClientTransactionStore {
	return &MemoryClientTransactionStore{
		byKey: syncutil.NewShardMap[string, ClientTransaction](),
	}
}

func (s *MemoryClientTransactionStore) Load(
	_ context.Context,
	key ClientTransactionKey,
) (ClientTransaction, error) {
	hash := key.String()
	unlock := s.locks.Lock(hash)
	tx, ok := s.byKey.Get(hash)
	unlock()
	if !ok {
		return nil, errtrace.Wrap(ErrTransactionNotFound)
	}
	return tx, nil
}

// LookupMatched loads the transaction keyed by msg and re-checks the full
// match rule, guarding against a hash collision between [ClientTransactionKey]
// values that compress to the same string.
func (s *MemoryClientTransactionStore) LookupMatched(
	ctx context.Context,
	msg Message,
) (ClientTransaction, error) {
	key, err := MakeClientTransactionKey(msg)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	tx, err := s.Load(ctx, key)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if !tx.MatchMessage(msg) {
		return nil, errtrace.Wrap(ErrTransactionNotFound)
	}
	return tx, nil
}

func (s *MemoryClientTransactionStore) Store(_ context.Context, tx ClientTransaction) error {
	hash := tx.Key().String()
	unlock := s.locks.Lock(hash)
	defer unlock()
	if _, ok := s.byKey.Get(hash); ok {
		return errtrace.Wrap(NewInvalidArgumentError("transaction already exists"))
	}
	s.byKey.Set(hash, tx)
	return nil
}

func (s *MemoryClientTransactionStore) Delete(_ context.Context, tx ClientTransaction) error {
	hash := tx.Key().String()
	unlock := s.locks.Lock(hash)
	s.byKey.Del(hash)
	unlock()
	return nil
}

func (s *MemoryClientTransactionStore) All(_ context.Context) (iter.Seq[ClientTransaction], error) {
	return util.SeqValues(s.byKey.Items()), nil
}
