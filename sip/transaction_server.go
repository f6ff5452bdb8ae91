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
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/siptx/header"
	"github.com/sipstack/siptx/internal/syncutil"
	"github.com/sipstack/siptx/internal/timeutil"
	"github.com/sipstack/siptx/internal/util"
	"github.com/sipstack/siptx/log"
)

// ServerTransaction is the UAS side of RFC 3261 §17.2: it owns the inbound
// request, decides when a response is a retransmit worth resending versus a
// fresh answer, and enforces the timing rules around ACK/ retransmission.
type ServerTransaction interface {
	Transaction
	RequestReceiver
	ResponseSender
	// Key identifies the transaction for request matching (RFC 3261 §17.2.3).
	Key() ServerTransactionKey
	// Request returns the request that opened the transaction.
	Request() *InboundRequestEnvelope
	// LastResponse returns the most recent response the transaction sent.
	LastResponse() *OutboundResponseEnvelope
	// Transport returns the transport the transaction responds on.
	Transport() ServerTransport
}

// ServerTransport is the subset of a transport a server transaction needs.
type ServerTransport interface {
	ResponseSender
	Reliable() bool
}

// ServerTransactionFactory builds a [ServerTransaction] for an inbound request.
type ServerTransactionFactory interface {
	NewServerTransaction(
		ctx context.Context,
		req *InboundRequestEnvelope,
		tp ServerTransport,
		opts *ServerTransactionOptions,
	) (ServerTransaction, error)
}

// ServerTransactionFactoryFunc adapts a plain function to [ServerTransactionFactory].
type ServerTransactionFactoryFunc func(
	ctx context.Context,
	req *InboundRequestEnvelope,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (ServerTransaction, error)

func (f ServerTransactionFactoryFunc) NewServerTransaction(
	ctx context.Context,
	req *InboundRequestEnvelope,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (ServerTransaction, error) {
	return errtrace.Wrap2(f(ctx, req, tp, opts))
}

// NewServerTransaction picks the right FSM for req's method: an
// [InviteServerTransaction] for INVITE, a [NonInviteServerTransaction]
// otherwise, per RFC 3261 §17.2.1/§17.2.2.
func NewServerTransaction(
	ctx context.Context,
	req *InboundRequestEnvelope,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (ServerTransaction, error) {
	if req.Method().Equal(RequestMethodInvite) {
		return errtrace.Wrap2(NewInviteServerTransaction(ctx, req, tp, opts))
	}
	return errtrace.Wrap2(NewNonInviteServerTransaction(ctx, req, tp, opts))
}

// ServerTransactionOptions configures a new server transaction. The zero
// value is valid: a key is derived from the request, default timings apply,
// and the package logger is used.
type ServerTransactionOptions struct {
	// Key overrides the key derived from the request. Leave zero to derive it.
	Key ServerTransactionKey
	// Timings overrides the default SIP timer values.
	Timings TimingConfig
	// Logger receives the transaction's diagnostic output; defaults to [log.Default].
	Logger *slog.Logger
}

func (o *ServerTransactionOptions) key() ServerTransactionKey {
	if o == nil {
		return zeroSrvTxKey
	}
	return o.Key
}

func (o *ServerTransactionOptions) timings() TimingConfig {
	if o == nil {
		return defTimingCfg
	}
	return o.Timings
}

func (o *ServerTransactionOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

// serverTransact is the direction-specific half of a server transaction; see
// [clientTransact] for the client-side counterpart of this split. It tracks
// the request it was opened for, the last response it sent (for retransmit
// replay), and the options that response was sent with.
type serverTransact struct {
	*baseTransact
	key      ServerTransactionKey
	tp       ServerTransport
	timings  TimingConfig
	req      *InboundRequestEnvelope
	lastRes  atomic.Pointer[OutboundResponseEnvelope]
	sendOpts atomic.Pointer[SendResponseOptions]
}

func newServerTransact(
	typ TransactionType,
	impl serverTransactImpl,
	req *InboundRequestEnvelope,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (*serverTransact, error) {
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if cseq, ok := req.Headers().CSeq(); !ok || !cseq.Method.Equal(req.Method()) {
		return nil, errtrace.Wrap(NewInvalidArgumentError("CSeq method does not match request method"))
	}
	if tp == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid transport"))
	}
	if opts == nil {
		opts = &ServerTransactionOptions{}
	}

	key := opts.key()
	if !key.IsValid() {
		var err error
		if key, err = MakeServerTransactionKey(req); err != nil {
			return nil, errtrace.Wrap(NewInvalidArgumentError(err))
		}
	}
	req.Metadata().Set("transaction_key", key)

	tx := &serverTransact{
		key:     key,
		tp:      tp,
		timings: opts.timings(),
		req:     req,
	}
	tx.baseTransact = newBaseTransact(typ, impl, opts.log())
	return tx, nil
}

// serverTransactImpl is the view newServerTransact needs of the concrete
// flavour embedding it.
type serverTransactImpl interface {
	transactImpl
	ServerTransaction
	takeSnapshot() *ServerTransactionSnapshot
}

// keyAdjuster lets a flavour rewrite the matching keys before comparison;
// only [InviteServerTransaction] implements it, to fold an ACK's Request-URI
// method back onto INVITE per RFC 3261 §17.2.3.
type keyAdjuster interface {
	adjustKeys(txKey, reqKey *ServerTransactionKey, reqMethod RequestMethod)
}

// requestRouter lets a flavour intercept RecvRequest before the default
// method-equality dispatch; only [InviteServerTransaction] implements it, to
// divert ACKs to a separate trigger.
type requestRouter interface {
	recvReq(ctx context.Context, req *InboundRequestEnvelope) error
}

func (tx *serverTransact) srvTxImpl() serverTransactImpl {
	return tx.impl.(serverTransactImpl) //nolint:forcetypeassert
}

// LogValue implements [slog.LogValuer].
func (tx *serverTransact) LogValue() slog.Value {
	if tx == nil {
		return zeroSlogValue
	}
	return slog.GroupValue(
		slog.Any("key", tx.key),
		slog.Any("type", tx.typ),
		slog.Any("state", tx.State()),
	)
}

func (tx *serverTransact) Key() ServerTransactionKey {
	if tx == nil {
		return zeroSrvTxKey
	}
	return tx.key
}

func (tx *serverTransact) Request() *InboundRequestEnvelope {
	if tx == nil {
		return nil
	}
	return tx.req
}

func (tx *serverTransact) LastResponse() *OutboundResponseEnvelope {
	if tx == nil {
		return nil
	}
	return tx.lastRes.Load()
}

func (tx *serverTransact) Transport() ServerTransport {
	if tx == nil {
		return nil
	}
	return tx.tp
}

// MatchMessage implements RFC 3261 §17.2.3 in both directions: an inbound
// request matches by (possibly flavour-adjusted) key equality, an outbound
// response matches by the detailed header comparison in matchRes.
func (tx *serverTransact) MatchMessage(msg Message) bool {
	switch m := msg.(type) {
	case *InboundRequestEnvelope:
		return tx.matchReq(m, m.Method())
	case *Request:
		return tx.matchReq(m, m.Method)
	case *OutboundResponseEnvelope, *Response:
		return tx.matchRes(msg) == nil
	default:
		return false
	}
}

func (tx *serverTransact) matchReq(msg Message, mtd RequestMethod) bool {
	reqKey, err := MakeServerTransactionKey(msg)
	if err != nil {
		return false
	}
	txKey := tx.key
	if adj, ok := tx.impl.(keyAdjuster); ok {
		adj.adjustKeys(&txKey, &reqKey, mtd)
	}
	return txKey.Equal(reqKey)
}

//nolint:gocognit
func (tx *serverTransact) matchRes(res Message) error {
	if tx == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid transaction"))
	}
	if tx.req == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing transaction request"))
	}
	if res == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid response"))
	}

	reqHdrs := tx.req.Headers()
	resHdrs := GetMessageHeaders(res)

	reqVia, ok := reqHdrs.FirstVia()
	if !ok || reqVia == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing request Via"))
	}
	resVia, ok := resHdrs.FirstVia()
	if !ok || resVia == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing response Via"))
	}
	if !reqVia.Equal(resVia) {
		return errtrace.Wrap(NewInvalidArgumentError("response Via does not match transaction request"))
	}

	reqCallID, ok := reqHdrs.CallID()
	if !ok {
		return errtrace.Wrap(NewInvalidArgumentError("missing request Call-ID"))
	}
	resCallID, ok := resHdrs.CallID()
	if !ok {
		return errtrace.Wrap(NewInvalidArgumentError("missing response Call-ID"))
	}
	if reqCallID != resCallID {
		return errtrace.Wrap(NewInvalidArgumentError("response Call-ID does not match transaction request"))
	}

	reqFrom, ok := reqHdrs.From()
	if !ok || reqFrom == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing request From"))
	}
	resFrom, ok := resHdrs.From()
	if !ok || resFrom == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing response From"))
	}
	if !reqFrom.Equal(resFrom) {
		return errtrace.Wrap(NewInvalidArgumentError("response From does not match transaction request"))
	}

	reqTo, ok := reqHdrs.To()
	if !ok || reqTo == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing request To"))
	}
	resTo, ok := resHdrs.To()
	if !ok || resTo == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing response To"))
	}
	if !equalNameAddrWithoutTag(header.NameAddr(*reqTo), header.NameAddr(*resTo)) {
		return errtrace.Wrap(NewInvalidArgumentError("response To does not match transaction request"))
	}
	if reqTag, ok := reqTo.Tag(); ok && reqTag != "" {
		resTag, _ := resTo.Tag()
		if reqTag != resTag {
			return errtrace.Wrap(NewInvalidArgumentError("response To tag does not match transaction request"))
		}
	}

	reqCSeq, ok := reqHdrs.CSeq()
	if !ok || reqCSeq == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing request CSeq"))
	}
	resCSeq, ok := resHdrs.CSeq()
	if !ok || resCSeq == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing response CSeq"))
	}
	if reqCSeq.SeqNum != resCSeq.SeqNum {
		return errtrace.Wrap(NewInvalidArgumentError("response CSeq number does not match transaction request"))
	}
	if !resCSeq.Method.Equal(reqCSeq.Method) {
		return errtrace.Wrap(NewInvalidArgumentError("response CSeq method does not match transaction request"))
	}
	return nil
}

// equalNameAddrWithoutTag compares two name-addr header values ignoring
// their tag parameter, used for the To-header half of response matching
// where the tag is checked separately (it may be empty on the request side).
func equalNameAddrWithoutTag(a, b header.NameAddr) bool {
	a, b = a.Clone(), b.Clone()
	if a.Params != nil {
		a.Params.Del("tag")
	}
	if b.Params != nil {
		b.Params.Del("tag")
	}
	return a.Equal(b)
}

// RecvRequest is called on each inbound request the transport layer routes
// to this transaction. It defers to the flavour's own recvReq if it
// implements [requestRouter] (INVITE does, to split out ACK), otherwise uses
// the default method-equality dispatch.
func (tx *serverTransact) RecvRequest(ctx context.Context, req *InboundRequestEnvelope) error {
	if !tx.MatchMessage(req) {
		return errtrace.Wrap(NewInvalidArgumentError(ErrMessageNotMatched))
	}

	ctx = ContextWithTransaction(ctx, tx.impl)

	if router, ok := tx.impl.(requestRouter); ok {
		return errtrace.Wrap(router.recvReq(ctx, req))
	}
	return errtrace.Wrap(tx.recvReq(ctx, req))
}

func (tx *serverTransact) recvReq(ctx context.Context, req *InboundRequestEnvelope) error {
	if !tx.req.Method().Equal(req.Method()) {
		return errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvReq, req))
}

// Respond builds a response from sts and opts against the transaction's
// request and sends it through [SendResponse].
func (tx *serverTransact) Respond(ctx context.Context, sts ResponseStatus, opts *RespondOptions) error {
	res, err := tx.req.NewResponse(sts, &ResponseOptions{Headers: opts.headers()})
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(tx.SendResponse(ctx, res, nil))
}

// SendResponse routes res to the FSM trigger matching its status class; the
// transport write itself happens inside the FSM action, not here, so a
// caller racing with a retransmit timer always goes through the same path.
func (tx *serverTransact) SendResponse(
	ctx context.Context,
	res *OutboundResponseEnvelope,
	opts *SendResponseOptions,
) error {
	if err := res.Validate(); err != nil {
		return errtrace.Wrap(err)
	}
	if err := tx.matchRes(res); err != nil {
		return errtrace.Wrap(err)
	}

	ctx = ContextWithTransaction(ctx, tx.impl)

	evt := txEvtSend300699
	switch sts := res.Status(); {
	case sts.IsProvisional():
		evt = txEvtSend1xx
	case sts.IsSuccessful():
		evt = txEvtSend2xx
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, evt, res, opts))
}

// sendRes writes res to the transport; a failure fires the shared
// transport-error trigger, mirroring [clientTransact.sendReq].
func (tx *serverTransact) sendRes(
	ctx context.Context,
	res *OutboundResponseEnvelope,
	opts *SendResponseOptions,
) error {
	if err := tx.tp.SendResponse(ctx, res, opts); err != nil {
		err = fmt.Errorf("send %q response: %w", res.Status(), err)
		if fireErr := tx.fsm.FireCtx(ctx, txEvtTranspErr, errtrace.Wrap(err)); fireErr != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTranspErr, tx.State(), fireErr))
		}
		return errtrace.Wrap(err)
	}
	return nil
}

const (
	txEvtRecvReq    = "recv_req"
	txEvtSend1xx    = "send_1xx"
	txEvtSend2xx    = "send_2xx"
	txEvtSend300699 = "send_300-699"
)

func (tx *serverTransact) initFSM(start TransactionState) error {
	if err := tx.baseTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	tx.fsm.SetTriggerParameters(txEvtRecvReq, reflect.TypeFor[*InboundRequestEnvelope]())

	resParams := []reflect.Type{
		reflect.TypeFor[*OutboundResponseEnvelope](),
		reflect.TypeFor[*SendResponseOptions](),
	}
	for _, evt := range [...]string{txEvtSend1xx, txEvtSend2xx, txEvtSend300699} {
		tx.fsm.SetTriggerParameters(evt, resParams...)
	}

	return nil
}

func (tx *serverTransact) actSendRes(ctx context.Context, args ...any) error {
	res := args[0].(*OutboundResponseEnvelope) //nolint:forcetypeassert
	opts := args[1].(*SendResponseOptions)     //nolint:forcetypeassert
	defer func() {
		tx.lastRes.Store(res)
		tx.sendOpts.Store(cloneSendResOpts(opts))
	}()

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send response",
		slog.Any("transaction", tx.impl),
		slog.Any("response", res),
	)

	tx.sendRes(ctx, res, opts) //nolint:errcheck
	return nil
}

func (tx *serverTransact) actResendRes(ctx context.Context, _ ...any) error {
	res := tx.LastResponse()
	if res == nil {
		return nil
	}
	opts := tx.sendOpts.Load()

	tx.log.LogAttrs(ctx, slog.LevelDebug, "re-send response",
		slog.Any("transaction", tx.impl),
		slog.Any("response", res),
	)

	tx.sendRes(ctx, res, opts) //nolint:errcheck
	return nil
}

func (tx *serverTransact) actProceeding(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction proceeding", slog.Any("transaction", tx.impl))
	return nil
}

//nolint:unparam
func (tx *serverTransact) actCompleted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction completed", slog.Any("transaction", tx.impl))
	return nil
}

// Snapshot captures enough state to rebuild the transaction after a restart
// via [RestoreInviteServerTransaction] or [RestoreNonInviteServerTransaction].
func (tx *serverTransact) Snapshot() *ServerTransactionSnapshot {
	if tx == nil {
		return nil
	}
	return tx.srvTxImpl().takeSnapshot()
}

// MarshalJSON implements [json.Marshaler] by serializing [Snapshot].
func (tx *serverTransact) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(json.Marshal(tx.Snapshot()))
}

// ServerTransactionSnapshot is the serializable state of a server
// transaction, enough to recreate it (FSM state, pending timers, request and
// last response) after a process restart.
type ServerTransactionSnapshot struct {
	Time         time.Time                 `json:"time"`
	Type         TransactionType           `json:"type"`
	State        TransactionState          `json:"state"`
	Key          ServerTransactionKey      `json:"key"`
	Request      *InboundRequestEnvelope   `json:"request"`
	LastResponse *OutboundResponseEnvelope `json:"last_response,omitempty"`
	SendOptions  *SendResponseOptions      `json:"send_options,omitempty"`
	Timings      TimingConfig              `json:"timing_config,omitzero"`

	// INVITE-only timers.
	Timer1xx *timeutil.TimerSnapshot `json:"timer_1xx,omitempty"`
	TimerG   *timeutil.TimerSnapshot `json:"timer_g,omitempty"`
	TimerH   *timeutil.TimerSnapshot `json:"timer_h,omitempty"`
	TimerI   *timeutil.TimerSnapshot `json:"timer_i,omitempty"`
	TimerL   *timeutil.TimerSnapshot `json:"timer_l,omitempty"`

	// Non-INVITE-only timer.
	TimerJ *timeutil.TimerSnapshot `json:"timer_j,omitempty"`
}

func (snap *ServerTransactionSnapshot) IsValid() bool {
	return snap != nil &&
		snap.Type != "" &&
		snap.State != "" &&
		snap.Key.IsValid() &&
		snap.Request.IsValid() &&
		(snap.LastResponse == nil || snap.LastResponse.IsValid())
}

// ServerTransactionKey identifies a server transaction for request matching
// per RFC 3261 §17.2.3. Branch/SentBy/Method cover the common RFC 3261 case;
// the remaining fields support the RFC 2543 fallback match used when a
// request arrives without the magic-cookie branch.
//
//nolint:recvcheck
type ServerTransactionKey struct {
	Branch string `json:"branch,omitempty"`
	SentBy string `json:"sent_by,omitempty"`
	Method string `json:"method,omitempty"`

	URI     string `json:"uri,omitempty"`
	FromTag string `json:"from_tag,omitempty"`
	ToTag   string `json:"to_tag,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	SeqNum  uint   `json:"seq_num,omitempty"`
	Via     string `json:"via,omitempty"`
}

var zeroSrvTxKey ServerTransactionKey

// MakeServerTransactionKey derives a [ServerTransactionKey] from msg,
// choosing the RFC 3261 branch-based form when the topmost Via carries the
// magic cookie and falling back to the RFC 2543 header-tuple form otherwise.
func MakeServerTransactionKey(msg Message) (ServerTransactionKey, error) {
	if msg == nil {
		return zeroSrvTxKey, errtrace.Wrap(NewInvalidArgumentError("invalid message"))
	}
	if err := msg.Validate(); err != nil {
		return zeroSrvTxKey, errtrace.Wrap(NewInvalidArgumentError(err))
	}

	hdrs := GetMessageHeaders(msg)
	via, _ := hdrs.FirstVia()
	if branch, _ := via.Branch(); IsRFC3261Branch(branch) {
		return keyFromBranch(hdrs, via), nil
	}
	return errtrace.Wrap2(keyFromHeaders(msg, hdrs, via))
}

// ackFoldsToInvite maps an ACK's CSeq method onto INVITE, since RFC 3261
// §17.2.3 matches a 2xx ACK by reusing the INVITE transaction's key (non-2xx
// ACKs are absorbed by the INVITE server transaction itself and never reach
// key construction as a fresh request).
func ackFoldsToInvite(method RequestMethod) string {
	if method.Equal(RequestMethodAck) {
		return string(RequestMethodInvite)
	}
	return string(method.ToUpper())
}

func keyFromBranch(hdrs Headers, via *header.ViaHop) ServerTransactionKey {
	cseq, _ := hdrs.CSeq()
	branch, _ := via.Branch()
	return ServerTransactionKey{
		Branch: branch,
		SentBy: util.LCase(via.Addr.String()),
		Method: ackFoldsToInvite(cseq.Method),
	}
}

func keyFromHeaders(msg Message, hdrs Headers, via *header.ViaHop) (ServerTransactionKey, error) {
	from, _ := hdrs.From()
	fromTag, _ := from.Tag()
	if fromTag == "" {
		return zeroSrvTxKey, errtrace.Wrap(NewInvalidArgumentError("missing From tag"))
	}

	to, _ := hdrs.To()
	toTag, _ := to.Tag()

	callID, _ := hdrs.CallID()
	cseq, _ := hdrs.CSeq()

	k := ServerTransactionKey{
		Via:     util.LCase(via.String()),
		CallID:  string(callID),
		FromTag: fromTag,
		ToTag:   toTag,
		SeqNum:  cseq.SeqNum,
		Method:  ackFoldsToInvite(cseq.Method),
	}

	switch m := msg.(type) {
	case *Request:
		k.URI = util.LCase(m.URI.Render(nil))
	case interface{ URI() URI }:
		k.URI = util.LCase(m.URI().Render(nil))
	}
	return k, nil
}

// Equal reports whether val is a [ServerTransactionKey] (or pointer to one)
// matching k under whichever rule (RFC 3261 branch-based or RFC 2543
// fallback) k itself was built with.
func (k ServerTransactionKey) Equal(val any) bool {
	var other ServerTransactionKey
	switch v := val.(type) {
	case ServerTransactionKey:
		other = v
	case *ServerTransactionKey:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}

	if IsRFC3261Branch(k.Branch) {
		return k.Branch == other.Branch &&
			util.EqFold(k.SentBy, other.SentBy) &&
			util.EqFold(k.Method, other.Method)
	}

	return util.EqFold(k.Method, other.Method) &&
		util.EqFold(k.URI, other.URI) &&
		k.FromTag == other.FromTag &&
		k.ToTag == other.ToTag &&
		k.CallID == other.CallID &&
		k.SeqNum == other.SeqNum &&
		util.EqFold(k.Via, other.Via)
}

func (k ServerTransactionKey) IsValid() bool {
	if IsRFC3261Branch(k.Branch) {
		return k.SentBy != "" && k.Method != ""
	}
	return k.Method != "" &&
		k.URI != "" &&
		k.FromTag != "" &&
		k.CallID != "" &&
		k.SeqNum > 0 &&
		k.Via != ""
}

func (k ServerTransactionKey) IsZero() bool {
	return k == zeroSrvTxKey
}

func (k ServerTransactionKey) LogValue() slog.Value {
	if IsRFC3261Branch(k.Branch) {
		return slog.GroupValue(
			slog.Any("branch", k.Branch),
			slog.Any("sent_by", k.SentBy),
			slog.Any("method", k.Method),
		)
	}
	return slog.GroupValue(
		slog.Any("method", k.Method),
		slog.Any("uri", k.URI),
		slog.Any("from_tag", k.FromTag),
		slog.Any("to_tag", k.ToTag),
		slog.Any("call_id", k.CallID),
		slog.Any("seq_num", k.SeqNum),
		slog.Any("via", k.Via),
	)
}

const (
	srvTxKeyHash3261 byte = 1
	srvTxKeyHash2543 byte = 2
)

// MarshalBinary returns a canonical, case-folded binary form of the key
// suitable for use as a stable store hash; the canonical form round-trips
// through [UnmarshalBinary].
func (k ServerTransactionKey) MarshalBinary() ([]byte, error) {
	if IsRFC3261Branch(k.Branch) {
		return k.marshal3261(), nil
	}
	return k.marshal2543(), nil
}

func (k ServerTransactionKey) marshal3261() []byte {
	sentBy := util.LCase(k.SentBy)
	method := util.UCase(k.Method)

	size := 1 +
		util.SizePrefixedString(k.Branch) +
		util.SizePrefixedString(sentBy) +
		util.SizePrefixedString(method)

	buf := make([]byte, 0, size)
	buf = append(buf, srvTxKeyHash3261)
	buf = util.AppendPrefixedString(buf, k.Branch)
	buf = util.AppendPrefixedString(buf, sentBy)
	buf = util.AppendPrefixedString(buf, method)
	return buf
}

func (k ServerTransactionKey) marshal2543() []byte {
	method := util.UCase(k.Method)
	uri := util.LCase(k.URI)
	via := util.LCase(k.Via)

	size := 1 +
		util.SizePrefixedString(uri) +
		util.SizePrefixedString(k.FromTag) +
		util.SizePrefixedString(k.ToTag) +
		util.SizePrefixedString(k.CallID) +
		util.SizeUVarInt(uint64(k.SeqNum)) +
		util.SizePrefixedString(method) +
		util.SizePrefixedString(via)

	buf := make([]byte, 0, size)
	buf = append(buf, srvTxKeyHash2543)
	buf = util.AppendPrefixedString(buf, uri)
	buf = util.AppendPrefixedString(buf, k.FromTag)
	buf = util.AppendPrefixedString(buf, k.ToTag)
	buf = util.AppendPrefixedString(buf, k.CallID)
	buf = util.AppendUVarInt(buf, uint64(k.SeqNum))
	buf = util.AppendPrefixedString(buf, method)
	buf = util.AppendPrefixedString(buf, via)
	return buf
}

// UnmarshalBinary populates the key from a representation produced by
// [MarshalBinary].
func (k *ServerTransactionKey) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return errtrace.Wrap(NewInvalidArgumentError("invalid data"))
	}

	var (
		rest = data[1:]
		err  error
		key  ServerTransactionKey
	)

	switch data[0] {
	case srvTxKeyHash3261:
		if key.Branch, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
		if key.SentBy, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
		if key.Method, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
	case srvTxKeyHash2543:
		if key.URI, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
		if key.FromTag, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
		if key.ToTag, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
		if key.CallID, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
		var seqNum uint64
		if seqNum, rest, err = util.ConsumeUVarInt(rest); err != nil {
			return errtrace.Wrap(err)
		}
		key.SeqNum = uint(seqNum)
		if key.Method, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
		if key.Via, rest, err = util.ConsumePrefixedString(rest); err != nil {
			return errtrace.Wrap(err)
		}
	default:
		return errtrace.Wrap(NewInvalidArgumentError("unknown key format"))
	}

	if len(rest) != 0 {
		return errtrace.Wrap(NewInvalidArgumentError("unexpected trailing data"))
	}

	*k = key
	return nil
}

func (k ServerTransactionKey) String() string {
	data, _ := k.MarshalBinary()
	return hex.EncodeToString(data)
}

func (k ServerTransactionKey) Format(f fmt.State, verb rune) {
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

		type hideMethods ServerTransactionKey
		type ServerTransactionKey hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), ServerTransactionKey(k))
		return
	}
}

// ServerTransactionStore tracks live server transactions keyed by
// [ServerTransactionKey], plus a secondary merged-request index for RFC
// 3261/2543 loop detection (§8.2.2.2).
type ServerTransactionStore interface {
	Load(ctx context.Context, key ServerTransactionKey) (ServerTransaction, error)
	LookupMatched(ctx context.Context, msg Message) (ServerTransaction, error)
	LookupMerged(ctx context.Context, key ServerTransactionKey) (ServerTransaction, error)
	Store(ctx context.Context, tx ServerTransaction) error
	Delete(ctx context.Context, tx ServerTransaction) error
	All(ctx context.Context) (iter.Seq[ServerTransaction], error)
}

// MemoryServerTransactionStore is a process-local [ServerTransactionStore].
// It keeps two independently-locked shard maps: one for exact request-match
// lookups, one keyed on the dialog-identifying tuple alone (From-tag,
// Call-ID, CSeq, method) for merged-request loop detection.
type MemoryServerTransactionStore struct {
	locks  syncutil.KeyMutex[string]
	byKey  *syncutil.ShardMap[string, ServerTransaction]
	merged *syncutil.ShardMap[string, ServerTransaction]
}

// NewMemoryServerTransactionStore creates an empty in-memory store.
func NewMemoryServerTransactionStore() *MemoryServerTransactionStore {
	return &MemoryServerTransactionStore{
		byKey:  syncutil.NewShardMap[string, ServerTransaction](),
		merged: syncutil.NewShardMap[string, ServerTransaction](),
	}
}

// mergedKey projects a full key down to the dialog tuple used for the merged
// index: stripped of branch/sentBy/uri/toTag/via, since those can legally
// differ between what a forking proxy would consider the "same" retransmit.
func mergedKey(key ServerTransactionKey) ServerTransactionKey {
	return ServerTransactionKey{
		FromTag: key.FromTag,
		CallID:  key.CallID,
		SeqNum:  key.SeqNum,
		Method:  key.Method,
	}
}

func (s *MemoryServerTransactionStore) Load(
	_ context.Context,
	key ServerTransactionKey,
) (ServerTransaction, error) {
	if tx, ok := s.get(key.String()); ok {
		return tx, nil
	}

	// RFC 2543 ACKs for a non-2xx final response carry the To-tag the UAS
	// assigned, which the original INVITE's key doesn't have; retry without it.
	if IsRFC3261Branch(key.Branch) || !util.EqFold(key.Method, string(RequestMethodAck)) {
		return nil, errtrace.Wrap(ErrTransactionNotFound)
	}
	key.ToTag = ""
	if tx, ok := s.get(key.String()); ok {
		return tx, nil
	}
	return nil, errtrace.Wrap(ErrTransactionNotFound)
}

func (s *MemoryServerTransactionStore) get(hash string) (ServerTransaction, bool) {
	unlock := s.locks.Lock(hash)
	defer unlock()
	return s.byKey.Get(hash)
}

// LookupMatched loads the transaction keyed by msg and re-checks the full
// match rule, guarding against a hash collision between [ServerTransactionKey]
// values that compress to the same string.
func (s *MemoryServerTransactionStore) LookupMatched(
	ctx context.Context,
	msg Message,
) (ServerTransaction, error) {
	key, err := MakeServerTransactionKey(msg)
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

func (s *MemoryServerTransactionStore) LookupMerged(
	_ context.Context,
	key ServerTransactionKey,
) (ServerTransaction, error) {
	hash := mergedKey(key).String()
	unlock := s.locks.Lock(hash)
	tx, ok := s.merged.Get(hash)
	unlock()
	if !ok {
		return nil, errtrace.Wrap(ErrTransactionNotFound)
	}
	return tx, nil
}

func (s *MemoryServerTransactionStore) Store(_ context.Context, tx ServerTransaction) error {
	key := tx.Key()

	hash := key.String()
	unlock := s.locks.Lock(hash)
	if _, ok := s.byKey.Get(hash); ok {
		unlock()
		return errtrace.Wrap(NewInvalidArgumentError("transaction already exists"))
	}
	s.byKey.Set(hash, tx)
	unlock()

	mHash := mergedKey(key).String()
	unlock = s.locks.Lock(mHash)
	s.merged.Set(mHash, tx)
	unlock()
	return nil
}

func (s *MemoryServerTransactionStore) Delete(_ context.Context, tx ServerTransaction) error {
	key := tx.Key()

	hash := key.String()
	unlock := s.locks.Lock(hash)
	s.byKey.Del(hash)
	unlock()

	mHash := mergedKey(key).String()
	unlock = s.locks.Lock(mHash)
	s.merged.Del(mHash)
	unlock()
	return nil
}

func (s *MemoryServerTransactionStore) All(_ context.Context) (iter.Seq[ServerTransaction], error) {
	return util.SeqValues(s.byKey.Items()), nil
}
