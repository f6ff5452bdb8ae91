package sip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/siptx/header"
	"github.com/sipstack/siptx/internal/types"
	"github.com/sipstack/siptx/internal/util"
	"github.com/sipstack/siptx/log"
)

// TransportRequestHandler is a callback invoked for every inbound request accepted by
// a transport, alongside the transport it was received on (usable to respond).
type TransportRequestHandler = func(ctx context.Context, tp ServerTransport, req *InboundRequestEnvelope)

// TransportResponseHandler is a callback invoked for every inbound response accepted by
// a transport, alongside the transport it was received on.
type TransportResponseHandler = func(ctx context.Context, tp ClientTransport, res *InboundResponseEnvelope)

// Transport represents a combination of client and server transports capable of
// serving inbound messages and being notified of them through callbacks.
type Transport interface {
	ClientTransport
	ServerTransport
	// OnRequest registers a callback invoked for every inbound request accepted by the transport.
	OnRequest(fn TransportRequestHandler) (cancel func())
	// OnResponse registers a callback invoked for every inbound response accepted by the transport.
	OnResponse(fn TransportResponseHandler) (cancel func())
	// Serve starts the transport read loop and blocks until the transport is closed.
	Serve(ctx context.Context) error
	// Close closes the transport.
	Close(ctx context.Context) error
}

// TransportMetadata describes the static properties of a transport.
type TransportMetadata struct {
	Proto       TransportProto
	Network     string
	Reliable    bool
	Secured     bool
	Streamed    bool
	DefaultPort uint16
}

const (
	clnTranspCtxKey types.ContextKey = "client_transport"
	srvTranspCtxKey types.ContextKey = "server_transport"
	transpCtxKey    types.ContextKey = "transport"
)

// ContextWithTransport returns a copy of ctx carrying tp, retrievable through
// [TransportFromContext], [ServerTransportFromContext] and [ClientTransportFromContext].
func ContextWithTransport(ctx context.Context, tp Transport) context.Context {
	return context.WithValue(ctx, transpCtxKey, tp)
}

// TransportFromContext returns the [Transport] carried by ctx, if any.
func TransportFromContext(ctx context.Context) (Transport, bool) {
	tp, ok := ctx.Value(transpCtxKey).(Transport)
	return tp, ok
}

// ServerTransportFromContext returns the [ServerTransport] carried by ctx, if any.
// It first looks for a value bound specifically as a server transport (e.g. by a
// decorator wrapping the inbound request handling chain), then falls back to the
// generic [Transport] stored by [ContextWithTransport].
func ServerTransportFromContext(ctx context.Context) (ServerTransport, bool) {
	if tp, ok := ctx.Value(srvTranspCtxKey).(ServerTransport); ok {
		return tp, true
	}
	tp, ok := ctx.Value(transpCtxKey).(ServerTransport)
	return tp, ok
}

// ClientTransportFromContext returns the [ClientTransport] carried by ctx, if any.
// See [ServerTransportFromContext] for the lookup order.
func ClientTransportFromContext(ctx context.Context) (ClientTransport, bool) {
	if tp, ok := ctx.Value(clnTranspCtxKey).(ClientTransport); ok {
		return tp, true
	}
	tp, ok := ctx.Value(transpCtxKey).(ClientTransport)
	return tp, ok
}

// GetTransportProto duck-types tp to extract its transport protocol.
func GetTransportProto(tp any) (TransportProto, bool) {
	if v, ok := tp.(interface{ Proto() TransportProto }); ok {
		return v.Proto(), true
	}
	return "", false
}

// GetTransportNetwork duck-types tp to extract its network name.
func GetTransportNetwork(tp any) (string, bool) {
	if v, ok := tp.(interface{ Network() string }); ok {
		return v.Network(), true
	}
	return "", false
}

// GetTransportLocalAddr duck-types tp to extract its local address.
func GetTransportLocalAddr(tp any) (netip.AddrPort, bool) {
	if v, ok := tp.(interface{ LocalAddr() netip.AddrPort }); ok {
		return v.LocalAddr(), true
	}
	return zeroAddrPort, false
}

// IsReliableTransport duck-types tp to tell whether it is a reliable transport.
func IsReliableTransport(tp any) bool {
	if v, ok := tp.(interface{ Reliable() bool }); ok {
		return v.Reliable()
	}
	return false
}

// IsSecuredTransport duck-types tp to tell whether it is a secured transport.
func IsSecuredTransport(tp any) bool {
	if v, ok := tp.(interface{ Secured() bool }); ok {
		return v.Secured()
	}
	return false
}

// IsStreamedTransport duck-types tp to tell whether it frames messages over a byte stream.
func IsStreamedTransport(tp any) bool {
	if v, ok := tp.(interface{ Streamed() bool }); ok {
		return v.Streamed()
	}
	return false
}

// GetTransportDefaultPort duck-types tp to extract its default port.
func GetTransportDefaultPort(tp any) (uint16, bool) {
	if v, ok := tp.(interface{ DefaultPort() uint16 }); ok {
		return v.DefaultPort(), true
	}
	return 0, false
}

// rejectRequestError wraps an error that caused an inbound request to be rejected,
// along with the response status it should be rejected with and the level it should
// be logged at.
type rejectRequestError struct {
	err error
	sts ResponseStatus
	lvl slog.Level
}

// NewRejectRequestError returns an error indicating that an inbound request must be
// rejected with the given response status, logged at the given level.
func NewRejectRequestError(err error, sts ResponseStatus, lvl slog.Level) error {
	if err == nil {
		return nil
	}
	return &rejectRequestError{err: err, sts: sts, lvl: lvl} //errtrace:skip
}

func (e *rejectRequestError) Error() string {
	return fmt.Sprintf("request rejected with %d: %v", e.sts, e.err)
}

func (e *rejectRequestError) Unwrap() error { return e.err }

// rejectResponseError wraps an error that caused an inbound response to be discarded,
// along with the level it should be logged at.
type rejectResponseError struct {
	err error
	lvl slog.Level
}

// NewRejectResponseError returns an error indicating that an inbound response must be
// discarded, logged at the given level.
func NewRejectResponseError(err error, lvl slog.Level) error {
	if err == nil {
		return nil
	}
	return &rejectResponseError{err: err, lvl: lvl} //errtrace:skip
}

func (e *rejectResponseError) Error() string {
	return fmt.Sprintf("response rejected: %v", e.err)
}

func (e *rejectResponseError) Unwrap() error { return e.err }

func newUnexpectMsgTypeErr(msg Message) error {
	return fmt.Errorf("%w: unexpected message type %T", ErrInvalidMessage, msg) //errtrace:skip
}

// RespondOptions are options for [ServerTransport]-agnostic stateless responding,
// used by [baseTransp.Respond] and [TransportManager.Respond].
type RespondOptions struct {
	// Headers are additional headers merged into the generated response.
	Headers Headers `json:"headers,omitempty"`
}

func (o *RespondOptions) headers() Headers {
	if o == nil {
		return nil
	}
	return o.Headers
}

// RespondStateless builds and sends a response for req with the given status over tp,
// without involving a transaction. ACK requests are silently ignored, since RFC 3261
// forbids responding to them. The local tag is derived deterministically from the
// request so that retransmitted requests receive a stable dialog identifier.
func RespondStateless(
	ctx context.Context,
	tp ResponseSender,
	req *InboundRequestEnvelope,
	sts ResponseStatus,
	opts *RespondOptions,
) error {
	logger := log.LoggerFromValues(ctx, tp)
	if tp == nil {
		logger.LogAttrs(ctx, slog.LevelError, "silently discard inbound request due to missing transport",
			slog.Any("request", req),
		)
		return errtrace.Wrap(ErrNoTransport)
	}
	if req.Method().Equal(RequestMethodAck) {
		logger.LogAttrs(ctx, slog.LevelDebug, "silently discard inbound ACK request", slog.Any("request", req))
		return nil
	}

	hdrs := opts.headers().Clone()
	if sts == ResponseStatusServerInternalError || sts == ResponseStatusServiceUnavailable {
		if hdrs == nil {
			hdrs = make(Headers)
		}
		hdrs.Append(&header.RetryAfter{Delay: time.Minute})
	}

	res, err := req.NewResponse(sts, &ResponseOptions{
		Headers:  hdrs,
		LocalTag: stableStatelessToTag(req),
	})
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "failed to build response on inbound request",
			slog.Any("request", req),
			slog.Any("error", err),
		)
		return errtrace.Wrap(err)
	}

	if err := tp.SendResponse(ctx, res, nil); err != nil {
		lvl := slog.LevelError
		if errors.Is(err, ErrInvalidMessage) {
			lvl = slog.LevelDebug
		}
		logger.LogAttrs(ctx, lvl, "failed to respond on inbound request",
			slog.Any("request", req),
			slog.Any("response", res),
			slog.Any("error", err),
		)
		return errtrace.Wrap(err)
	}
	return nil
}

// respondStateless is a fire-and-forget variant of [RespondStateless] used by
// transport decorators that only have a [ServerTransport] and a default option set
// available, and cannot propagate a build/send failure any further than a log line.
func respondStateless(ctx context.Context, tp ServerTransport, req *InboundRequestEnvelope, sts ResponseStatus) {
	_ = RespondStateless(ctx, tp, req, sts, nil)
}

// stableStatelessToTag derives a deterministic local tag for a stateless response so
// that retransmissions of the same request produce the same dialog identifier.
func stableStatelessToTag(req *InboundRequestEnvelope) string {
	if req == nil {
		return ""
	}

	hdrs := req.Headers()
	if hdrs == nil {
		return ""
	}

	var reqURI string
	if uri := req.URI(); uri != nil {
		reqURI = util.LCase(uri.Render(nil))
	}

	var topVia string
	if via, ok := hdrs.FirstVia(); ok && via != nil {
		topVia = util.LCase(via.String())
	}

	callID, _ := hdrs.CallID()

	var fromTag string
	if from, ok := hdrs.From(); ok && from != nil {
		if t, ok := from.Tag(); ok {
			fromTag = t
		}
	}

	var cseqNum uint
	var cseqMethod RequestMethod
	if cseq, ok := hdrs.CSeq(); ok && cseq != nil {
		cseqNum = cseq.SeqNum
		cseqMethod = util.UCase(cseq.Method)
	}

	key := make([]byte, 0, 96)
	key = append(key, "uri="...)
	key = append(key, reqURI...)
	key = append(key, "|via="...)
	key = append(key, topVia...)
	key = append(key, "|callid="...)
	key = append(key, callID...)
	key = append(key, "|fromtag="...)
	key = append(key, fromTag...)
	key = append(key, "|cseq="...)
	key = strconv.AppendUint(key, uint64(cseqNum), 10)
	key = append(key, "|cseqm="...)
	key = append(key, cseqMethod...)

	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}
