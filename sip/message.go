package sip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/siptx/internal/errorutil"
	"github.com/sipstack/siptx/internal/grammar"
	"github.com/sipstack/siptx/internal/types"
)

// ProtoInfo represents a protocol name and version, e.g. "SIP/2.0".
// See [types.ProtoInfo].
type ProtoInfo = types.ProtoInfo

var protoVer20 = ProtoInfo{Name: "SIP", Version: "2.0"}

// ProtoVer20 returns the [ProtoInfo] for "SIP/2.0", the only protocol version
// defined by RFC 3261.
func ProtoVer20() ProtoInfo { return protoVer20 }

// TransportProto represents a SIP transport protocol name, e.g. "UDP", "TCP", "TLS".
// See [types.TransportProto].
type TransportProto = types.TransportProto

// Values is a multi-value parameter map, used for header and URI parameters.
// See [types.Values].
type Values = types.Values

// Addr represents a host, optionally resolved to an IP and carrying a port.
// See [types.Addr].
type Addr = types.Addr

// Host returns an [Addr] built from a hostname or IP literal without a port.
// See [types.Host].
func Host(host string) Addr { return types.Host(host) }

// HostPort returns an [Addr] built from a hostname or IP literal with a port.
// See [types.HostPort].
func HostPort(host string, port uint16) Addr { return types.HostPort(host, port) }

// ParseAddr parses a host[:port] value into an [Addr].
// See [types.ParseAddr].
func ParseAddr[T ~string | ~[]byte](s T) (Addr, error) { return errtrace.Wrap2(types.ParseAddr(s)) }

// RenderOptions carries options controlling how a [Message] or its parts are rendered.
// See [types.RenderOptions].
type RenderOptions = types.RenderOptions

// Message is the common interface implemented by [*Request] and [*Response].
//
// It is also the element type accepted by the generic envelope types used to carry
// inbound/outbound messages through transports and transactions.
type Message interface {
	// RenderTo renders the message to the given writer.
	RenderTo(w io.Writer, opts *RenderOptions) (int, error)
	// Render renders the message to a string.
	Render(opts *RenderOptions) string
	fmt.Stringer
	fmt.Formatter
	slog.LogValuer
	// Clone returns a deep copy of the message.
	Clone() Message
	// Equal returns whether the message is equal to another value.
	Equal(val any) bool
	// IsValid returns whether the message is valid.
	IsValid() bool
	// Validate validates the message and returns an error if invalid.
	Validate() error
}

// GetMessageHeaders returns the headers of the given message.
func GetMessageHeaders(msg Message) Headers {
	switch m := msg.(type) {
	case *Request:
		return m.Headers
	case *Response:
		return m.Headers
	default:
		return nil
	}
}

// SetMessageHeaders sets the headers of the given message.
func SetMessageHeaders(msg Message, hdrs Headers) {
	switch m := msg.(type) {
	case *Request:
		m.Headers = hdrs
	case *Response:
		m.Headers = hdrs
	}
}

// GetMessageBody returns the body of the given message.
func GetMessageBody(msg Message) []byte {
	switch m := msg.(type) {
	case *Request:
		return m.Body
	case *Response:
		return m.Body
	default:
		return nil
	}
}

// SetMessageBody sets the body of the given message.
func SetMessageBody(msg Message, body []byte) {
	switch m := msg.(type) {
	case *Request:
		m.Body = body
	case *Response:
		m.Body = body
	}
}

var sipVerPrefix = []byte("SIP/")

// parseMessageStart parses the first line of a SIP message (Request-Line or Status-Line)
// as defined in RFC 3261 Section 7.1, and returns a [*Request] or [*Response] with only the
// start line fields populated. Headers and body are filled in by the caller.
func parseMessageStart(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errtrace.Wrap(grammar.ErrEmptyInput)
	}

	if bytes.HasPrefix(line, sipVerPrefix) {
		return parseStatusLine(line)
	}
	return parseRequestLine(line)
}

func parseRequestLine(line []byte) (*Request, error) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return nil, errtrace.Wrap(newMalformedLineErr("request-line", line))
	}

	mtd := RequestMethod(parts[0])
	if !mtd.IsValid() {
		return nil, errtrace.Wrap(newMalformedLineErr("request method", parts[0]))
	}

	ruri, err := ParseURI(parts[1])
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("parse request URI: %w", err))
	}

	proto, err := parseProtoInfo(parts[2])
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	return &Request{Method: mtd, URI: ruri, Proto: proto}, nil
}

func parseStatusLine(line []byte) (*Response, error) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return nil, errtrace.Wrap(newMalformedLineErr("status-line", line))
	}

	proto, err := parseProtoInfo(parts[0])
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	code, err := strconv.Atoi(string(parts[1]))
	if err != nil {
		return nil, errtrace.Wrap(newMalformedLineErr("status code", parts[1]))
	}

	var reason string
	if len(parts) == 3 {
		reason = string(parts[2])
	}

	return &Response{Status: ResponseStatus(code), Reason: reason, Proto: proto}, nil
}

func parseProtoInfo(b []byte) (ProtoInfo, error) {
	name, ver, ok := bytes.Cut(b, []byte("/"))
	if !ok {
		return ProtoInfo{}, errtrace.Wrap(newMalformedLineErr("protocol", b))
	}
	return ProtoInfo{Name: string(name), Version: string(ver)}, nil
}

func newMalformedLineErr(what string, b []byte) error {
	return errorutil.NewWrapperError(grammar.ErrMalformedInput, "%s %q", what, b) //errtrace:skip
}

// MessageMetadata holds out-of-band, implementation-defined data attached to a message
// envelope (e.g. the timestamp of the request a response was generated for, or the
// transaction key it was matched to). It is safe for concurrent use.
type MessageMetadata struct {
	mu   sync.RWMutex
	data map[string]any
}

// Set stores the value under the given key.
func (md *MessageMetadata) Set(key string, val any) *MessageMetadata {
	if md == nil {
		return nil
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.data == nil {
		md.data = make(map[string]any, 1)
	}
	md.data[key] = val
	return md
}

// Get returns the value stored under the given key.
func (md *MessageMetadata) Get(key string) (any, bool) {
	if md == nil {
		return nil, false
	}
	md.mu.RLock()
	defer md.mu.RUnlock()
	val, ok := md.data[key]
	return val, ok
}

// Del removes the value stored under the given key.
func (md *MessageMetadata) Del(key string) {
	if md == nil {
		return
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	delete(md.data, key)
}

// Clone returns a deep copy of the metadata.
func (md *MessageMetadata) Clone() *MessageMetadata {
	if md == nil {
		return nil
	}
	md.mu.RLock()
	defer md.mu.RUnlock()
	md2 := &MessageMetadata{data: make(map[string]any, len(md.data))}
	for k, v := range md.data {
		md2.data[k] = v
	}
	return md2
}

// atomicBox is a small generic wrapper over [atomic.Pointer] that stores and loads
// values of T directly, falling back to the zero value of T when nothing was stored yet.
type atomicBox[T any] struct {
	p atomic.Pointer[T]
}

func (b *atomicBox[T]) Store(v T) { b.p.Store(&v) }

func (b *atomicBox[T]) Load() T {
	if p := b.p.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

// inboundMessageEnvelope wraps a [Message] received from a transport.
// It is immutable after construction.
type inboundMessageEnvelope[T Message] struct {
	msg     atomicBox[T]
	tp      atomicBox[TransportProto]
	locAddr atomicBox[netip.AddrPort]
	rmtAddr atomicBox[netip.AddrPort]
	msgTime time.Time
	data    *MessageMetadata
}

func (e *inboundMessageEnvelope[T]) message() T { return e.msg.Load() }

func (e *inboundMessageEnvelope[T]) Message() T { return e.message() }

func (e *inboundMessageEnvelope[T]) Headers() Headers { return GetMessageHeaders(e.message()) }

func (e *inboundMessageEnvelope[T]) Body() []byte { return GetMessageBody(e.message()) }

func (e *inboundMessageEnvelope[T]) Transport() TransportProto { return e.tp.Load() }

func (e *inboundMessageEnvelope[T]) transport() TransportProto { return e.Transport() }

func (e *inboundMessageEnvelope[T]) LocalAddr() netip.AddrPort { return e.locAddr.Load() }

func (e *inboundMessageEnvelope[T]) localAddr() netip.AddrPort { return e.LocalAddr() }

func (e *inboundMessageEnvelope[T]) RemoteAddr() netip.AddrPort { return e.rmtAddr.Load() }

func (e *inboundMessageEnvelope[T]) remoteAddr() netip.AddrPort { return e.RemoteAddr() }

func (e *inboundMessageEnvelope[T]) MessageTime() time.Time { return e.msgTime }

func (e *inboundMessageEnvelope[T]) Metadata() *MessageMetadata { return e.data }

func (e *inboundMessageEnvelope[T]) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	return errtrace.Wrap2(e.message().RenderTo(w, opts))
}

func (e *inboundMessageEnvelope[T]) Render(opts *RenderOptions) string {
	return e.message().Render(opts)
}

func (e *inboundMessageEnvelope[T]) Clone() Message {
	msg, _ := e.message().Clone().(T) //nolint:forcetypeassert
	e2 := &inboundMessageEnvelope[T]{
		msgTime: e.msgTime,
		data:    e.data.Clone(),
	}
	e2.msg.Store(msg)
	e2.tp.Store(e.tp.Load())
	e2.locAddr.Store(e.locAddr.Load())
	e2.rmtAddr.Store(e.rmtAddr.Load())
	return e2
}

func (e *inboundMessageEnvelope[T]) Equal(v any) bool {
	other, ok := v.(*inboundMessageEnvelope[T])
	if !ok {
		return false
	}
	if e == other {
		return true
	} else if e == nil || other == nil {
		return false
	}
	return e.message().Equal(other.message())
}

func (e *inboundMessageEnvelope[T]) IsValid() bool { return e.message().IsValid() }

func (e *inboundMessageEnvelope[T]) Validate() error {
	return errtrace.Wrap(e.message().Validate())
}

func (e *inboundMessageEnvelope[T]) MarshalJSON() ([]byte, error) {
	return errtrace.Wrap2(json.Marshal(e.message()))
}

func (e *inboundMessageEnvelope[T]) UnmarshalJSON(data []byte) error {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return errtrace.Wrap(err)
	}
	e.msg.Store(msg)
	if e.data == nil {
		e.data = new(MessageMetadata)
	}
	return nil
}

func (e *inboundMessageEnvelope[T]) LogValue() slog.Value {
	if e == nil {
		return zeroSlogValue
	}
	return slog.GroupValue(
		slog.Any("message", e.message()),
		slog.String("transport", string(e.Transport())),
		slog.String("local_addr", e.LocalAddr().String()),
		slog.String("remote_addr", e.RemoteAddr().String()),
	)
}

// messageEnvelope is the mutable core shared by outbound message envelopes.
// Unlike [inboundMessageEnvelope], its message pointer and addressing can be
// updated after construction (e.g. once the transport resolves the target),
// guarded by msgMu for callers that need a consistent read across multiple fields.
type messageEnvelope[T Message] struct {
	msgMu   sync.RWMutex
	msg     atomicBox[T]
	tp      atomicBox[TransportProto]
	locAddr atomicBox[netip.AddrPort]
	rmtAddr atomicBox[netip.AddrPort]
	msgTime time.Time
	data    *MessageMetadata
}

func (e *messageEnvelope[T]) message() T { return e.msg.Load() }

func (e *messageEnvelope[T]) Message() T {
	e.msgMu.RLock()
	defer e.msgMu.RUnlock()
	return e.message()
}

func (e *messageEnvelope[T]) AccessMessage(update func(T)) {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	update(e.message())
}

func (e *messageEnvelope[T]) Headers() Headers {
	e.msgMu.RLock()
	defer e.msgMu.RUnlock()
	return GetMessageHeaders(e.message())
}

func (e *messageEnvelope[T]) Body() []byte {
	e.msgMu.RLock()
	defer e.msgMu.RUnlock()
	return GetMessageBody(e.message())
}

func (e *messageEnvelope[T]) Transport() TransportProto { return e.tp.Load() }

func (e *messageEnvelope[T]) transport() TransportProto { return e.Transport() }

func (e *messageEnvelope[T]) SetTransport(tp TransportProto) { e.tp.Store(tp) }

func (e *messageEnvelope[T]) LocalAddr() netip.AddrPort { return e.locAddr.Load() }

func (e *messageEnvelope[T]) localAddr() netip.AddrPort { return e.LocalAddr() }

func (e *messageEnvelope[T]) SetLocalAddr(addr netip.AddrPort) { e.locAddr.Store(addr) }

func (e *messageEnvelope[T]) RemoteAddr() netip.AddrPort { return e.rmtAddr.Load() }

func (e *messageEnvelope[T]) remoteAddr() netip.AddrPort { return e.RemoteAddr() }

func (e *messageEnvelope[T]) SetRemoteAddr(addr netip.AddrPort) { e.rmtAddr.Store(addr) }

func (e *messageEnvelope[T]) MessageTime() time.Time { return e.msgTime }

func (e *messageEnvelope[T]) Metadata() *MessageMetadata { return e.data }

func (e *messageEnvelope[T]) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	e.msgMu.RLock()
	defer e.msgMu.RUnlock()
	return errtrace.Wrap2(e.message().RenderTo(w, opts))
}

func (e *messageEnvelope[T]) Render(opts *RenderOptions) string {
	e.msgMu.RLock()
	defer e.msgMu.RUnlock()
	return e.message().Render(opts)
}

func (e *messageEnvelope[T]) Clone() Message {
	e.msgMu.RLock()
	defer e.msgMu.RUnlock()

	msg, _ := e.message().Clone().(T) //nolint:forcetypeassert
	e2 := &messageEnvelope[T]{
		msgTime: e.msgTime,
		data:    e.data.Clone(),
	}
	e2.msg.Store(msg)
	e2.tp.Store(e.tp.Load())
	e2.locAddr.Store(e.locAddr.Load())
	e2.rmtAddr.Store(e.rmtAddr.Load())
	return e2
}

func (e *messageEnvelope[T]) Equal(v any) bool {
	other, ok := v.(*messageEnvelope[T])
	if !ok {
		return false
	}
	if e == other {
		return true
	} else if e == nil || other == nil {
		return false
	}
	return e.Message().Equal(other.Message())
}

func (e *messageEnvelope[T]) IsValid() bool { return e.Message().IsValid() }

func (e *messageEnvelope[T]) Validate() error {
	return errtrace.Wrap(e.Message().Validate())
}

func (e *messageEnvelope[T]) MarshalJSON() ([]byte, error) {
	e.msgMu.RLock()
	defer e.msgMu.RUnlock()
	return errtrace.Wrap2(json.Marshal(e.message()))
}

func (e *messageEnvelope[T]) UnmarshalJSON(data []byte) error {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return errtrace.Wrap(err)
	}
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	e.msg.Store(msg)
	if e.data == nil {
		e.data = new(MessageMetadata)
	}
	return nil
}

func (e *messageEnvelope[T]) LogValue() slog.Value {
	if e == nil {
		return zeroSlogValue
	}
	return slog.GroupValue(
		slog.Any("message", e.Message()),
		slog.String("transport", string(e.Transport())),
		slog.String("local_addr", e.LocalAddr().String()),
		slog.String("remote_addr", e.RemoteAddr().String()),
	)
}

// outboundMessageEnvelope wraps a [Message] to be sent to a transport.
type outboundMessageEnvelope[T Message] struct {
	*messageEnvelope[T]
}

func (e *outboundMessageEnvelope[T]) LogValue() slog.Value {
	if e == nil {
		return zeroSlogValue
	}
	return e.messageEnvelope.LogValue()
}

var (
	zeroSlogValue slog.Value

	sNilTag  = "<nil>"
	bNilTag  = []byte(sNilTag)
	jsonNull = []byte("null")
)

// InboundRequest is a convenience alias for [InboundRequestEnvelope].
type InboundRequest = InboundRequestEnvelope

// OutboundRequest is a convenience alias for [OutboundRequestEnvelope].
type OutboundRequest = OutboundRequestEnvelope

// InboundResponse is a convenience alias for [InboundResponseEnvelope].
type InboundResponse = InboundResponseEnvelope

// OutboundResponse is a convenience alias for [OutboundResponseEnvelope].
type OutboundResponse = OutboundResponseEnvelope
