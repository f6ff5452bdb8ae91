package sip

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/sipstack/siptx/header"
	"github.com/sipstack/siptx/internal/errorutil"
)

// Parser is an interface for parsing SIP messages.
//
// It provides methods for parsing a single SIP message from a byte slice or for parsing multiple SIP messages from a
// byte stream.
// The [Parser] type is typically used as a factory for creating [StreamParser].
type Parser interface {
	// ParsePacket parses a single SIP message from the given buffer b.
	//
	// Any implementations must satisfy the following contract:
	// - it assumes that the b contains a full SIP message;
	// - in success case, it returns a [Message] and nil error;
	// - if a message is incomplete, or an error occurs during parsing, it returns an incomplete message and a non-nil
	//   [*ParseError];
	// - if b contains more than one SIP message and the message has no Content-Length header, the remaining bytes
	//   are treated as the body of the first message rather than being parsed as a separate message.
	ParsePacket(b []byte) (Message, error)
	// ParseStream creates a new [StreamParser] for parsing SIP messages from the given [io.Reader].
	ParseStream(r io.Reader) StreamParser
}

// StreamParser is an interface for parsing SIP messages from a byte stream.
//
// It provides an iterator that yields each parsed [Message] and an error, if any.
type StreamParser interface {
	// Messages returns an iterator that yields each parsed [Message] and an error, if any.
	//
	// Any implementations must satisfy the following contract:
	// - in success case, it yields a [Message] and nil error;
	// - if an error occurs during parsing, it yields a nil (or incomplete) message and a non-nil [*ParseError];
	// - once the underlying reader is exhausted, it yields [io.EOF];
	// - the iterator stops when the consumer breaks the loop.
	//
	// Example:
	//	for msg, err := range p.Messages() {
	//		if err != nil {
	//			var perr *sip.ParseError
	//			if errors.As(err, &perr) {
	//				// handle error and decide break or continue
	//				// msg can contain an incomplete message
	//			}
	//			break
	//		}
	//		// everything ok, the message is valid
	//	}
	Messages() iter.Seq2[Message, error]
}

// StdParser is a standard implementation of the [Parser] interface for parsing SIP messages.
//
// It provides methods to parse a single SIP message from a byte slice or multiple SIP messages from a byte stream.
// Custom header parsing is supported through the HeaderParsers map, which allows for extending the default parsing
// capabilities with user-defined header parsers without registering them globally (see [header.RegisterParser]).
type StdParser struct {
	// HeaderParsers is a map of custom header parsers where the key is the canonical header name
	// and the value is the [HeaderParser].
	HeaderParsers map[string]HeaderParser
}

// ParsePacket parses a single SIP message from the given buffer b.
func (p *StdParser) ParsePacket(b []byte) (Message, error) {
	r := getBytesRdr(b)
	br := getBufRdr(r)
	defer func() {
		freeBufRdr(br)
		freeBytesRdr(r)
	}()
	return parseMessage(br, p.HeaderParsers, true)
}

// ParseStream creates a new [StdStreamParser] for parsing SIP messages from the given [io.Reader].
// The returned [StdStreamParser] uses the same header parsers as the [StdParser].
func (p *StdParser) ParseStream(rdr io.Reader) StreamParser {
	return &StdStreamParser{
		rdr:  rdr,
		prss: p.HeaderParsers,
	}
}

// StdStreamParser is a standard implementation of the [StreamParser] interface
// for parsing SIP messages from a byte stream.
// It can be initialized with [StdParser.ParseStream] method.
type StdStreamParser struct {
	rdr  io.Reader
	prss map[string]HeaderParser
}

// Messages returns an iterator that yields each parsed [Message] and an error, if any.
// See [StreamParser.Messages] for more details.
func (p *StdStreamParser) Messages() iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		br := getBufRdr(p.rdr)
		defer freeBufRdr(br)
		for {
			msg, err := parseMessage(br, p.prss, false)
			if !yield(msg, err) {
				break
			}
		}
	}
}

// ParseError represents an error that occurred during parsing.
// It carries the underlying error, the parser state at the time of failure, the raw bytes
// that caused the error (if any) and the message parsed so far (if any).
type ParseError struct {
	Err   error
	State ParseState
	Data  []byte
	Msg   Message
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("parse error at %v: %v", err.State, err.Err)
}

func (err *ParseError) Unwrap() error { return err.Err }

func (err *ParseError) Grammar() bool { return errorutil.IsGrammarErr(err.Err) }

func (err *ParseError) Timeout() bool { return errorutil.IsTimeoutErr(err.Err) }

func (err *ParseError) Temporary() bool { return errorutil.IsTemporaryErr(err.Err) }

// ParseState represents the current parsing state.
type ParseState int

const (
	ParseStateStart   ParseState = iota // parsing message start line
	ParseStateHeaders                   // parsing message headers
	ParseStateBody                      // parsing message body
)

func (s ParseState) String() string {
	switch s {
	case ParseStateStart:
		return "start-line"
	case ParseStateHeaders:
		return "headers"
	case ParseStateBody:
		return "body"
	default:
		return "unknown"
	}
}

//nolint:gocognit
func parseMessage(rdr *bufio.Reader, hdrParsers map[string]HeaderParser, packetMode bool) (Message, error) {
	var (
		state ParseState
		msg   Message
	)
	txtRdr := getTxtProtoRdr(rdr)
	defer freeTxtProtoRdr(txtRdr)
	for {
		switch state {
		case ParseStateStart:
			line, err := txtRdr.ReadLineBytes()
			if err != nil {
				return nil, err //errtrace:skip
			}

			msg, err = parseMessageStart(line)
			if err != nil {
				return msg, &ParseError{Err: err, State: state, Data: line}
			}

			state = ParseStateHeaders
		case ParseStateHeaders:
			hdrs := make(Headers)
			SetMessageHeaders(msg, hdrs)
			for {
				line, err := txtRdr.ReadContinuedLineBytes()
				if err != nil {
					if errors.Is(err, io.EOF) {
						err = NewInvalidMessageError("incomplete headers")
					}
					return msg, &ParseError{Err: err, State: state, Msg: msg}
				}

				if len(line) == 0 {
					break
				}

				hdr, err := parseHeaderLine(line, hdrParsers)
				if err != nil {
					return msg, &ParseError{Err: err, State: state, Data: line, Msg: msg}
				}
				hdrs.Append(hdr)
			}

			var size int
			if cls := hdrs.Get("Content-Length"); len(cls) > 0 {
				if cl, ok := cls[0].(header.ContentLength); ok {
					size = int(cl)
				}
			} else if packetMode {
				size = rdr.Buffered()
			} else {
				err := NewInvalidMessageError(fmt.Sprintf("missing mandatory header %q", "Content-Length"))
				return msg, &ParseError{Err: err, State: state, Msg: msg}
			}
			if size > maxMsgSize() {
				return msg, &ParseError{Err: ErrEntityTooLarge, State: state, Msg: msg}
			}
			if size == 0 {
				return msg, nil
			}
			SetMessageBody(msg, make([]byte, size))

			state = ParseStateBody
		case ParseStateBody:
			buf := GetMessageBody(msg)
			n, err := io.ReadFull(rdr, buf)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					err = NewInvalidMessageError("incomplete body")
				}
				return msg, &ParseError{Err: err, State: state, Data: buf[:n], Msg: msg}
			}
			return msg, nil
		}
	}
}

// parseHeaderLine parses a single unfolded header line, consulting hdrParsers for a
// custom parser registered for the header's canonical name before falling back to
// [ParseHeader].
func parseHeaderLine(line []byte, hdrParsers map[string]HeaderParser) (Header, error) {
	if len(hdrParsers) > 0 {
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			name := bytes.TrimSpace(line[:i])
			if p, ok := hdrParsers[string(CanonicHeaderName(string(name)))]; ok {
				value := bytes.TrimSpace(line[i+1:])
				return p(string(name), value), nil
			}
		}
	}
	return ParseHeader(line) //errtrace:skip
}

var defaultParser = &StdParser{}

// DefaultParser returns the default parser that can be used for parsing SIP messages.
func DefaultParser() *StdParser { return defaultParser }

// ParsePacket parses a single SIP message from the given buffer b using the default parser.
func ParsePacket(b []byte) (Message, error) { return defaultParser.ParsePacket(b) }

// ParseStream creates a new [StdStreamParser] for parsing SIP messages from the given [io.Reader]
// using the default parser.
func ParseStream(r io.Reader) *StdStreamParser {
	return defaultParser.ParseStream(r).(*StdStreamParser) //nolint:forcetypeassert
}
