package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/siptx/internal/errorutil"
	"github.com/sipstack/siptx/internal/types"
	"github.com/sipstack/siptx/log"
)

// defaultStaleTimeout bounds how long a transaction may sit waiting on a peer
// or TU before the manager reaps it, guarding against unbounded store growth
// when nothing ever answers (RFC 3261 leaves this entirely to the
// implementation; PJSIP ships an equivalent "group lock" timeout).
const defaultStaleTimeout = 5 * time.Minute

// TransactionManagerOptions configures a [TransactionManager]. A nil options
// value, or any zero field within one, falls back to a sensible default.
type TransactionManagerOptions struct {
	ServerTransactionFactory ServerTransactionFactory
	ServerTransactionStore  ServerTransactionStore
	ClientTransactionFactory ClientTransactionFactory
	ClientTransactionStore  ClientTransactionStore

	// StaleTransactionTimeout bounds how long a transaction may sit in a
	// non-terminal, response-awaiting state before it is force-terminated.
	// Zero selects [defaultStaleTimeout]; negative disables reaping entirely.
	StaleTransactionTimeout time.Duration

	Logger *slog.Logger
}

func (o *TransactionManagerOptions) serverFactory() ServerTransactionFactory {
	if o != nil && o.ServerTransactionFactory != nil {
		return o.ServerTransactionFactory
	}
	return ServerTransactionFactoryFunc(NewServerTransaction)
}

func (o *TransactionManagerOptions) serverStore() ServerTransactionStore {
	if o != nil && o.ServerTransactionStore != nil {
		return o.ServerTransactionStore
	}
	return NewMemoryServerTransactionStore()
}

func (o *TransactionManagerOptions) clientFactory() ClientTransactionFactory {
	if o != nil && o.ClientTransactionFactory != nil {
		return o.ClientTransactionFactory
	}
	return ClientTransactionFactoryFunc(NewClientTransaction)
}

func (o *TransactionManagerOptions) clientStore() ClientTransactionStore {
	if o != nil && o.ClientTransactionStore != nil {
		return o.ClientTransactionStore
	}
	return NewMemoryClientTransactionStore()
}

func (o *TransactionManagerOptions) staleTimeout() time.Duration {
	if o == nil || o.StaleTransactionTimeout == 0 {
		return defaultStaleTimeout
	}
	return o.StaleTransactionTimeout
}

func (o *TransactionManagerOptions) logger() *slog.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// TransactionManager owns the server and client transaction stores, matches
// inbound requests/responses against them (RFC 3261 §17.2.3/§17.1.3), and
// mints new transactions on behalf of a Transaction User. It is the layer
// described in spec §4.2 (registry) wired to the dispatch flow of §2.
type TransactionManager struct {
	noopMessageInterceptor

	servers ServerTransactionStore
	serverMake ServerTransactionFactory
	clients ClientTransactionStore
	clientMake ClientTransactionFactory

	reapAfter time.Duration
	log       *slog.Logger

	newClientHooks types.CallbackManager[ClientTransactionHandler]
	newServerHooks types.CallbackManager[ServerTransactionHandler]

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewTransactionManager builds a [TransactionManager] from opts; a nil opts
// uses every default described on [TransactionManagerOptions].
func NewTransactionManager(opts *TransactionManagerOptions) *TransactionManager {
	return &TransactionManager{
		servers:    opts.serverStore(),
		serverMake: opts.serverFactory(),
		clients:    opts.clientStore(),
		clientMake: opts.clientFactory(),
		reapAfter:  opts.staleTimeout(),
		log:        opts.logger(),
	}
}

// InboundRequestInterceptor wires request matching into a transport's
// interceptor chain (see [baseTransp.UseInboundRequestInterceptor]).
func (m *TransactionManager) InboundRequestInterceptor() InboundRequestInterceptor {
	return InboundRequestInterceptorFunc(m.matchRequest)
}

// matchRequest looks up the server transaction owning req (RFC 3261 §17.2.3).
// A match absorbs the message entirely; a miss hands it to next, which is
// ordinarily how a TU learns of brand-new requests.
func (m *TransactionManager) matchRequest(
	ctx context.Context,
	req *InboundRequestEnvelope,
	next RequestReceiver,
) error {
	tx, lookupErr := m.servers.LookupMatched(ctx, req)
	if lookupErr != nil {
		return errtrace.Wrap(m.handleUnmatchedRequest(ctx, req, next, lookupErr))
	}

	if err := tx.RecvRequest(ctx, req); err != nil {
		if errors.Is(err, ErrMessageNotMatched) {
			return errtrace.Wrap(NewRejectRequestError(err, ResponseStatusCallTransactionDoesNotExist, slog.LevelDebug))
		}
		return errtrace.Wrap(NewRejectRequestError(err, ResponseStatusServerInternalError, slog.LevelWarn))
	}
	return nil
}

func (m *TransactionManager) handleUnmatchedRequest(
	ctx context.Context,
	req *InboundRequestEnvelope,
	next RequestReceiver,
	lookupErr error,
) error {
	switch {
	case errors.Is(lookupErr, ErrInvalidArgument):
		return NewRejectRequestError(lookupErr, ResponseStatusBadRequest, slog.LevelDebug)
	case !errors.Is(lookupErr, ErrTransactionNotFound):
		return NewRejectRequestError(lookupErr, ResponseStatusServerInternalError, slog.LevelWarn)
	case m.shuttingDown.Load():
		return NewRejectRequestError(ErrTransactionManagerClosed, ResponseStatusServiceUnavailable, slog.LevelDebug)
	default:
		return next.RecvRequest(ctx, req)
	}
}

// InboundResponseInterceptor wires response matching into a transport's
// interceptor chain.
func (m *TransactionManager) InboundResponseInterceptor() InboundResponseInterceptor {
	return InboundResponseInterceptorFunc(m.matchResponse)
}

func (m *TransactionManager) matchResponse(
	ctx context.Context,
	res *InboundResponseEnvelope,
	next ResponseReceiver,
) error {
	tx, lookupErr := m.clients.LookupMatched(ctx, res)
	if lookupErr != nil {
		return errtrace.Wrap(m.handleUnmatchedResponse(ctx, res, next, lookupErr))
	}

	if err := tx.RecvResponse(ctx, res); err != nil {
		if errors.Is(err, ErrMessageNotMatched) {
			return errtrace.Wrap(NewRejectResponseError(err, slog.LevelDebug))
		}
		return errtrace.Wrap(NewRejectResponseError(err, slog.LevelWarn))
	}
	return nil
}

func (m *TransactionManager) handleUnmatchedResponse(
	ctx context.Context,
	res *InboundResponseEnvelope,
	next ResponseReceiver,
	lookupErr error,
) error {
	switch {
	case errors.Is(lookupErr, ErrInvalidArgument):
		return NewRejectResponseError(lookupErr, slog.LevelDebug)
	case !errors.Is(lookupErr, ErrTransactionNotFound):
		return NewRejectResponseError(lookupErr, slog.LevelWarn)
	case m.shuttingDown.Load():
		return NewRejectResponseError(ErrTransactionManagerClosed, slog.LevelDebug)
	default:
		return next.RecvResponse(ctx, res)
	}
}

// Close stops the manager from minting further transactions and terminates
// every transaction still live in either store. Calling Close more than once
// is safe; later calls return the first call's result.
func (m *TransactionManager) Close(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shuttingDown.Store(true)
		m.shutdownErr = m.drainStores(ctx)
	})
	return errtrace.Wrap(m.shutdownErr)
}

func (m *TransactionManager) drainStores(ctx context.Context) error {
	var failures []error

	clientTxs, err := m.clients.All(ctx)
	if err != nil {
		failures = append(failures, fmt.Errorf("list client transactions: %w", err))
	} else {
		for tx := range clientTxs {
			if err := tx.Terminate(ctx); err != nil {
				failures = append(failures, fmt.Errorf("terminate client transaction %q: %w", tx.Key(), err))
			}
		}
	}

	serverTxs, err := m.servers.All(ctx)
	if err != nil {
		failures = append(failures, fmt.Errorf("list server transactions: %w", err))
	} else {
		for tx := range serverTxs {
			if err := tx.Terminate(ctx); err != nil {
				failures = append(failures, fmt.Errorf("terminate server transaction %q: %w", tx.Key(), err))
			}
		}
	}

	if len(failures) == 0 {
		return nil
	}
	return errtrace.Wrap(errorutil.JoinPrefix("failed to close transaction manager:", failures...))
}

// NewClientTransaction creates and registers a new UAC transaction for req,
// sent over tp. It refuses once the manager has started shutting down.
func (m *TransactionManager) NewClientTransaction(
	ctx context.Context,
	req *OutboundRequestEnvelope,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (ClientTransaction, error) {
	if m.shuttingDown.Load() {
		return nil, errtrace.Wrap(ErrTransactionManagerClosed)
	}

	tx, err := m.clientMake.NewClientTransaction(ctx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := m.clients.Store(ctx, tx); err != nil {
		tx.Terminate(ctx) //nolint:errcheck
		return nil, errtrace.Wrap(err)
	}

	tx.OnStateChanged(m.reapOnTerminal(tx, m.clients, isClientAwaitingAnswer))
	for fn := range m.newClientHooks.All() {
		fn(ctx, tx)
	}
	return tx, nil
}

// isClientAwaitingAnswer reports whether state is one in which a client
// INVITE transaction is still waiting on the far end and should be reaped if
// it never hears back.
func isClientAwaitingAnswer(tx ClientTransaction, state TransactionState) bool {
	return tx.Type() == TransactionTypeClientInvite && state == TransactionStateProceeding
}

// reapOnTerminal returns a [TransactionStateHandler] that arms a stale-timeout
// reaper while awaiting(tx, state) holds, cancels it otherwise, and removes
// tx from store once it reaches Terminated — the store-side half of the
// lifecycle discussed in spec §4.6 (no separate Destroyed bookkeeping is
// needed; the store entry's removal is the destruction event).
func (m *TransactionManager) reapOnTerminal(
	tx ClientTransaction,
	store ClientTransactionStore,
	awaiting func(ClientTransaction, TransactionState) bool,
) TransactionStateHandler {
	var reaper *time.Timer
	return func(ctx context.Context, _, to TransactionState) {
		switch {
		case m.reapAfter > 0 && awaiting(tx, to):
			reaper = time.AfterFunc(m.reapAfter, func() { tx.Terminate(ctx) }) //nolint:errcheck
		case reaper != nil:
			reaper.Stop()
		}

		if to != TransactionStateTerminated {
			return
		}
		if err := store.Delete(ctx, tx); err != nil && !errors.Is(err, ErrTransactionNotFound) {
			m.log.LogAttrs(ctx, slog.LevelError, "failed to evict client transaction",
				slog.Any("transaction", tx),
				slog.Any("error", err),
			)
		}
	}
}

// LoadClientTransaction returns the client transaction registered under key.
func (m *TransactionManager) LoadClientTransaction(ctx context.Context, key ClientTransactionKey) (ClientTransaction, error) {
	return errtrace.Wrap2(m.clients.Load(ctx, key))
}

// OnNewClientTransaction registers fn to run whenever a client transaction is
// created; call the returned func to unregister it.
func (m *TransactionManager) OnNewClientTransaction(fn ClientTransactionHandler) (unbind func()) {
	return m.newClientHooks.Add(fn)
}

// NewServerTransaction creates and registers a new UAS transaction for an
// inbound req, answered over tp. It refuses once the manager has started
// shutting down.
func (m *TransactionManager) NewServerTransaction(
	ctx context.Context,
	req *InboundRequestEnvelope,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (ServerTransaction, error) {
	if m.shuttingDown.Load() {
		return nil, errtrace.Wrap(ErrTransactionManagerClosed)
	}

	tx, err := m.serverMake.NewServerTransaction(ctx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := m.servers.Store(ctx, tx); err != nil {
		tx.Terminate(ctx) //nolint:errcheck
		return nil, errtrace.Wrap(err)
	}

	tx.OnStateChanged(m.reapOnTerminalServer(tx))
	for fn := range m.newServerHooks.All() {
		fn(ctx, tx)
	}
	return tx, nil
}

// isServerAwaitingAnswer reports whether state is one in which a server
// transaction is still waiting on the TU to produce a response.
func isServerAwaitingAnswer(_ ServerTransaction, state TransactionState) bool {
	return state == TransactionStateTrying || state == TransactionStateProceeding
}

func (m *TransactionManager) reapOnTerminalServer(tx ServerTransaction) TransactionStateHandler {
	var reaper *time.Timer
	return func(ctx context.Context, _, to TransactionState) {
		switch {
		case m.reapAfter > 0 && isServerAwaitingAnswer(tx, to):
			reaper = time.AfterFunc(m.reapAfter, func() { tx.Terminate(ctx) }) //nolint:errcheck
		case reaper != nil:
			reaper.Stop()
		}

		if to != TransactionStateTerminated {
			return
		}
		if err := m.servers.Delete(ctx, tx); err != nil && !errors.Is(err, ErrTransactionNotFound) {
			m.log.LogAttrs(ctx, slog.LevelError, "failed to evict server transaction",
				slog.Any("transaction", tx),
				slog.Any("error", err),
			)
		}
	}
}

// LoadServerTransaction returns the server transaction registered under key.
func (m *TransactionManager) LoadServerTransaction(ctx context.Context, key ServerTransactionKey) (ServerTransaction, error) {
	return errtrace.Wrap2(m.servers.Load(ctx, key))
}

// OnNewServerTransaction registers fn to run whenever a server transaction is
// created; call the returned func to unregister it.
func (m *TransactionManager) OnNewServerTransaction(fn ServerTransactionHandler) (unbind func()) {
	return m.newServerHooks.Add(fn)
}
