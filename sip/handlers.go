package sip

import "context"

// ErrorHandler reports an error encountered off the main call path (e.g.
// inside a goroutine driving a timer or a background send).
type ErrorHandler = func(ctx context.Context, err error)

// Message delivery callbacks, one per direction/kind of envelope.
type (
	InboundRequestHandler   = func(ctx context.Context, req *InboundRequestEnvelope)
	InboundResponseHandler  = func(ctx context.Context, res *InboundResponseEnvelope)
	OutboundRequestHandler  = func(ctx context.Context, req *OutboundRequestEnvelope)
	OutboundResponseHandler = func(ctx context.Context, res *OutboundResponseEnvelope)
)

// TransactionStateHandler observes a single transaction's state changes.
type TransactionStateHandler = func(ctx context.Context, from, to TransactionState)

// Transaction-creation callbacks, fired once per newly minted transaction.
type (
	ClientTransactionHandler = func(ctx context.Context, tx ClientTransaction)
	ServerTransactionHandler = func(ctx context.Context, tx ServerTransaction)
)

// TransactionInitHandlerRegistry is implemented by anything that can notify
// callers about freshly created transactions, such as [TransactionManager].
type TransactionInitHandlerRegistry interface {
	OnNewClientTransaction(fn ClientTransactionHandler) (unbind func())
	OnNewServerTransaction(fn ServerTransactionHandler) (unbind func())
}
