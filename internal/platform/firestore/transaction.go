package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

type txContextKey struct{}

// WithTx stores the active transaction on the context so repository calls made
// during the transaction function route their reads and writes through it.
func WithTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFrom returns the transaction carried on the context, if any.
func TxFrom(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok
}

// TxFunc is executed within a Firestore transaction. The supplied context
// carries the transaction; see WithTx.
type TxFunc func(ctx context.Context) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn within a transaction on the provided client. The
// context passed to fn carries the transaction for repository routing.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	var firestoreOpts []firestore.TransactionOption
	if cfg.attempts > 0 {
		firestoreOpts = append(firestoreOpts, firestore.MaxAttempts(cfg.attempts))
	}

	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(WithTx(ctx, tx))
	}, firestoreOpts...)

	return WrapError("transaction", err)
}
