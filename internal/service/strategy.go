package service

import "context"

// Transactor runs a function inside a native database transaction. The
// postgres implementation threads the transaction handle through the context
// so every repository call inside fn joins it.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// compensateFunc walks an undo log after a failed saga body.
type compensateFunc func(ctx context.Context, log *undoLog, externalOnly bool)

// sagaStrategy is how a completion run handles failure. Which implementation
// is used is decided once, by the transaction capability probe at startup —
// the step sequence itself is identical either way.
type sagaStrategy interface {
	Name() string
	Execute(ctx context.Context, log *undoLog, body func(ctx context.Context) error) error
}

// nativeTxStrategy wraps the saga body in a database transaction. On error
// the abort discards every database write; only external side effects
// (inventory reservations) still need their undo entries replayed.
type nativeTxStrategy struct {
	tx         Transactor
	compensate compensateFunc
}

func (s *nativeTxStrategy) Name() string { return "native_transaction" }

func (s *nativeTxStrategy) Execute(ctx context.Context, log *undoLog, body func(ctx context.Context) error) error {
	err := s.tx.RunInTx(ctx, body)
	if err != nil && log.len() > 0 {
		s.compensate(ctx, log, true)
	}
	return err
}

// compensatingStrategy runs the saga body directly and, on error, replays
// the full undo log LIFO. Used when the deployment cannot guarantee
// multi-statement transactions.
type compensatingStrategy struct {
	compensate compensateFunc
}

func (s *compensatingStrategy) Name() string { return "compensation" }

func (s *compensatingStrategy) Execute(ctx context.Context, log *undoLog, body func(ctx context.Context) error) error {
	err := body(ctx)
	if err != nil && log.len() > 0 {
		s.compensate(ctx, log, false)
	}
	return err
}
