package service

import "context"

// undoScope distinguishes compensations a native transaction abort already
// covers (database writes) from side effects outside the database that
// always need an explicit undo (inventory held by the pharmacy collaborator).
type undoScope int

const (
	undoInternal undoScope = iota
	undoExternal
)

type undoOp struct {
	name     string
	resource string
	scope    undoScope
	run      func(ctx context.Context) error
}

// undoLog is the compensation stack: entries are appended as saga steps
// succeed and consumed in reverse when a later step fails. It is a value
// local to one saga run, never shared state.
type undoLog struct {
	ops []undoOp
}

func (l *undoLog) push(name, resource string, scope undoScope, run func(ctx context.Context) error) {
	l.ops = append(l.ops, undoOp{name: name, resource: resource, scope: scope, run: run})
}

func (l *undoLog) len() int {
	return len(l.ops)
}

// unwind executes the recorded operations LIFO. With externalOnly set, the
// database entries are skipped (the aborted transaction already discarded
// those writes). A failing entry is reported through onFail and the walk
// continues: stopping would strand every earlier step too.
func (l *undoLog) unwind(ctx context.Context, externalOnly bool, onFail func(op undoOp, err error)) int {
	failures := 0
	for i := len(l.ops) - 1; i >= 0; i-- {
		op := l.ops[i]
		if externalOnly && op.scope != undoExternal {
			continue
		}
		if err := op.run(ctx); err != nil {
			failures++
			if onFail != nil {
				onFail(op, err)
			}
		}
	}
	return failures
}
