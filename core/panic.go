package core

import (
	"context"
	"fmt"
)

// PanicHandler is called when a panic reaches a pool worker loop's own
// recover. Task body panics do not: task.Execute and task.RunRoot capture
// them into the frame's exception cell, where they surface at the
// appropriate Join or Future.Get, so the handler only sees panics that
// escape those functions themselves. It exists purely for observability
// and never suppresses or alters propagation.
//
// Implementations must be safe for concurrent use: every worker may call
// this independently.
type PanicHandler interface {
	// HandlePanic is called with a panic recovered by a pool worker loop.
	//
	// poolName identifies which pool the panic occurred in; workerID is
	// the worker index that was running the task; panicInfo is the
	// recovered panic value; stackTrace is the stack at the time of panic.
	HandlePanic(ctx context.Context, poolName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panic information to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, poolName string, workerID int, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Worker %d @ %s] Panic: %v\nStack trace:\n%s", workerID, poolName, panicInfo, stackTrace)
}
