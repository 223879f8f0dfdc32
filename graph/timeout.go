package graph

import (
	"context"
	"fmt"
	"time"
)

// NodeTimeout bounds this node's body, overriding the engine default.
func NodeTimeout(d time.Duration) NodeOption {
	return func(n *nodeSpec) {
		n.timeout = d
	}
}

// getNodeTimeout determines the effective timeout for a node.
//
// Priority:
//  1. The node's own timeout (if > 0)
//  2. The engine default (if > 0)
//  3. No timeout (0)
func getNodeTimeout(spec *nodeSpec, defaultTimeout time.Duration) time.Duration {
	if spec != nil && spec.timeout > 0 {
		return spec.timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNodeWithTimeout runs a node body under its effective timeout.
//
// A body that returns after its deadline fails with a NODE_TIMEOUT
// EngineError even if it produced a result, since a late result may be
// partial.
func executeNodeWithTimeout(ctx context.Context, spec *nodeSpec, state State, defaultTimeout time.Duration) NodeResult {
	timeout := getNodeTimeout(spec, defaultTimeout)
	if timeout == 0 {
		return spec.node.Run(ctx, state)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := spec.node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		result.Err = &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", spec.id, timeout),
			Code:    "NODE_TIMEOUT",
			Cause:   result.Err,
		}
	}
	return result
}
