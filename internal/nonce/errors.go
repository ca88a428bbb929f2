package nonce

import "fmt"

var (
	// ErrNonceBehind is returned when a node reports a nonce this process has
	// already seen finalized, typically a lagging node behind a load balancer.
	ErrNonceBehind = fmt.Errorf("node nonce is not past the last nonce finalized by this process")
)
