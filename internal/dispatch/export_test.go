package dispatch

import "context"

// Loop internals for the external test package.

func (d *Dispatcher) ProcessNext(ctx context.Context) { d.processNext(ctx) }
