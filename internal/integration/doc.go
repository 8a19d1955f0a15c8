// Package integration connects callers and the manager to real worker execution.
//
// Router.AssignTask validates agricultural preconditions, then creates a work order (or,
// with use_work_orders off, dispatches straight to a worker). The bridge listens for
// assignment signals and runs each worker's share of an order on the task engine.
// A TagBoard mirrors which plots carry pending work so overlays can be cleared on
// completion or cancellation.
package integration
