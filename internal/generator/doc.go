// Package generator turns farm state into work orders.
//
// A scan classifies every free plot into the first matching condition bucket, splits each
// bucket into 4-connected batches, and asks the manager for one order per batch that meets
// the minimum size. Harvest-readiness notifications bypass batching and create a one-plot
// order straight away.
package generator
