// Package executor runs batches of tool calls under the safety category of
// each tool.
//
// SAFE_PARALLEL calls run concurrently, bounded by Config.MaxConcurrency, each
// under its own timeout. SEQUENTIAL_ONLY and REQUIRES_APPROVAL calls form a
// sequential lane that preserves plan order; the first REQUIRES_APPROVAL call
// in the lane is returned unexecuted with status pending, and every lane call
// after it stays pending so that the workflow can resume exactly where the
// batch stopped.
//
// Every result carries its wall-clock execution time. Results are returned in
// request order regardless of completion order.
package executor
