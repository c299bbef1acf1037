// Package workflow drives multi-round tool use for one conversation thread.
//
// A run moves through the states
//
//	PLANNING -> EXECUTING -> (SUSPENDED <-> EXECUTING)* -> COMPLETE
//
// PLANNING asks the Planner for the next batch of tool calls or a final
// answer. EXECUTING runs the batch through the executor. When a call needs
// approval the round is SUSPENDED: its RoundState is written to a
// checkpoint.Store under (threadID, toolCallID) and an interrupt event ends
// the stream. Resume loads that state, applies the caller's Decision to the
// suspended call, runs the rest of the round and returns to PLANNING.
//
// Progress is streamed as Events with strictly increasing sequence numbers.
// Text content is split into short chunks to bound event size.
package workflow
