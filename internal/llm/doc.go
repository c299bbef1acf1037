// Package llm implements the workflow planner on top of an OpenAI compatible
// chat completion API.
//
// The conversation history is sent as chat messages and the user's tool
// catalogue as function tools. The model's tool calls become the next
// round's tool requests with their call IDs preserved, so the tool messages
// of the following round link back to them.
//
// Any endpoint that speaks the chat completions protocol can be used by
// setting BaseURL (for example a local Ollama or vLLM server).
package llm
