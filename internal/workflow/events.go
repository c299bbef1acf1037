package workflow

import (
	"context"

	"github.com/teemow/inboxpilot/internal/tools"
)

// DefaultChunkSize is the number of runes per content event.
const DefaultChunkSize = 15

// EventType identifies an Event.
type EventType string

const (
	EventContent           EventType = "content"
	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventInterrupt         EventType = "interrupt"
	EventError             EventType = "error"
	EventDone              EventType = "done"
)

// Event is one element of a run's stream. A stream ends with a done event,
// or with an interrupt event when the run suspends.
type Event struct {
	Seq      int64     `json:"seq"`
	Type     EventType `json:"type"`
	ThreadID string    `json:"threadId"`

	Content   string            `json:"content,omitempty"`
	ToolCall  *tools.Request    `json:"toolCall,omitempty"`
	Result    *tools.Result     `json:"result,omitempty"`
	Interrupt *InterruptPayload `json:"interrupt,omitempty"`
	Stats     *ExecutionStats   `json:"stats,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// emitter numbers events and delivers them until the consumer goes away.
type emitter struct {
	ctx       context.Context
	ch        chan Event
	threadID  string
	chunkSize int
	seq       int64
}

func newEmitter(ctx context.Context, threadID string, chunkSize, buffer int) *emitter {
	return &emitter{
		ctx:       ctx,
		ch:        make(chan Event, buffer),
		threadID:  threadID,
		chunkSize: chunkSize,
	}
}

// send delivers ev. It reports false once the consumer's context is done;
// the event is dropped.
func (e *emitter) send(ev Event) bool {
	if e.ctx.Err() != nil {
		return false
	}
	e.seq++
	ev.Seq = e.seq
	ev.ThreadID = e.threadID

	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// content sends text as a series of content events.
func (e *emitter) content(text string) {
	for _, chunk := range chunkText(text, e.chunkSize) {
		if !e.send(Event{Type: EventContent, Content: chunk}) {
			return
		}
	}
}

func (e *emitter) close() {
	close(e.ch)
}

// chunkText splits text into pieces of at most size runes.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
