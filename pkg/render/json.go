package render

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/cuemby/proxywatch/pkg/events"
)

// JSONLines writes one JSON object per event, for piping into other tools
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

type jsonEvent struct {
	ID      string           `json:"id"`
	Type    events.EventType `json:"type"`
	Time    time.Time        `json:"time"`
	Source  string           `json:"source,omitempty"`
	Message string           `json:"message,omitempty"`
	Payload interface{}      `json:"payload,omitempty"`
}

// NewJSONLines creates a JSON line renderer writing to out
func NewJSONLines(out io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(out)}
}

// Handle writes one event. Error payloads are represented by Message only.
func (j *JSONLines) Handle(ev *events.Event) error {
	out := jsonEvent{
		ID:      ev.ID,
		Type:    ev.Type,
		Time:    ev.Timestamp,
		Source:  ev.Source,
		Message: ev.Message,
	}
	if _, isErr := ev.Payload.(error); !isErr {
		out.Payload = ev.Payload
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(out)
}

// Run renders events from sub until ctx is done or sub is closed
func (j *JSONLines) Run(ctx context.Context, sub events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			_ = j.Handle(ev)
		}
	}
}
