package consumers

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"gateway/internal/domain/usage"
)

// UsageEventMessage is the JSON payload the gateway publishes after every
// completed provider call. Costs are optional: when all three are absent they
// are priced from the model catalog.
type UsageEventMessage struct {
	EventID   string `json:"event_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Provider  string `json:"provider"`
	ModelID   string `json:"model_id"`

	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`

	InputCost  *decimal.Decimal `json:"input_cost,omitempty"`
	OutputCost *decimal.Decimal `json:"output_cost,omitempty"`
	TotalCost  *decimal.Decimal `json:"total_cost,omitempty"`
	Currency   string           `json:"currency,omitempty"`

	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

func (m UsageEventMessage) hasCosts() bool {
	return m.InputCost != nil || m.OutputCost != nil || m.TotalCost != nil
}

// event converts the message, leaving costs zero where absent.
// A missing total is derived from input plus output.
func (m UsageEventMessage) event() usage.Event {
	e := usage.Event{
		SessionID:        m.SessionID,
		UserID:           m.UserID,
		Provider:         m.Provider,
		ModelID:          m.ModelID,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		Currency:         m.Currency,
		OccurredAt:       m.OccurredAt,
	}
	if m.InputCost != nil {
		e.InputCost = *m.InputCost
	}
	if m.OutputCost != nil {
		e.OutputCost = *m.OutputCost
	}
	if m.TotalCost != nil {
		e.TotalCost = *m.TotalCost
	} else {
		e.TotalCost = e.InputCost.Add(e.OutputCost)
	}
	return e
}

// messageEventID derives a stable id from the Kafka coordinates so a
// redelivered message without an event_id still deduplicates
func messageEventID(msg kafka.Message) string {
	name := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// anonymousSessionID is derived from the event id so redeliveries land on
// the same session row
func anonymousSessionID(eventID string) string {
	return "anon-" + eventID
}
