package kafka

// Default topic names. Deployments override them via KAFKA_USAGE_TOPIC and KAFKA_USAGE_DLQ_TOPIC.
const (
	// Usage events emitted by the gateway after every completed LLM request
	TopicUsageEvents = "usage.events"

	// Events that could not be decoded or tracked
	TopicUsageDLQ = "usage.events.dlq"
)

// Header keys attached to dead-lettered messages
const (
	HeaderDLQReason      = "x-dlq-reason"
	HeaderOriginalTopic  = "x-original-topic"
	HeaderOriginalOffset = "x-original-offset"
)
