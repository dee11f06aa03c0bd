package events

const (
	// Pub/sub topics, fanned out to every named consumer group.
	TopicOrderEvents     = "order-events"
	TopicInventoryEvents = "inventory-events"
	TopicSystemMetrics   = "system-metrics"

	// Point-to-point queue: one consumer group drains it.
	QueueVerifyOrders = "verify-orders"
)

// Kafka message headers. The correlation id rides as the partition key so
// every event of one order lands on the same partition.
const (
	HeaderEventType = "x-event-type"
	HeaderMessageID = "x-message-id"
)

// PartitionKey keeps all events of one order on one partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
