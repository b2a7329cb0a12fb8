package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderStatusChanged = "order.status.changed"

	// Published by the payment gateway collaborator, consumed by cmd/paymentsync.
	TopicPaymentAuthorized = "payment.authorized"
	TopicPaymentFailed     = "payment.failed"
)

// Partition key = order_id so all events of one order keep their ordering.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
