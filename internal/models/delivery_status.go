package models

// Token delivery statuses recorded per delivery cycle.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryAbandoned = "abandoned"
	DeliveryFailed    = "failed"
)
