package kafka

const (
	TopicOrderEvents   = "order.events"
	TopicListingEvents = "listing.events"
	TopicPaymentEvents = "payment.events"
)
