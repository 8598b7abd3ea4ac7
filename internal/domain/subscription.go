package domain

import "time"

// Subscription links a subscriber to a topic. An unconfirmed subscription is
// inert; UnsubscribedAt is terminal. (SubscriberID, TopicID) is unique.
type Subscription struct {
	SubscriberID   string
	TopicID        string
	CreatedAt      time.Time
	ConfirmedAt    *time.Time
	UnsubscribedAt *time.Time
}

// Active reports whether the subscription should receive digests: confirmed
// and not unsubscribed.
func (s Subscription) Active() bool {
	return s.ConfirmedAt != nil && s.UnsubscribedAt == nil
}

// DeliveryStatus is the lifecycle state of a digest batch.
type DeliveryStatus string

const (
	BatchPending DeliveryStatus = "pending"
	BatchSent    DeliveryStatus = "sent"
	BatchFailed  DeliveryStatus = "failed"
)

// DigestBatch groups the unprocessed events for one subscriber within one
// batch window. A batch is created once per subscriber per window and is
// immutable once sent.
type DigestBatch struct {
	BatchID      string
	SubscriberID string
	WindowStart  time.Time
	WindowEnd    time.Time
	EventIDs     []string
	Status       DeliveryStatus
	DispatchedAt *time.Time
}

// DigestMessage is the rendered digest handed to the delivery collaborator.
type DigestMessage struct {
	Recipient        string
	Subject          string
	Body             string
	UnsubscribeToken string
}
