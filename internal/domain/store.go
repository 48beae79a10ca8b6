package domain

import "time"

// ConversationStore holds the turns of a single session in append order.
type ConversationStore interface {
	Append(msg Message)
	Messages() []Message
	Recent(limit int, ttl time.Duration) []Message
	Len() int
}
