package models

import "time"

// CountdownState is the per-connection state of the countdown stream
type CountdownState string

const (
	CountdownUnconfigured CountdownState = "unconfigured"
	CountdownInvalid      CountdownState = "invalid"
	CountdownOpen         CountdownState = "open"
	CountdownClosed       CountdownState = "closed"
)

// CountdownStatus is pushed to countdown clients on every tick
type CountdownStatus struct {
	Remaining float64        `json:"remaining"` // seconds until close
	Status    CountdownState `json:"status"`
	CloseTime *time.Time     `json:"close_time,omitempty"`
}

// Notice is the payload of chat, notification and per-client streams
type Notice struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewNotice stamps msg with t in RFC 3339 UTC
func NewNotice(msg string, t time.Time) Notice {
	return Notice{Message: msg, Timestamp: t.UTC().Format(time.RFC3339)}
}
