package model

import "fmt"

// Status is the delivery status of a message.
// Ordering: Sending < Sent < Delivered < Read. Failed is terminal and only
// reachable from Sending.
type Status int

const (
	StatusUnknown Status = iota
	StatusSending
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
)

var statusNames = map[Status]string{
	StatusUnknown:   "unknown",
	StatusSending:   "sending",
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus maps a wire status to a Status. Inbound "received" messages
// are treated as delivered.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "sending", "pending":
		return StatusSending, true
	case "sent":
		return StatusSent, true
	case "delivered", "received":
		return StatusDelivered, true
	case "read":
		return StatusRead, true
	case "failed":
		return StatusFailed, true
	}
	return StatusUnknown, false
}

// CanAdvance reports whether a message in status from may move to status to.
func CanAdvance(from, to Status) bool {
	switch {
	case from == StatusFailed:
		return false
	case to == StatusFailed:
		return from == StatusSending
	case to == StatusUnknown:
		return false
	}
	return to > from
}
