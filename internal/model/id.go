package model

// MessageID is the dual identity of a message: Pending carries the locally
// generated temp id until the server acknowledges the send, Confirmed carries
// the server-assigned id. Exactly one of the two is set.
type MessageID struct {
	temp   string
	server string
}

// Pending returns the identity of an optimistic, unacknowledged message.
func Pending(tempID string) MessageID {
	return MessageID{temp: tempID}
}

// Confirmed returns the identity of a server-acknowledged message.
func Confirmed(serverID string) MessageID {
	return MessageID{server: serverID}
}

// IsPending reports whether the message is still waiting for the server id.
func (id MessageID) IsPending() bool { return id.server == "" }

// TempID returns the temp id, or "" once confirmed.
func (id MessageID) TempID() string { return id.temp }

// ServerID returns the server id, or "" while pending.
func (id MessageID) ServerID() string { return id.server }

// Key is the id the message is currently addressed by.
func (id MessageID) Key() string {
	if id.server != "" {
		return id.server
	}
	return id.temp
}

// IsZero reports whether neither id is set.
func (id MessageID) IsZero() bool { return id.temp == "" && id.server == "" }

func (id MessageID) String() string {
	if id.IsPending() {
		return "pending:" + id.temp
	}
	return id.server
}
