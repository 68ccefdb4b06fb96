package model

import "testing"

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusSending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusDelivered, StatusRead, true},
		{StatusSending, StatusRead, true},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusRead, false},
		{StatusSending, StatusFailed, true},
		{StatusSent, StatusFailed, false},
		{StatusFailed, StatusSent, false},
		{StatusFailed, StatusRead, false},
		{StatusUnknown, StatusSent, true},
		{StatusSent, StatusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := CanAdvance(tt.from, tt.to); got != tt.want {
				t.Errorf("CanAdvance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus("delivered"); !ok || s != StatusDelivered {
		t.Errorf("ParseStatus(delivered) = %s, %v", s, ok)
	}
	if s, ok := ParseStatus("received"); !ok || s != StatusDelivered {
		t.Errorf("ParseStatus(received) = %s, %v", s, ok)
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Error("ParseStatus(bogus) should fail")
	}
}

func TestMessageID(t *testing.T) {
	p := Pending("t1")
	if !p.IsPending() || p.Key() != "t1" || p.ServerID() != "" {
		t.Errorf("pending id = %+v", p)
	}
	c := Confirmed("m1")
	if c.IsPending() || c.Key() != "m1" || c.TempID() != "" {
		t.Errorf("confirmed id = %+v", c)
	}
	if !(MessageID{}).IsZero() {
		t.Error("zero MessageID should report IsZero")
	}
}

func TestMessageMatches(t *testing.T) {
	m := Message{ID: Confirmed("m1"), ExternalID: "wamid.1"}
	for _, id := range []string{"m1", "wamid.1"} {
		if !m.Matches(id) {
			t.Errorf("Matches(%q) = false", id)
		}
	}
	if m.Matches("") || m.Matches("m2") {
		t.Error("Matches should reject empty and foreign ids")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name          string
		conv          Conversation
		wantPrimary   string
		wantSecondary string
	}{
		{"saved and different platform", Conversation{Name: "Alice", PlatformName: "Ali", ParticipantPhone: "+1"}, "Alice", "Ali"},
		{"saved equals platform", Conversation{Name: "Alice", PlatformName: "Alice", ParticipantPhone: "+1"}, "Alice", ""},
		{"saved only", Conversation{Name: "Alice", ParticipantPhone: "+1"}, "Alice", ""},
		{"platform only", Conversation{PlatformName: "Ali", ParticipantPhone: "+1"}, "Ali", ""},
		{"phone fallback", Conversation{ParticipantPhone: "+15550100"}, "+15550100", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, s := DisplayName(tt.conv)
			if p != tt.wantPrimary || s != tt.wantSecondary {
				t.Errorf("DisplayName() = (%q, %q), want (%q, %q)", p, s, tt.wantPrimary, tt.wantSecondary)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Message{Type: TypeText, Content: Content{Text: "hello"}}, "hello"},
		{Message{Type: TypeImage, Content: Content{Caption: "look"}}, "look"},
		{Message{Type: TypeDocument, Content: Content{FileName: "a.pdf"}}, "a.pdf"},
		{Message{Type: TypeAudio}, "[audio]"},
		{Message{Type: TypeTemplate, Content: Content{Template: "welcome"}}, "[template] welcome"},
		{Message{Type: TypeLocation}, "[location]"},
	}
	for _, tt := range tests {
		if got := tt.msg.Preview(); got != tt.want {
			t.Errorf("Preview(%s) = %q, want %q", tt.msg.Type, got, tt.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := Message{Reactions: []Reaction{{Emoji: "👍"}}, Content: Content{Params: map[string]string{"1": "a"}}}
	c := m.Clone()
	c.Reactions[0].Emoji = "x"
	c.Content.Params["1"] = "b"
	if m.Reactions[0].Emoji != "👍" || m.Content.Params["1"] != "a" {
		t.Error("Clone shares state with the original")
	}
}
