package main

import (
	"errors"
	"testing"
)

func TestParseControl(t *testing.T) {
	tests := []struct {
		args   []string
		method string
		key    string
		want   any
	}{
		{[]string{"select-tenant", "p1"}, "SelectTenant", "phoneId", "p1"},
		{[]string{"conversations", "archived"}, "ListConversations", "archived", true},
		{[]string{"search", "ana", "lu"}, "Search", "query", "ana lu"},
		{[]string{"retarget", "on"}, "SetRetargetOnly", "only", true},
		{[]string{"open", "c1"}, "OpenConversation", "conversationId", "c1"},
		{[]string{"send", "c1", "hello", "there"}, "Send", "text", "hello there"},
		{[]string{"react", "c1", "m1", "+1"}, "React", "emoji", "+1"},
		{[]string{"resend", "tmp-1"}, "Resend", "tempId", "tmp-1"},
		{[]string{"archive", "c1"}, "Archive", "conversationId", "c1"},
		{[]string{"unarchive", "c1"}, "Unarchive", "conversationId", "c1"},
		{[]string{"create", "+5511", "Ana", "Lu"}, "CreateConversation", "name", "Ana Lu"},
	}
	for _, tt := range tests {
		call, err := parseControl(tt.args)
		if err != nil {
			t.Errorf("%v: %v", tt.args, err)
			continue
		}
		if call.method != tt.method {
			t.Errorf("%v: method = %s, want %s", tt.args, call.method, tt.method)
		}
		if got := call.args[tt.key]; got != tt.want {
			t.Errorf("%v: %s = %v, want %v", tt.args, tt.key, got, tt.want)
		}
	}
}

func TestParseControlRejects(t *testing.T) {
	for _, args := range [][]string{{"send", "c1"}, {"open"}, {"retarget", "maybe"}, {"select-tenant"}} {
		if _, err := parseControl(args); err == nil || errors.Is(err, errUnknownCommand) {
			t.Errorf("%v: err = %v, want usage error", args, err)
		}
	}
	if _, err := parseControl([]string{"frobnicate"}); !errors.Is(err, errUnknownCommand) {
		t.Errorf("unknown command: err = %v", err)
	}
}
