package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/wppconsole/internal/console"
	"github.com/matheus3301/wppconsole/internal/lock"
	"github.com/matheus3301/wppconsole/internal/profile"
	"google.golang.org/protobuf/types/known/structpb"
)

var errUnknownCommand = errors.New("unknown command")

// controlCall is one request to the console control service.
type controlCall struct {
	method string
	args   map[string]any
}

// parseControl maps a command line onto a control service call. A known
// command with missing arguments returns its usage as the error.
func parseControl(args []string) (controlCall, error) {
	cmd, rest := args[0], args[1:]
	need := func(n int, usage string) error {
		if len(rest) < n {
			return errors.New(usage)
		}
		return nil
	}
	switch cmd {
	case "select-tenant":
		if err := need(1, "select-tenant <phone-id>"); err != nil {
			return controlCall{}, err
		}
		return controlCall{"SelectTenant", map[string]any{"phoneId": rest[0]}}, nil
	case "conversations":
		return controlCall{"ListConversations", map[string]any{
			"archived": len(rest) > 0 && rest[0] == "archived",
		}}, nil
	case "more":
		return controlCall{"LoadMoreConversations", nil}, nil
	case "search":
		return controlCall{"Search", map[string]any{"query": strings.Join(rest, " ")}}, nil
	case "retarget":
		if len(rest) != 1 || (rest[0] != "on" && rest[0] != "off") {
			return controlCall{}, errors.New("retarget on|off")
		}
		return controlCall{"SetRetargetOnly", map[string]any{"only": rest[0] == "on"}}, nil
	case "open":
		if err := need(1, "open <conversation-id>"); err != nil {
			return controlCall{}, err
		}
		return controlCall{"OpenConversation", map[string]any{"conversationId": rest[0]}}, nil
	case "older":
		return controlCall{"LoadOlderMessages", nil}, nil
	case "close":
		return controlCall{"CloseConversation", nil}, nil
	case "send":
		if err := need(2, "send <conversation-id> <text>"); err != nil {
			return controlCall{}, err
		}
		return controlCall{"Send", map[string]any{
			"conversationId": rest[0],
			"text":           strings.Join(rest[1:], " "),
		}}, nil
	case "react":
		if err := need(3, "react <conversation-id> <message-id> <emoji>"); err != nil {
			return controlCall{}, err
		}
		return controlCall{"React", map[string]any{
			"conversationId": rest[0],
			"messageId":      rest[1],
			"emoji":          rest[2],
		}}, nil
	case "resend":
		if err := need(1, "resend <temp-id>"); err != nil {
			return controlCall{}, err
		}
		return controlCall{"Resend", map[string]any{"tempId": rest[0]}}, nil
	case "archive", "unarchive":
		if err := need(1, cmd+" <conversation-id>"); err != nil {
			return controlCall{}, err
		}
		method := "Archive"
		if cmd == "unarchive" {
			method = "Unarchive"
		}
		return controlCall{method, map[string]any{"conversationId": rest[0]}}, nil
	case "create":
		if err := need(1, "create <participant-phone> [name]"); err != nil {
			return controlCall{}, err
		}
		return controlCall{"CreateConversation", map[string]any{
			"participant": rest[0],
			"name":        strings.Join(rest[1:], " "),
		}}, nil
	case "unread":
		return controlCall{"Unread", nil}, nil
	}
	return controlCall{}, errUnknownCommand
}

func cmdControl(ctx context.Context, name string, call controlCall, jsonOut bool) {
	if _, running, err := lock.Holder(profile.Dir(name)); err != nil {
		fail(err)
	} else if !running {
		fmt.Fprintf(os.Stderr, "error: console for profile %q is not running\n", name)
		os.Exit(3)
	}

	c, err := console.Dial(profile.SocketPath(name))
	if err != nil {
		fail(err)
	}
	defer func() { _ = c.Close() }()

	out, err := c.Call(ctx, call.method, call.args)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	printResult(out)
}

// printResult renders the parts of a response a person cares about.
func printResult(out *structpb.Struct) {
	f := out.GetFields()
	if f["failed"].GetBoolValue() {
		fmt.Printf("Send failed: %s (resend %s)\n", f["error"].GetStringValue(), f["tempId"].GetStringValue())
		return
	}
	if id := f["id"].GetStringValue(); id != "" {
		state := "sent"
		if f["pending"].GetBoolValue() {
			state = "pending"
		}
		fmt.Printf("Message %s %s\n", id, state)
		return
	}
	if conv := f["conversation"].GetStructValue(); conv != nil {
		printConversation(conv)
		return
	}
	if list := f["conversations"].GetListValue(); list != nil {
		fmt.Printf("Tenant: %s", f["tenant"].GetStringValue())
		if q := f["query"].GetStringValue(); q != "" {
			fmt.Printf("  search: %q", q)
		}
		fmt.Printf("  archived: %d\n", int(f["archivedCount"].GetNumberValue()))
		for _, v := range list.GetValues() {
			printConversation(v.GetStructValue())
		}
		return
	}
	if list := f["messages"].GetListValue(); list != nil {
		for _, v := range list.GetValues() {
			m := v.GetStructValue().GetFields()
			fmt.Printf("%s  %-8s %-9s %s\n",
				m["timestamp"].GetStringValue(),
				m["direction"].GetStringValue(),
				m["status"].GetStringValue(),
				m["preview"].GetStringValue())
		}
		return
	}
	if loaded, ok := f["loaded"]; ok {
		fmt.Printf("Loaded %d\n", int(loaded.GetNumberValue()))
		return
	}
	if total, ok := f["main"]; ok {
		fmt.Printf("Unread: %d  archived: %d\n", int(total.GetNumberValue()), int(f["archived"].GetNumberValue()))
		return
	}
	fmt.Println("OK")
}

func printConversation(conv *structpb.Struct) {
	c := conv.GetFields()
	unread := ""
	if n := int(c["unreadCount"].GetNumberValue()); n > 0 {
		unread = fmt.Sprintf("(%d)", n)
	}
	fmt.Printf("%-32s %-24s %5s  %s\n",
		c["id"].GetStringValue(),
		c["name"].GetStringValue(),
		unread,
		c["lastMessage"].GetStructValue().GetFields()["content"].GetStringValue())
}
