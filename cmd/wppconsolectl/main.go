package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/wppconsole/internal/config"
	"github.com/matheus3301/wppconsole/internal/console"
	"github.com/matheus3301/wppconsole/internal/lock"
	"github.com/matheus3301/wppconsole/internal/profile"
	"github.com/matheus3301/wppconsole/internal/store"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, name, *jsonFlag)
	case "init":
		cmdInit(name, args[1:])
	case "gaps":
		cmdGaps(ctx, name)
	case "mute":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wppconsolectl mute <conversation-id> [duration]")
			os.Exit(1)
		}
		cmdMute(ctx, name, args[1], args[2:])
	case "unmute":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wppconsolectl unmute <conversation-id>")
			os.Exit(1)
		}
		cmdUnmute(ctx, name, args[1])
	case "mutes":
		cmdMutes(ctx, name)
	default:
		call, err := parseControl(args)
		if err == nil {
			cmdControl(ctx, name, call, *jsonFlag)
			return
		}
		if !errors.Is(err, errUnknownCommand) {
			fmt.Fprintf(os.Stderr, "usage: wppconsolectl %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppconsolectl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                     Show console and push socket status")
	fmt.Fprintln(os.Stderr, "  init <rest-url> <ws-url>   Write a profile config")
	fmt.Fprintln(os.Stderr, "  gaps                       List recent push disconnect windows")
	fmt.Fprintln(os.Stderr, "  mute <id> [duration]       Silence notifications for a conversation")
	fmt.Fprintln(os.Stderr, "  unmute <id>                Restore notifications for a conversation")
	fmt.Fprintln(os.Stderr, "  mutes                      List active mutes")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "control commands (require a running console):")
	fmt.Fprintln(os.Stderr, "  select-tenant <phone-id>   Switch the console to a tenant")
	fmt.Fprintln(os.Stderr, "  conversations [archived]   List loaded conversations")
	fmt.Fprintln(os.Stderr, "  more                       Load the next page of conversations")
	fmt.Fprintln(os.Stderr, "  search [query]             Search conversations; no query ends the search")
	fmt.Fprintln(os.Stderr, "  retarget on|off            Restrict the list to retargeted conversations")
	fmt.Fprintln(os.Stderr, "  open <id>                  Open a conversation and show its messages")
	fmt.Fprintln(os.Stderr, "  older                      Load older messages of the open conversation")
	fmt.Fprintln(os.Stderr, "  close                      Close the open conversation")
	fmt.Fprintln(os.Stderr, "  send <id> <text>           Send a text message")
	fmt.Fprintln(os.Stderr, "  react <id> <msg-id> <emoji> React to a message")
	fmt.Fprintln(os.Stderr, "  resend <temp-id>           Resend a failed message")
	fmt.Fprintln(os.Stderr, "  archive <id>               Archive a conversation")
	fmt.Fprintln(os.Stderr, "  unarchive <id>             Unarchive a conversation")
	fmt.Fprintln(os.Stderr, "  create <phone> [name]      Start a conversation")
	fmt.Fprintln(os.Stderr, "  unread                     Show unread counters")
}

func cmdStatus(ctx context.Context, name string, jsonOut bool) {
	pid, running, err := lock.Holder(profile.Dir(name))
	if err != nil {
		fail(err)
	}
	if !running {
		fmt.Printf("Profile: %s\n", name)
		fmt.Println("Console: stopped")
		os.Exit(3)
	}

	c, err := console.Dial(profile.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to console for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.PushStatus(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile: %s\n", name)
	fmt.Printf("Console: running (pid %d)\n", pid)
	fmt.Printf("Push:    %s\n", resp.GetStatus())
}

func cmdInit(name string, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: wppconsolectl init <rest-url> <ws-url> [token]")
		os.Exit(1)
	}
	cfg := config.Default()
	cfg.Server.RESTURL = args[0]
	cfg.Server.SocketURL = args[1]
	if len(args) > 2 {
		cfg.Server.Token = args[2]
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}
	if err := profile.EnsureDir(name); err != nil {
		fail(err)
	}
	path := profile.ConfigPath(name)
	if err := config.Save(path, cfg); err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func cmdGaps(ctx context.Context, name string) {
	db := openStore(name)
	defer func() { _ = db.Close() }()

	gaps, err := db.Gaps(ctx, 20)
	if err != nil {
		fail(err)
	}
	if len(gaps) == 0 {
		fmt.Println("No disconnects recorded.")
		return
	}
	for _, g := range gaps {
		fmt.Printf("%s  %s\n", g.StartedAt.Format(time.RFC3339), g.EndedAt.Sub(g.StartedAt).Round(time.Millisecond))
	}
}

func cmdMute(ctx context.Context, name, conversationID string, rest []string) {
	var until time.Time
	if len(rest) > 0 {
		d, err := time.ParseDuration(rest[0])
		if err != nil || d <= 0 {
			fail(fmt.Errorf("invalid duration %q", rest[0]))
		}
		until = time.Now().Add(d)
	}
	db := openStore(name)
	defer func() { _ = db.Close() }()
	if err := db.Mute(ctx, conversationID, until); err != nil {
		fail(err)
	}
	if until.IsZero() {
		fmt.Printf("Muted %s\n", conversationID)
	} else {
		fmt.Printf("Muted %s until %s\n", conversationID, until.Format(time.RFC3339))
	}
}

func cmdUnmute(ctx context.Context, name, conversationID string) {
	db := openStore(name)
	defer func() { _ = db.Close() }()
	if err := db.Unmute(ctx, conversationID); err != nil {
		fail(err)
	}
	fmt.Printf("Unmuted %s\n", conversationID)
}

func cmdMutes(ctx context.Context, name string) {
	db := openStore(name)
	defer func() { _ = db.Close() }()
	mutes, err := db.ListMutes(ctx, time.Now())
	if err != nil {
		fail(err)
	}
	if len(mutes) == 0 {
		fmt.Println("No active mutes.")
		return
	}
	for _, m := range mutes {
		until := "forever"
		if !m.Until.IsZero() {
			until = m.Until.Format(time.RFC3339)
		}
		fmt.Printf("%-32s %s\n", m.ConversationID, until)
	}
}

func openStore(name string) *store.DB {
	if err := profile.EnsureDir(name); err != nil {
		fail(err)
	}
	db, _, err := store.OpenMigrated(profile.DBPath(name))
	if err != nil {
		fail(err)
	}
	return db
}

func outputJSON(m proto.Message) {
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  ", EmitUnpopulated: true}.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
