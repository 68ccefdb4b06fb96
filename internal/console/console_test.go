package console

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/config"
	"github.com/matheus3301/wppconsole/internal/profile"
	"github.com/matheus3301/wppconsole/internal/status"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"
)

// shortTempDir keeps Unix socket paths under the platform limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "wppc-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func waitForStatus(t *testing.T, c *Client, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		resp, err := c.PushStatus(ctx)
		cancel()
		if err == nil {
			last = resp.GetStatus()
			if last == want {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("push status = %v, want %v", last, want)
}

func waitForTenant(t *testing.T, c *Client, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		out, err := c.Call(ctx, "ListConversations", nil)
		cancel()
		if err == nil {
			last = out.GetFields()["tenant"].GetStringValue()
			if last == want {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("tenant = %q, want %q", last, want)
}

func TestServerReflectsConnectionState(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t), "c.sock")
	b := bus.New()
	m := status.NewMachine(b)

	srv, err := NewServer(Params{Profile: "test", SocketPath: socketPath}, b, m, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permissions = %o, want 600", perm)
	}

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	waitForStatus(t, c, healthpb.HealthCheckResponse_NOT_SERVING)

	if err := m.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(status.Connected); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, c, healthpb.HealthCheckResponse_SERVING)

	if err := m.Transition(status.Reconnecting); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, c, healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("process status = %v, want SERVING", resp.GetStatus())
	}
}

func TestModuleGraph(t *testing.T) {
	if err := fx.ValidateApp(Module(Params{Profile: "test"})); err != nil {
		t.Fatalf("invalid dependency graph: %v", err)
	}
}

// backend answers every REST call with an empty listing and upgrades /ws.
func backend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			for {
				if _, _, err := conn.Read(r.Context()); err != nil {
					return
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversations":[],"messages":[],"pagination":{"hasMore":false}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConsoleLifecycle(t *testing.T) {
	home := shortTempDir(t)
	t.Setenv("WPPCONSOLE_HOME", home)
	srv := backend(t)

	cfg := config.Default()
	cfg.Server.RESTURL = srv.URL
	cfg.Server.SocketURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.Server.Token = "secret"
	cfg.Identity.UserID = "u1"
	cfg.Identity.DefaultTenant = "p1"
	cfg.Log.Level = "error"
	if err := config.Save(profile.ConfigPath("test"), cfg); err != nil {
		t.Fatal(err)
	}

	app := fxtest.New(t, Module(Params{Profile: "test"}))
	app.RequireStart()

	c, err := Dial(profile.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	waitForStatus(t, c, healthpb.HealthCheckResponse_SERVING)
	waitForTenant(t, c, "p1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Call(ctx, "OpenConversation", map[string]any{"conversationId": "missing"}); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("open unknown conversation: %v, want NotFound", err)
	}

	app.RequireStop()

	if _, err := os.Stat(profile.SocketPath("test")); !os.IsNotExist(err) {
		t.Errorf("control socket left behind: %v", err)
	}
	if _, err := os.Stat(profile.DBPath("test")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}
