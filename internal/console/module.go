// Package console assembles the synchronization core into a running
// process with fx.
package console

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppconsole/internal/api"
	"github.com/matheus3301/wppconsole/internal/archive"
	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/config"
	"github.com/matheus3301/wppconsole/internal/conversations"
	"github.com/matheus3301/wppconsole/internal/debounce"
	"github.com/matheus3301/wppconsole/internal/dedup"
	"github.com/matheus3301/wppconsole/internal/lock"
	"github.com/matheus3301/wppconsole/internal/logging"
	"github.com/matheus3301/wppconsole/internal/messages"
	"github.com/matheus3301/wppconsole/internal/notify"
	"github.com/matheus3301/wppconsole/internal/profile"
	"github.com/matheus3301/wppconsole/internal/rest"
	"github.com/matheus3301/wppconsole/internal/rooms"
	"github.com/matheus3301/wppconsole/internal/socket"
	"github.com/matheus3301/wppconsole/internal/status"
	"github.com/matheus3301/wppconsole/internal/store"
	intsync "github.com/matheus3301/wppconsole/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	ConfigPath string // optional --config override
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the console, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("console",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideREST,
			provideSocket,
			provideSelection,
			provideReadState,
			provideConversations,
			provideMessages,
			provideArchive,
			provideRooms,
			provideNotifier,
			provideReconciler,
			provideController,
			provideConsoleService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(profile.ConfigFile(p.ConfigPath, p.Profile))
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so two consoles never share a database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideREST(cfg *config.Config, logger *zap.Logger) (*rest.Client, error) {
	if cfg.Server.RESTURL == "" {
		return nil, fmt.Errorf("server.rest_url is not configured")
	}
	return rest.New(cfg.Server.RESTURL, cfg.Server.Token, rest.WithLogger(logger.Named("rest")))
}

func provideSocket(cfg *config.Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) (*socket.Client, error) {
	if cfg.Server.SocketURL == "" {
		return nil, fmt.Errorf("server.socket_url is not configured")
	}
	return socket.New(socket.Config{
		URL:   cfg.Server.SocketURL,
		Token: cfg.Server.Token,
	}, b, m, logger.Named("socket")), nil
}

func provideSelection() *intsync.Selection {
	return &intsync.Selection{}
}

func provideReadState(db *store.DB, client *rest.Client) *intsync.ReadState {
	return intsync.NewReadState(db, client)
}

func provideConversations(client *rest.Client, reads *intsync.ReadState, cfg *config.Config, logger *zap.Logger) *conversations.Store {
	return conversations.NewStore(client, reads, cfg.Sync.ConversationPageSize, logger.Named("conversations"))
}

func provideMessages(client *rest.Client, sel *intsync.Selection, cfg *config.Config, logger *zap.Logger) *messages.Store {
	return messages.NewStore(client, cfg.Sync.MessagePageSize, logger.Named("messages"), messages.WithTenant(sel.Phone))
}

func provideArchive(client *rest.Client, convs *conversations.Store, logger *zap.Logger) *archive.Manager {
	return archive.NewManager(client, convs, convs.Reload, logger.Named("archive"))
}

func provideRooms(sock *socket.Client, sel *intsync.Selection, cfg *config.Config, logger *zap.Logger) *rooms.Manager {
	identity := rooms.StaticIdentity{User: cfg.Identity.UserID, UserRole: cfg.Identity.Role}
	return rooms.NewManager(sock, identity, sel.Phone, rooms.Config{
		Interval:      cfg.ReconcileInterval(),
		RetargetRoles: cfg.Rooms.RetargetRoles,
	}, logger.Named("rooms"))
}

func provideNotifier(db *store.DB, convs *conversations.Store, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *notify.Bridge {
	return notify.NewBridge(db, convs, b, cfg.NotifyCooldown(), logger.Named("notify"))
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger.Named("reconciler"))
}

func provideController(
	b *bus.Bus,
	sel *intsync.Selection,
	convs *conversations.Store,
	msgs *messages.Store,
	arch *archive.Manager,
	client *rest.Client,
	rm *rooms.Manager,
	notifier *notify.Bridge,
	rec *intsync.Reconciler,
	cfg *config.Config,
	logger *zap.Logger,
) *intsync.Controller {
	return intsync.New(intsync.Deps{
		Bus:           b,
		Selection:     sel,
		Conversations: convs,
		Messages:      msgs,
		Archive:       arch,
		Sender:        client,
		Rooms:         rm,
		Notifier:      notifier,
		Checkpoint:    rec,
		Events:        dedup.New(cfg.Sync.EventDedupSize),
		MessageIDs:    dedup.New(cfg.Sync.MessageDedupSize),
		Search:        debounce.New(cfg.SearchDebounce()),
		OnReconnect:   rec.RecordGap,
		Logger:        logger.Named("sync"),
	})
}

func provideConsoleService(ctrl *intsync.Controller, logger *zap.Logger) *api.ConsoleService {
	return api.NewConsoleService(ctrl, logger.Named("api"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	sock *socket.Client,
	rm *rooms.Manager,
	ctrl *intsync.Controller,
	rec *intsync.Reconciler,
	cfg *config.Config,
	logger *zap.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The controller subscribes before the socket can publish.
			ctrl.Start(runCtx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			sock.Start(runCtx)
			rm.Start(runCtx)

			tenant, err := rec.LastTenant(ctx)
			if err != nil {
				logger.Warn("reading tenant checkpoint", zap.Error(err))
			}
			if tenant == "" {
				tenant = cfg.Identity.DefaultTenant
			}
			if tenant != "" {
				go func() {
					if err := ctrl.SelectTenant(runCtx, tenant); err != nil {
						logger.Error("restoring tenant", zap.String("tenant", tenant), zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			rm.Stop(ctx)
			sock.Stop()
			ctrl.Stop()
			cancel()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("console stopped")
			return nil
		},
	})
}
