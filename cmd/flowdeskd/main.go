package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/flowdeskhq/flowdesk/db"
	"github.com/flowdeskhq/flowdesk/internal/config"
	flowdb "github.com/flowdeskhq/flowdesk/internal/db"
	"github.com/flowdeskhq/flowdesk/internal/handlers"
	"github.com/flowdeskhq/flowdesk/internal/logger"
	"github.com/flowdeskhq/flowdesk/internal/notify"
	"github.com/flowdeskhq/flowdesk/internal/routing"
	"github.com/flowdeskhq/flowdesk/internal/server"
	"github.com/flowdeskhq/flowdesk/internal/store"
	"github.com/flowdeskhq/flowdesk/internal/store/postgres"
	"github.com/flowdeskhq/flowdesk/internal/sweeper"
	"github.com/flowdeskhq/flowdesk/internal/transport"
	"github.com/flowdeskhq/flowdesk/internal/transport/gateway"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowdeskd",
	Short: "Flowdesk conversational routing engine",
	Long:  "Flowdesk routes inbound chat traffic into department queues and walks contacts through tenant-defined option menus.",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.toml or $CONFIG_PATH)")
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(migrateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("flowdeskd %s\n", Version)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|version|force N]",
		Short: "Run database migrations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			migrations, err := fs.Sub(db.MigrationsFS, "migrations")
			if err != nil {
				return fmt.Errorf("migrations fs: %w", err)
			}
			return flowdb.RunMigrate(logger.L, cfg.Postgres, migrations, args[0], args[1:])
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return os.Getenv("CONFIG_PATH")
}

func runServer() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,

			fx.Annotate(postgres.NewStore, fx.As(new(store.Store))),
			notify.NewHub,
			func(hub *notify.Hub) notify.Notifier { return hub },

			provideGateway,
			provideDispatcher,
			provideEngine,
			provideDriver,
			provideSweeper,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideEventsHandler),
			provideServerHandler(provideQueuesHandler),
			provideServer,
		),
		fx.Invoke(
			startDriver,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := flowdb.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideGateway(log *slog.Logger, cfg config.Config) *gateway.Adapter {
	return gateway.NewAdapter(log, cfg.Gateway.URL, cfg.Gateway.Token)
}

func provideDispatcher(log *slog.Logger, adapter *gateway.Adapter, st store.Store, notifier notify.Notifier, cfg config.Config) *routing.Dispatcher {
	return routing.NewDispatcher(log, adapter, st, notifier, cfg.Engine.SendRate, cfg.Engine.SendBurst)
}

func provideEngine(log *slog.Logger, st store.Store, dispatcher *routing.Dispatcher, notifier notify.Notifier, cfg config.Config) *routing.Engine {
	return routing.NewEngine(log, st, dispatcher, notifier, routing.Options{
		RouteGroups: cfg.Engine.RouteGroups,
	})
}

func provideDriver(log *slog.Logger, engine *routing.Engine, adapter *gateway.Adapter, cfg config.Config) *routing.Driver {
	var receiver transport.Receiver = adapter
	return routing.NewDriver(log, engine, receiver, cfg.Engine.PassTimeout.Std())
}

func provideSweeper(log *slog.Logger, st store.Store, notifier notify.Notifier, cfg config.Config) *sweeper.Sweeper {
	maxIdle := cfg.Sweeper.MaxIdle.Std()
	if !cfg.Sweeper.Enabled {
		maxIdle = 0
	}
	return sweeper.New(log, st, notifier, cfg.Sweeper.Cron, maxIdle)
}

func provideEventsHandler(log *slog.Logger, hub *notify.Hub) *handlers.EventsHandler {
	return handlers.NewEventsHandler(log, hub)
}

func provideQueuesHandler(log *slog.Logger, st store.Store) *handlers.QueuesHandler {
	return handlers.NewQueuesHandler(log, st)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startDriver(lc fx.Lifecycle, driver *routing.Driver) {
	lc.Append(fx.Hook{
		OnStart: driver.Start,
		OnStop:  driver.Stop,
	})
}

func startSweeper(lc fx.Lifecycle, s *sweeper.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Flowdesk %s\n", Version)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil { // blocks until shutdown
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
