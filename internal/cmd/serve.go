package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/parlor-sh/parlor/internal/config"
	"github.com/parlor-sh/parlor/internal/handlers"
	"github.com/parlor-sh/parlor/internal/logger"
	"github.com/parlor-sh/parlor/internal/services"
)

var serveDev bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the parlor daemon",
	Long: `Runs the parlor daemon: the terminal registry, the profile store, and
the HTTP surface (REST, SSE events, and the terminal WebSocket).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "pretty console logging and debug level")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := logger.LogLevel(cfg.Log.Level)
	if serveDev {
		level = logger.GetLogLevelFromEnv(true)
	}
	logger.Configure(level, serveDev, cfg.Log.File)

	store := services.NewProfileStore(config.Runtime.ProfileStorePath())
	if err := store.Watch(); err != nil {
		logger.Warnf("⚠️  Profile store watcher unavailable: %v", err)
	}
	defer store.Close()

	sessions := services.NewSessionHandler(config.Runtime.SessionsDir())
	limits := services.NewRateLimitManager(store)
	registry := services.NewRegistry(store, sessions, limits, cfg.Capture)
	switcher := services.NewSwitchCoordinator(store, limits, sessions, cfg.Switch)
	registry.SetSwitchCoordinator(switcher)

	events := handlers.NewEventsHandler()
	registry.SetEventsHandler(events)
	switcher.SetEventsHandler(events)

	profilesHandler := handlers.NewProfilesHandler(store, limits)
	sessionsHandler := handlers.NewSessionsHandler(registry, sessions)
	terminalHandler := handlers.NewTerminalHandler(registry, events)

	app := fiber.New(fiber.Config{
		AppName:               "parlor",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	v1 := app.Group("/v1")
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})
	v1.Get("/events", events.HandleSSE)
	v1.Get("/terminal", terminalHandler.HandleWebSocket)

	v1.Get("/profiles", profilesHandler.ListProfiles)
	v1.Post("/profiles", profilesHandler.CreateProfile)
	v1.Patch("/profiles/:id", profilesHandler.RenameProfile)
	v1.Delete("/profiles/:id", profilesHandler.DeleteProfile)
	v1.Post("/profiles/:id/activate", profilesHandler.ActivateProfile)
	v1.Put("/profiles/:id/token", profilesHandler.AssignToken)
	v1.Get("/profiles/:id/ratelimit", profilesHandler.RateLimitStatus)
	v1.Delete("/profiles/:id/ratelimit", profilesHandler.ClearRateLimits)

	v1.Get("/sessions", sessionsHandler.ListSessions)
	v1.Post("/sessions", sessionsHandler.SpawnSession)
	v1.Get("/sessions/:id", sessionsHandler.GetSession)
	v1.Delete("/sessions/:id", sessionsHandler.DisposeSession)
	v1.Get("/projects/sessions", sessionsHandler.ListProjectSessions)
	v1.Delete("/projects/sessions", sessionsHandler.ClearProjectSessions)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Infof("🛑 Received %s, shutting down", sig)
		registry.DisposeAll()
		_ = app.Shutdown()
	}()

	logger.Infof("🪑 Parlor listening on %s (state in %s)", cfg.Serve.Addr, config.Runtime.StateDir)
	return app.Listen(cfg.Serve.Addr)
}
