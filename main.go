package main

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pong-tournament/config"
	"pong-tournament/engine"
	"pong-tournament/gateway"
	"pong-tournament/handlers"
	"pong-tournament/middleware"
	"pong-tournament/models"
	"pong-tournament/services"
	"pong-tournament/utils"
	"pong-tournament/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenDatabase(cfg.DatabaseURL, cfg.LogDevelopment)
	if err != nil {
		logger.Fatal(err)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	var engineServer *engine.Server
	var engineHTTP *http.Server
	if cfg.RunEngine {
		engineServer = engine.NewServer(engine.DefaultConfig(), cfg.ServiceToken,
			engine.NewHTTPReporter(cfg.BracketURL, cfg.ServiceToken), cfg.SocketSendBuffer, logger.Named("engine"))
		engineHTTP = &http.Server{Addr: cfg.EngineListenAddr, Handler: engineServer.Router(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := engineHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatalf("engine server error: %v", err)
			}
		}()
		logger.Infof("✅ Physics engine listening on %s", cfg.EngineListenAddr)
	}

	bracket := services.NewBracketService(db, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), logger.Named("bracket"))
	sessions := gateway.NewSessionRegistry()
	lobby := services.NewLobbyService(sessions, bracket, logger.Named("lobby"))
	tunnels := gateway.NewTunnelRegistry(&gateway.EngineDialer{URL: cfg.EngineURL, Token: cfg.ServiceToken}, cfg.SocketSendBuffer, logger.Named("tunnels"))
	gw := gateway.New(sessions, tunnels, lobby, bracket, cfg.SocketSendBuffer, logger.Named("gateway"))

	matchHandler := services.NewMatchHandler(bracket, lobby, nil, utils.BracketKey, logger.Named("match"))
	archive, err := utils.NewArchiveStore(ctx, cfg.Archive)
	if err != nil {
		logger.Fatalf("failed to initialize R2 client: %v", err)
	}
	if archive != nil {
		matchHandler.Archive = archive
		logger.Infof("✅ Closed brackets archived to bucket %s", cfg.Archive.Bucket)
	}

	verifier := newVerifier(cfg, logger)

	if _, err := workers.StartMatchReaper(ctx, bracket, lobby, cfg.ReapInterval, cfg.StaleMatchAfter, logger.Named("reaper")); err != nil {
		logger.Fatalf("failed to start match reaper: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handlers.SetupMatchRoutes(app, matchHandler, cfg.ServiceToken, logger)
	handlers.SetupGatewayRoutes(app, gw, lobby, verifier, cfg.ServiceToken, logger)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			logger.Errorf("Server error: %v", err)
			stop()
		}
	}()

	logger.Infof("✅ Gateway running on %s", cfg.ListenAddr)
	logger.Infof("✅ Tunnels dial the engine at %s", cfg.EngineURL)
	logger.Infof("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warnf("gateway shutdown: %v", err)
	}
	if engineServer != nil {
		engineServer.Shutdown()
		if err := engineHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("engine shutdown: %v", err)
		}
	}
}

// newVerifier prefers local JWT validation and falls back to the remote auth service.
func newVerifier(cfg *config.Config, logger *zap.SugaredLogger) services.TokenVerifier {
	if cfg.JWTSecret != "" {
		logger.Info("🔐 Verifying client tokens locally (HS256)")
		return services.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	}
	logger.Infof("🔐 Verifying client tokens with %s", cfg.AuthServiceURL)
	return services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.ServiceToken)
}
