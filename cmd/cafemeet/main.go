package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/cafemeet/internal/auth"
	"github.com/4xmen/cafemeet/internal/db"
	"github.com/4xmen/cafemeet/internal/discovery"
	"github.com/4xmen/cafemeet/internal/handlers"
	"github.com/4xmen/cafemeet/internal/mdns"
	"github.com/4xmen/cafemeet/internal/push"
	"github.com/4xmen/cafemeet/internal/radio"
	"github.com/4xmen/cafemeet/internal/relay"
	"github.com/4xmen/cafemeet/internal/session"
	"github.com/4xmen/cafemeet/internal/ws"
	"github.com/4xmen/cafemeet/pkg/config"
	"github.com/4xmen/cafemeet/pkg/i18n"
)

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := i18n.Normalize(c.GetHeader("Accept-Language"))
		limiterContext, err := limiterInstance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate(lang, "rate limiter error")})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limiterContext.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limiterContext.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(limiterContext.Reset, 10))

		if limiterContext.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": i18n.Translate(lang, "rate limit exceeded")})
			return
		}

		c.Next()
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func serverErrorLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("server error",
				"status", c.Writer.Status(),
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"ip", c.ClientIP(),
				"duration", time.Since(start).Truncate(time.Millisecond),
				"errors", c.Errors.ByType(gin.ErrorTypeAny).String(),
				"response", strings.TrimSpace(blw.body.String()),
			)
		}
	}
}

func panicRecovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"error", recovered,
			"stack", string(debug.Stack()),
		)
		lang := i18n.Normalize(c.GetHeader("Accept-Language"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate(lang, "internal server error")})
	})
}

func cors(origins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			logger.Error("command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	switch args[0] {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "migrate":
		return runMigrate(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  cafemeet           Start the web server")
	fmt.Fprintln(out, "  cafemeet status    Show application statistics")
	fmt.Fprintln(out, "  cafemeet status --json")
	fmt.Fprintln(out, "  cafemeet migrate conversation-pairs [--dry-run] [--database path]")
}

// radioFactory picks the discovery backend. The returned cleanup closes any
// broker connection.
func radioFactory(cfg *config.Config, logger *slog.Logger) (func(string) discovery.Radio, func(), error) {
	switch cfg.RadioDriver {
	case config.RadioMQTT:
		hostname, _ := os.Hostname()
		gw, err := radio.Connect(cfg.MQTTBroker, fmt.Sprintf("cafemeet-%s-%d", hostname, os.Getpid()), cfg.ScanWindow, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		return func(userID string) discovery.Radio { return gw.Radio(userID) }, gw.Close, nil
	default:
		return func(string) discovery.Radio { return radio.NewStatic(cfg.ScanWindow) }, func() {}, nil
	}
}

func newRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (relay.Relay, error) {
	if cfg.RelayDriver == config.RelayRedis {
		r, err := relay.Dial(ctx, cfg.RedisAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return r, nil
	}
	return relay.NewLocal(logger), nil
}

func authLimiter(formatted string, fallback limiter.Rate) *limiter.Limiter {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		rate = fallback
	}
	return limiter.New(memory.NewStore(), rate)
}

func runServer(cfg *config.Config, logger *slog.Logger) error {
	if err := ensureConversationPairsMigrated(cfg.DatabasePath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	authSvc := auth.New(database.GetConn(), cfg.JWTSecret)
	if cfg.RadioDriver != config.RadioMQTT {
		// The static radio reports the demo universe; give it accounts so it can be messaged.
		if err := authSvc.SeedUsers(ctx, radio.DemoUsers()); err != nil {
			return fmt.Errorf("failed to seed demo users: %w", err)
		}
	}

	radios, closeRadio, err := radioFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRadio()

	rel, err := newRelay(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rel.Close()

	notifier := push.NewNotifier(database.GetConn(), cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, logger)

	hub := ws.NewHub(nil, logger)
	sessionCfg := session.Config{
		Store:            database,
		Directory:        authSvc,
		Relay:            rel,
		Radio:            radios,
		DetectionRange:   cfg.DefaultDetectionRange,
		MaxMessageLength: cfg.MaxMessageLength,
		Publisher:        hub,
		Presence:         hub,
		Logger:           logger,
	}
	if notifier != nil {
		sessionCfg.Pusher = notifier
	} else {
		logger.Info("web push disabled (no VAPID keys)")
	}
	sessions := session.NewManager(sessionCfg)
	defer sessions.Close()
	hub.SetDispatcher(sessions)
	go hub.Run(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger(logger))
	router.Use(gin.Logger())
	router.Use(panicRecovery(logger))
	router.Use(cors(cfg.CORSOrigins))

	handlers.Routes{
		Auth:          handlers.NewAuthHandler(authSvc, sessions, logger),
		Discovery:     handlers.NewDiscoveryHandler(logger),
		Chat:          handlers.NewChatHandler(logger),
		Offers:        handlers.NewOfferHandler(logger),
		Push:          handlers.NewPushHandler(notifier, logger),
		WebSocket:     hub.HandleWebSocket,
		LoginLimit:    rateLimitMiddleware(authLimiter(cfg.RateLimit, limiter.Rate{Period: time.Minute, Limit: 5})),
		RegisterLimit: rateLimitMiddleware(limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})),
	}.Mount(router)

	router.NoRoute(func(c *gin.Context) {
		lang := i18n.Normalize(c.GetHeader("Accept-Language"))
		c.JSON(http.StatusNotFound, gin.H{"error": i18n.Translate(lang, "not found")})
	})

	port, _ := strconv.Atoi(cfg.Port)
	if cfg.MDNSEnabled {
		adv := mdns.NewAdvertiser(logger)
		if err := adv.Start(port, cfg.RadioDriver); err != nil {
			logger.Warn("mDNS advertisement unavailable", "error", err)
		}
		defer adv.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "radio", cfg.RadioDriver, "relay", cfg.RelayDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
