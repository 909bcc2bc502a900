// Command anonchat serves a Twitch chat overlay that shows every participant
// under a pseudonym instead of their real name.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to a database (DB_DSN) for encrypted OAuth token
//     storage and the anonymized transcript archive, running migrations at boot.
//   - Runs one chat session at a time, started over the admin API or, with
//     CHAT_AUTO_START=1, whenever the channel goes live.
//   - Exposes the overlay page, its SSE/websocket streams, /healthz, /readyz
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/anonchat/alias"
	"github.com/onnwee/anonchat/chat"
	"github.com/onnwee/anonchat/config"
	"github.com/onnwee/anonchat/db"
	"github.com/onnwee/anonchat/oauth"
	"github.com/onnwee/anonchat/overlay"
	"github.com/onnwee/anonchat/server"
	"github.com/onnwee/anonchat/session"
	"github.com/onnwee/anonchat/telemetry"
	"github.com/onnwee/anonchat/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("anonchat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The database is optional: without it the overlay still works but nothing
	// is archived and user tokens come from TWITCH_OAUTH_TOKEN only.
	var store *db.Store
	if cfg.DBDsn != "" {
		store, err = openStore(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("database setup failed", slog.Any("err", err), slog.String("component", "db"))
			os.Exit(1)
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	} else {
		slog.Info("DB_DSN not set, transcript archive and token storage disabled", slog.String("component", "db"))
	}

	// User token for authenticated IRC. A token stored by the OAuth flow wins
	// over the env token and is kept current by the refresher.
	var userToken atomic.Value
	userToken.Store(cfg.TwitchOAuthToken)
	if store != nil {
		if tok, err := store.GetOAuthToken(ctx, server.TwitchProvider); err == nil && tok.AccessToken != "" {
			userToken.Store(tok.AccessToken)
			slog.Info("using stored twitch user token", slog.Time("expires_at", tok.Expiry), slog.String("component", "oauth"))
		}
		if cfg.ValidateOAuthReady() == nil {
			oc, err := twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
			if err == nil {
				oauth.StartRefresher(ctx, store, server.TwitchProvider, 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
					res, err := twitchapi.RefreshToken(rctx, oc, refreshToken, nil)
					if err != nil {
						return "", "", time.Time{}, "", err
					}
					userToken.Store(res.AccessToken)
					return res.AccessToken, res.RefreshToken, res.Expiry, strings.Join(twitchapi.TokenScopes(res), " "), nil
				})
			}
		}
	}

	newTransport := func() chat.Transport {
		tok, _ := userToken.Load().(string)
		if cfg.TwitchBotUsername == "" || tok == "" {
			slog.Debug("connecting to chat anonymously", slog.String("component", "chat"))
		}
		return chat.NewTwitchTransport(cfg.TwitchBotUsername, tok)
	}

	// Alias pool: ALIAS_POOL or ALIAS_POOL_FILE, hot reloaded from the file.
	var pool atomic.Pointer[alias.Pool]
	initial := cfg.AliasPool
	pool.Store(&initial)
	if cfg.AliasPoolFile != "" {
		err := alias.WatchPoolFile(ctx, cfg.AliasPoolFile, func(p alias.Pool) {
			pool.Store(&p)
			slog.Info("alias pool reloaded", slog.Int("size", len(p)), slog.String("component", "alias"))
		})
		if err != nil {
			slog.Warn("alias pool file watch failed", slog.String("path", cfg.AliasPoolFile), slog.Any("err", err), slog.String("component", "alias"))
		}
	}
	if len(initial) == 0 {
		slog.Warn("alias pool is empty; sessions will halt on the first message unless a pool is supplied at start", slog.String("component", "alias"))
	}

	overlayLog := overlay.NewLog(cfg.OverlayHistory)
	renderers := chat.Renderers{overlayLog}
	var archive *db.Archive
	if store != nil {
		archive = db.NewArchive(store, db.ArchiveOptions{})
		renderers = append(renderers, archive)
	}

	opts := []session.Option{
		session.WithFormatter(chat.Formatter{Location: cfg.OverlayLocation, Layout: cfg.OverlayTimeLayout}),
		session.WithDefaultPool(func() alias.Pool { return *pool.Load() }),
		session.OnStart(func(sessionID, channel string) {
			overlayLog.Reset()
			if archive != nil {
				archive.SetSession(sessionID, channel)
			}
		}),
	}
	var helix *twitchapi.HelixClient
	if err := cfg.ValidateHelixReady(); err == nil {
		helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		opts = append(opts, session.WithBadgeLoader(helix))
	} else {
		slog.Info("badge images disabled", slog.Any("reason", err), slog.String("component", "badges"))
	}
	controller := session.NewController(newTransport, renderers, opts...)

	if cfg.ChatAutoStart {
		if err := cfg.ValidateAutoStart(); err != nil || helix == nil {
			slog.Warn("chat auto start disabled", slog.Any("err", err), slog.String("component", "session_auto"))
		} else {
			go controller.RunAuto(ctx, cfg.TwitchChannel, helix, cfg.AutoPollInterval)
		}
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	deps := server.Deps{
		Config:      cfg,
		Sessions:    controller,
		Overlay:     overlayLog,
		Store:       store,
		OnUserToken: func(accessToken string) { userToken.Store(accessToken) },
	}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		slog.Warn("session shutdown incomplete", slog.Any("err", err), slog.String("component", "session"))
	}
	if archive != nil {
		if err := archive.Close(shutdownCtx); err != nil {
			slog.Warn("archive flush incomplete", slog.Any("err", err), slog.String("component", "archive"))
		}
	}
}

// openStore connects, migrates and enables token encryption when
// ENCRYPTION_KEY is set.
func openStore(ctx context.Context, dsn string) (*db.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	store, err := db.Connect(connectCtx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("dialect", string(store.Dialect)), slog.String("component", "db_migrate"))
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	enc, err := db.EncryptorFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	store.SetEncryptor(enc)
	return store, nil
}
