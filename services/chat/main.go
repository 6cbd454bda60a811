package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/gymhub/chat/internal/auth"
	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/config"
	"github.com/gymhub/chat/internal/handler"
	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/repository"
	"github.com/gymhub/chat/internal/startup"
	"github.com/gymhub/chat/internal/storage/memory"
	"github.com/gymhub/chat/internal/ws"
	"github.com/gymhub/chat/migrations"
)

// stores — три хранилища чата; в режиме -memory все три реализует один memory.ChatStore.
type stores struct {
	conversations chat.ConversationStore
	messages      chat.MessageStore
	receipts      chat.ReceiptStore
}

// runOptions — флаги запуска сервиса.
type runOptions struct {
	migrate  bool
	dev      bool
	inMemory bool
	devToken string
}

// parseFlags разбирает флаги; -memory несовместим с -migrate и -dev (БД не используется).
func parseFlags(args []string) (runOptions, error) {
	var o runOptions
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.BoolVar(&o.migrate, "migrate", false, "run database migrations and exit (with -dev: against the embedded database)")
	fs.BoolVar(&o.dev, "dev", false, "start with embedded PostgreSQL (no external DB required)")
	fs.BoolVar(&o.inMemory, "memory", false, "keep conversations in process memory (no database)")
	fs.StringVar(&o.devToken, "token", "", "print a development access token for role:id and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.inMemory && (o.migrate || o.dev) {
		return o, errors.New("-memory cannot be combined with -migrate or -dev")
	}
	return o, nil
}

func main() {
	logger.SetPrefix("chat")
	defer logger.Flush(2 * time.Second)
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Fatalf("flags: %v", err)
	}

	logger.Info("starting chat service")
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	if opts.devToken != "" {
		tok, err := issueDevToken(cfg, opts.devToken)
		if err != nil {
			logger.Fatalf("token: %v", err)
		}
		fmt.Println(tok)
		return
	}
	if cfg.LogFile.Path != "" {
		closer := logger.SetFile(cfg.LogFile.Path, cfg.LogFile.MaxSizeMB, cfg.LogFile.MaxBackups, cfg.LogFile.MaxAgeDays)
		defer closer.Close()
	}

	var st stores
	if opts.inMemory {
		mem := memory.NewChatStore()
		st = stores{conversations: mem, messages: mem, receipts: mem}
		logger.Info("conversations are kept in memory")
	} else {
		if opts.dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Fatalf("embedded postgres: %v", err)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			logger.Fatalf("parse db config: %v", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 2

		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		defer pool.Close()

		migCtx, migCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = migrations.Apply(migCtx, pool)
		migCancel()
		if err != nil {
			logger.Fatalf("%v", err)
		}
		logger.Info("database connected, migrations applied")
		if opts.migrate {
			return
		}
		st = stores{
			conversations: repository.NewConversationRepository(pool),
			messages:      repository.NewMessageRepository(pool),
			receipts:      repository.NewReceiptRepository(pool),
		}
	}

	presence := startup.PresenceStore(cfg.Redis.URL, 30*time.Second, "")
	defer presence.Close()
	// После рестарта никто не подключён: сбрасываем онлайн-статусы прошлого процесса.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := presence.Reset(resetCtx); err != nil {
		logger.Errorf("reset presence: %v", err)
	}
	resetCancel()

	dir := chat.NewDirectory(st.conversations)
	pipeline := chat.NewPipeline(dir, st.messages, cfg.MaxMessageLength)
	receipts := chat.NewReceipts(dir, st.messages, st.receipts)
	history := chat.NewHistory(dir, st.messages)

	hub := ws.NewHub(ws.Deps{
		Directory:   dir,
		Pipeline:    pipeline,
		Receipts:    receipts,
		Broadcaster: ws.NewBroadcaster(model.Roles...),
		Presence:    presence,
	}, cfg.MaxWSConnections, ws.Options{
		WriteWait:      time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongWait:       time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
		SendBufSize:    cfg.WSSendBufferSize,
	}, cfg.DebugRooms)

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.RouterDeps{
			Hub:              hub,
			Directory:        dir,
			History:          history,
			Receipts:         receipts,
			Presence:         presence,
			Verifiers:        buildVerifiers(cfg),
			Cookies:          cookieNames(cfg),
			AllowedOrigins:   cfg.CORSOrigins(),
			WSAllowedOrigins: cfg.CORSAllowedOrigins,
			RateLimitPerIP:   cfg.RateLimitPerIP,
			RateLimitPerUser: cfg.RateLimitPerUser,
			InternalSecret:   cfg.InternalSecret,
			DebugRooms:       cfg.DebugRooms,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	// Продление TTL онлайн-статусов в зеркале, пока соединения живы.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.PresenceHeartbeat, func() {
		hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.HeartbeatPresence(hbCtx); err != nil {
			logger.Errorf("presence heartbeat: %v", err)
		}
	}); err != nil {
		logger.Fatalf("presence heartbeat schedule %q: %v", cfg.PresenceHeartbeat, err)
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
		logger.Info("server stopped accepting connections")
		return nil
	})

	err = g.Wait()
	<-scheduler.Stop().Done()
	hubCancel()
	<-hubDone
	logger.Info("hub stopped")
	if err != nil {
		logger.Fatalf("server error: %v", err)
	}
}

// buildVerifiers: при AUTH_SERVICE_URL токены проверяет сервис авторизации, иначе JWT с секретом роли.
func buildVerifiers(cfg *config.Config) auth.Verifiers {
	out := make(auth.Verifiers, len(model.Roles))
	client := &http.Client{Timeout: 5 * time.Second}
	for _, role := range model.Roles {
		if cfg.AuthServiceURL != "" {
			out[role] = auth.NewRemoteVerifier(cfg.AuthServiceURL, role, client)
			continue
		}
		out[role] = auth.NewJWTVerifier(cfg.Auth[role].JWTSecret, role)
	}
	return out
}

// issueDevToken подписывает токен секретом роли (только при локальной проверке JWT).
func issueDevToken(cfg *config.Config, spec string) (string, error) {
	roleStr, id, ok := strings.Cut(spec, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("expected role:id, got %q", spec)
	}
	role, err := model.ParseRole(roleStr)
	if err != nil {
		return "", err
	}
	return auth.Sign(cfg.Auth[role].JWTSecret, model.Participant{ID: strings.TrimSpace(id), Role: role}, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
}

func cookieNames(cfg *config.Config) map[model.ParticipantRole]string {
	out := make(map[model.ParticipantRole]string, len(cfg.Auth))
	for role, a := range cfg.Auth {
		out[role] = a.CookieName
	}
	return out
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chat"
		password = "chat_secret"
		database = "chat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
