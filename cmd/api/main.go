package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/daadii/onechat/backend/internal/config"
	"github.com/daadii/onechat/backend/internal/handler"
	"github.com/daadii/onechat/backend/internal/handler/completion"
	"github.com/daadii/onechat/backend/internal/middleware"
	"github.com/daadii/onechat/backend/internal/service/ai"
	"github.com/daadii/onechat/backend/internal/service/auth"
	"github.com/daadii/onechat/backend/internal/service/chat"
	"github.com/daadii/onechat/backend/internal/service/endpoint"
	"github.com/daadii/onechat/backend/internal/service/persistence"
	"github.com/daadii/onechat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Client.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}

	st, err := openStore(cfg.Client)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer st.Close()

	events := auth.NewBroadcaster()
	identity := auth.ContextIdentity{}
	history := persistence.New(st, identity, cfg.Client.HistoryLimit)

	registry := chat.NewRegistry(history, endpoint.New(cfg.Client.EndpointURL, nil), identity)
	registry.Watch(events)

	// Initialize AI service
	var generator completion.Generator
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			generator = aiService
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，参考端点将返回 503")
	}

	quota := completion.NewQuota(cfg.Client.RelayRequestsPerMinute, cfg.Client.RelayBurst, cfg.Client.RelayCredits)
	relay := completion.New(generator, quota, cfg.AI.Model)

	authn := middleware.NewAuthenticator(auth.NewJWTVerifier([]byte(cfg.Client.JWTSecret)), events)
	router := handler.NewRouter(registry, history, authn, events, relay)

	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.ClientConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Println("using in-memory conversation store")
		return store.NewMemoryStore(), nil
	default:
		log.Printf("using sqlite conversation store at %s", cfg.StorePath)
		return store.NewSQLiteStore(cfg.StorePath)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("OneChat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
