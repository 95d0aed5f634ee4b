package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rankgate/rankgate/internal/audit"
	"github.com/rankgate/rankgate/internal/auth"
	"github.com/rankgate/rankgate/internal/config"
	httpapp "github.com/rankgate/rankgate/internal/http"
	"github.com/rankgate/rankgate/internal/ranker"
	"github.com/rankgate/rankgate/internal/rate"
	"github.com/rankgate/rankgate/internal/roblox"
	"github.com/rankgate/rankgate/internal/store/sqlite"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer st.Close()

	rc := roblox.New(cfg.Cookie, cfg.GroupID)
	loginCtx, cancelLogin := context.WithTimeout(context.Background(), 15*time.Second)
	user, err := rc.Authenticate(loginCtx)
	cancelLogin()
	if err != nil {
		// The gateway cannot serve anything useful without a session.
		log.Fatalf("roblox login failed: %v", err)
	}
	log.Printf("logged in as %s (%d)", user.Name, user.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var limiter rate.RequestLimiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
		limiter = rate.NewRedis(rdb, cfg.RateLimits.RequestsPerMinute, time.Minute)
		log.Printf("request limiter: redis (%s)", cfg.RedisAddr)
	} else {
		mem := rate.NewMemory(cfg.RateLimits.RequestsPerMinute, time.Minute)
		mem.StartJanitor(ctx, 2*time.Minute)
		limiter = mem
	}

	var sink audit.Sink = audit.NopSink{}
	if cfg.WebhookURL != "" {
		sink = audit.NewWebhook(cfg.WebhookURL)
	}

	gate := auth.NewGate(st, auth.Secrets{
		Maintainer: cfg.MaintainerSecret,
		Secondary:  cfg.SecondarySecret,
		Spectator:  cfg.SpectatorSecret,
		APIKey:     cfg.APIKey,
	})
	actions := rate.NewActionCounter(cfg.RateLimits.ActionWindow)
	rk := ranker.New(rc, sink)

	restart := make(chan struct{}, 1)
	server := httpapp.NewServer(st, gate, actions, limiter, rk, cfg, restart)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("rankgate listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	if cfg.SelfURL != "" && cfg.PingInterval > 0 {
		go selfPing(ctx, cfg.SelfURL, cfg.PingInterval)
	}

	var restartTimer <-chan time.Time
	if cfg.RestartAfter > 0 {
		t := time.NewTimer(cfg.RestartAfter)
		defer t.Stop()
		restartTimer = t.C
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down...")
	case <-restart:
		log.Println("restart requested, shutting down...")
	case <-restartTimer:
		log.Println("scheduled restart, shutting down...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// selfPing keeps the host's idle timeout from reaping the process. The
// process supervisor is expected to restart the gateway when it exits.
func selfPing(ctx context.Context, selfURL string, every time.Duration) {
	client := &http.Client{Timeout: 10 * time.Second}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, selfURL, nil)
			if err != nil {
				log.Printf("self-ping error: %v", err)
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				log.Printf("self-ping error: %v", err)
				continue
			}
			resp.Body.Close()
			log.Printf("self-ping responded with %d", resp.StatusCode)
		}
	}
}
