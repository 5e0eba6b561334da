package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"fragment-arena/internal/auth"
	"fragment-arena/internal/bus"
	"fragment-arena/internal/clock"
	"fragment-arena/internal/config"
	"fragment-arena/internal/db"
	"fragment-arena/internal/gateway"
	"fragment-arena/internal/httpapi"
	"fragment-arena/internal/middleware"
	"fragment-arena/internal/tournament"
)

func main() {
	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting arena gateway in %s mode", cfg.Environment)

	mongodb, err := db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongodb.Close(ctx)
	}()
	log.Printf("Connected to MongoDB database: %s", cfg.MongoDB.Database)

	b, err := newBus(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to bus: %v", err)
	}
	defer b.Close()

	// Session manager plus the bus listener that feeds it move requests.
	manager := gateway.NewManager(gateway.NewStore(mongodb), b, cfg)
	manager.StartMonitor()
	defer manager.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := gateway.NewListener(manager, b)
	go listener.Run(ctx)

	// Agent transports: WebSocket and newline-delimited TCP.
	wsServer := gateway.NewWSServer(manager)
	wsRouter := mux.NewRouter()
	wsLimiter := middleware.NewRateLimiter()
	defer wsLimiter.Stop()
	wsRouter.Handle("/ws/agent",
		wsLimiter.IPRateLimitMiddleware(middleware.WebSocketUpgradeLimit)(
			http.HandlerFunc(wsServer.HandleAgentSocket)))

	wsAddr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.WSPort)
	wsSrv := &http.Server{
		Addr:        wsAddr,
		Handler:     wsRouter,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		log.Printf("[Gateway] WebSocket endpoint listening on %s", wsAddr)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("WebSocket server error: %v", err)
		}
	}()

	tcpAddr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.TCPPort)
	tcpSrv := gateway.NewTCPServer(manager, tcpAddr)
	go func() {
		log.Printf("[Gateway] TCP endpoint listening on %s", tcpAddr)
		if err := tcpSrv.ListenAndServe(ctx); err != nil {
			log.Printf("TCP server stopped: %v", err)
		}
	}()

	// Operator HTTP API. The tournament controller here only reads state;
	// the worker owns scheduling.
	clk := clock.New(cfg.TournamentStart())
	controller := tournament.New(mongodb, b, clk)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.TTL)*time.Minute)
	api := httpapi.New(mongodb, controller, middleware.NewAuthMiddleware(jwtService))
	defer api.Close()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.Frontend.URL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	apiAddr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.APIPort)
	apiSrv := &http.Server{
		Addr:         apiAddr,
		Handler:      corsHandler.Handler(api.Router()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("[Gateway] API listening on %s", apiAddr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gateway...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown error: %v", err)
	}
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("WebSocket shutdown error: %v", err)
	}

	log.Println("Gateway stopped")
}

// newBus connects to Redis, or falls back to the in-process bus when no URL
// is configured (single-node local mode).
func newBus(cfg *config.Config) (bus.Bus, error) {
	if cfg.Redis.URL == "" {
		log.Println("No Redis URL configured, using in-memory bus (single-node mode)")
		return bus.NewMemoryBus(), nil
	}
	return bus.NewRedisBus(cfg.Redis.URL)
}
