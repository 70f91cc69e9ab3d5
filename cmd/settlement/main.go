package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/0gfoundation/0g-pos-settlement/internal/api"
	"github.com/0gfoundation/0g-pos-settlement/internal/brand"
	"github.com/0gfoundation/0g-pos-settlement/internal/config"
	"github.com/0gfoundation/0g-pos-settlement/internal/logging"
	"github.com/0gfoundation/0g-pos-settlement/internal/metrics"
	"github.com/0gfoundation/0g-pos-settlement/internal/settlement"
	"github.com/0gfoundation/0g-pos-settlement/internal/settler"
	"github.com/0gfoundation/0g-pos-settlement/internal/sigverify"
	"github.com/0gfoundation/0g-pos-settlement/internal/state"
)

// healthService is the gRPC health service name reported alongside "".
const healthService = "settlement"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Signature methods ─────────────────────────────────────────────────────
	verifier, err := newVerifier(cfg.Signatures.Disabled)
	if err != nil {
		log.Fatal("signature config invalid", zap.Error(err))
	}
	log.Info("signature methods enabled", zap.Strings("methods", enabledMethods(verifier)))

	// ── Settlement engine ─────────────────────────────────────────────────────
	m := metrics.New()
	brands := brand.NewRegistry(rdb)
	engine := settlement.NewEngine(state.NewStore(rdb), brands, verifier, cfg.Domain(), log)
	engine.SetEmitter(settlement.NewStreamEmitter(rdb, cfg.Settler.EventStreamLen, log))
	engine.SetMetrics(m)

	if err := engine.Bootstrap(ctx, cfg.FeeSettings()); err != nil {
		log.Fatal("fee settings bootstrap failed", zap.Error(err))
	}

	// ── Relayer ───────────────────────────────────────────────────────────────
	go settler.Run(ctx, cfg, rdb, engine, cfg.Codec(), m, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := newRouter(api.NewHandler(engine, brands, verifier, cfg.Codec(), rdb, m, log),
		api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── gRPC health ───────────────────────────────────────────────────────────
	grpcServer, healthServer := newGRPCServer()
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal("gRPC listen failed", zap.Int("port", cfg.Server.GRPCPort), zap.Error(err))
	}
	go func() {
		log.Info("gRPC health server starting", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	log.Info("settlement service ready",
		zap.String("domain", cfg.Order.Domain),
		zap.Uint64("chain_id", cfg.Order.ChainID),
		zap.String("engine", engine.Escrow().Hex()),
	)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	healthServer.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := rdb.Close(); err != nil {
		log.Warn("redis close error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// newVerifier returns the default signature registry with the named methods
// disabled.
func newVerifier(disabled []string) (*sigverify.Registry, error) {
	reg := sigverify.DefaultRegistry()
	for _, name := range disabled {
		if strings.TrimSpace(name) == "" {
			continue
		}
		method, err := sigverify.ParseMethod(name)
		if err != nil {
			return nil, fmt.Errorf("signatures.disabled: %w", err)
		}
		reg.Disable(method)
	}
	if len(enabledMethods(reg)) == 0 {
		return nil, errors.New("signatures.disabled: no signature method left enabled")
	}
	return reg, nil
}

var signatureMethods = []sigverify.Method{
	sigverify.MethodECDSA,
	sigverify.MethodPersonal,
	sigverify.MethodEd25519,
}

// enabledMethods names the signature methods reg still accepts.
func enabledMethods(reg *sigverify.Registry) []string {
	var names []string
	for _, m := range signatureMethods {
		if reg.Enabled(m) {
			names = append(names, m.String())
		}
	}
	return names
}

func newRouter(h *api.Handler, limiter *api.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h.Register(r, limiter)
	return r
}

// newGRPCServer builds a gRPC server exposing only the standard health service.
func newGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	return s, hs
}
