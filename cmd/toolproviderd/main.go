package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ChainPilot/internal/config"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/toolserver"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/provider"
	"ChainPilot/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// main 是工具提供方守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("toolproviderd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Logger()); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("toolproviderd")

	ring, err := web3.ParseKeyring(os.Getenv(cfg.Provider.SigningKeysEnv))
	if err != nil {
		return fmt.Errorf("加载签名密钥失败: %w", err)
	}

	network, err := provider.Open(ctx, cfg.Provider, ring)
	if err != nil {
		return err
	}
	defer network.Close()

	svc := toolserver.New(network.Client, ring,
		toolserver.WithNetworkName(network.Name),
		toolserver.WithAliases(cfg.Provider.Aliases),
		toolserver.WithSigningMaterialExposed(cfg.Provider.ExposeSigningMaterial),
	)
	rpcServer, err := toolrpc.NewServer(svc)
	if err != nil {
		return err
	}
	defer rpcServer.Stop()

	mux := http.NewServeMux()
	mux.Handle(cfg.Provider.Path, rpcServer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.Provider.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		lg.Info("工具提供方已启动",
			"listen", cfg.Provider.Listen,
			"path", cfg.Provider.Path,
			"network", network.Name,
			"signing_keys", ring.Len(),
			"expose_signing_material", cfg.Provider.ExposeSigningMaterial,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lg.Info("正在关闭工具提供方")
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func loadConfig() (*config.Config, error) {
	path := strings.TrimSpace(os.Getenv("CHAINPILOT_CONFIG"))
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
