package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ChainPilot/internal/api"
	"ChainPilot/internal/auth"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/task"
	"ChainPilot/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept commands over HTTP and run them on a worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	cmd.Flags().String("listen", "", "HTTP listen address (overrides server.address)")
	_ = v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

// runServe 启动任务处理器与 HTTP 接口，二者任一退出即整体退出。
func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if listen := v.GetString("listen"); listen != "" {
		cfg.Server.Address = listen
	}
	if err := initLogger(cfg, false); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("serve")

	p, err := buildPipeline(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer p.Close()

	authService, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return err
	}

	store, err := task.NewStore(cfg.Storage.TaskStore)
	if err != nil {
		return err
	}
	queue, err := task.NewQueue(ctx, cfg.TaskQueue)
	if err != nil {
		_ = store.Close()
		return err
	}
	service := task.NewService(store, queue, cfg.Storage.TaskStore.Retries)
	defer func() {
		if err := service.Close(); err != nil {
			lg.Warn("关闭任务服务失败", "error", err)
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if webhook := cfg.Alerts.ResolveSlackWebhook(); webhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{WebhookURL: webhook})
	}
	processor := task.NewProcessor(p.agent, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithAlerts(alerting.NewFanout(xerrors.Severity(cfg.Alerts.MinSeverity), notifiers...)),
	)
	server := api.NewServer(cfg.Server.Address, service,
		api.WithMetrics(p.metrics),
		api.WithHistory(p.agent),
		api.WithAuth(authService.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodGet:  {auth.PermissionRead},
				http.MethodPost: {auth.PermissionSubmit},
			},
		})),
		api.WithHealthCheck(func(ctx context.Context) error {
			_, err := p.client.Tools(ctx)
			return err
		}),
		api.WithWaitLimit(cfg.Pipeline.CommandTimeout.Std()+5*time.Second),
	)

	lg.Info("服务模式已启动",
		"addr", cfg.Server.Address,
		"queue", cfg.TaskQueue.Driver,
		"workers", cfg.TaskQueue.Worker,
		"auth", authService.Mode(),
		"endpoint", cfg.ToolProvider.Endpoint,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ignoreCanceled(processor.Start(groupCtx))
	})
	group.Go(func() error {
		return ignoreCanceled(server.Start(groupCtx))
	})
	return group.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
