package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ChainPilot/internal/cli"
	"ChainPilot/internal/config"
	"ChainPilot/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagConfig   = "config"
	flagEndpoint = "endpoint"
	flagVerbose  = "verbose"
)

// main 是 ChainPilot 命令行的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chainpilot: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand 构建命令树。flag 的值同时可以由 CHAINPILOT_ 前缀的环境变量提供。
func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHAINPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "chainpilot",
		Short:         "Run blockchain commands written in plain English",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd.Context(), v)
		},
	}
	flags := root.PersistentFlags()
	flags.String(flagConfig, "", "path to a YAML or JSON config file")
	flags.String(flagEndpoint, "", "tool provider endpoint (overrides tool_provider.endpoint)")
	flags.BoolP(flagVerbose, "v", false, "log at debug level")
	for _, name := range []string{flagConfig, flagEndpoint, flagVerbose} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(newServeCommand(v), newDocsCommand(v))
	return root
}

// loadConfig 读取配置文件，再叠加 flag 与环境变量。
func loadConfig(v *viper.Viper) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := strings.TrimSpace(v.GetString(flagConfig)); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if endpoint := strings.TrimSpace(v.GetString(flagEndpoint)); endpoint != "" {
		cfg.ToolProvider.Endpoint = endpoint
	}
	if v.GetBool(flagVerbose) {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// initLogger 初始化进程日志。交互模式下 stdout 只输出命令结果，日志一律写到 stderr。
func initLogger(cfg *config.Config, interactive bool) error {
	logCfg := cfg.Log.Logger()
	if interactive {
		logCfg.Format = "text"
		outputs := make([]string, 0, len(logCfg.OutputPaths))
		for _, out := range logCfg.OutputPaths {
			if strings.EqualFold(strings.TrimSpace(out), "stdout") {
				out = "stderr"
			}
			outputs = append(outputs, out)
		}
		if len(outputs) == 0 {
			outputs = append(outputs, "stderr")
		}
		logCfg.OutputPaths = outputs
	}
	return logger.Init(logCfg)
}

func runREPL(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if err := initLogger(cfg, true); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("chainpilot")

	p, err := buildPipeline(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer p.Close()

	reader, err := cli.NewLineReader(os.Stdin, os.Stdout, "chainpilot> ")
	if err != nil {
		return err
	}
	defer reader.Close()

	shell := cli.NewShell(p.agent, p.directory, p.gateway, cli.WithWebSearch(p.web))
	return shell.Run(ctx, reader)
}
