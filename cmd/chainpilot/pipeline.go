package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/cli"
	"ChainPilot/internal/config"
	"ChainPilot/internal/directory"
	"ChainPilot/internal/dispatch"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/llm/anthropic"
	"ChainPilot/internal/llm/openai"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/resolver"
	"ChainPilot/internal/storage/mysql"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/tracker"
	"ChainPilot/internal/websearch"
)

// pipeline 持有一次进程生命周期内装配好的全部组件。
type pipeline struct {
	client    *toolrpc.Client
	gateway   *dispatch.Gateway
	directory *directory.Directory
	agent     *agent.Agent
	web       cli.WebSearcher
	metrics   *metrics.Recorder
	closers   []func() error
}

// buildPipeline 连接工具提供方并按依赖顺序装配流水线。提供方不可达时直接返回错误。
func buildPipeline(ctx context.Context, cfg *config.Config, lg *slog.Logger) (*pipeline, error) {
	p := &pipeline{metrics: metrics.New()}
	if err := p.assemble(ctx, cfg, lg); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// assemble 依次创建各组件，失败时已创建的资源留在 closers 中由调用方释放。
func (p *pipeline) assemble(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	client, err := toolrpc.Dial(ctx, cfg.ToolProvider.Endpoint,
		toolrpc.WithCallTimeout(cfg.ToolProvider.CallTimeout.Std()))
	if err != nil {
		return err
	}
	p.client = client
	p.closers = append(p.closers, func() error { client.Close(); return nil })

	if err := probeProvider(ctx, client, lg); err != nil {
		return err
	}

	p.gateway = dispatch.NewGateway(client, dispatch.WithMetrics(p.metrics))
	p.directory = directory.New(p.gateway,
		directory.WithDefaultAliases(cfg.Pipeline.DefaultSender, cfg.Pipeline.DefaultRecipient),
		directory.WithSigningMaterial(cfg.Directory.IncludeSigningMaterial),
		directory.WithContracts(cfg.Directory.Contracts),
		directory.WithMetrics(p.metrics),
	)
	if err := p.directory.Refresh(ctx); err != nil {
		lg.Warn("初始化账户目录失败，可稍后执行 refresh", "error", err)
	}

	assets, err := dispatch.NewAssetTable(cfg.Assets)
	if err != nil {
		return err
	}
	res := resolver.New(p.directory, p.gateway, cfg.Directory.NameSuffixes)
	dispatcher := dispatch.New(p.gateway, res, assets)
	tr := tracker.New(p.gateway,
		tracker.WithPollInterval(cfg.Confirmation.PollInterval.Std()),
		tracker.WithTimeout(cfg.Confirmation.Timeout.Std()),
		tracker.WithMetrics(p.metrics),
	)

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	docs, err := p.openDocs(ctx, cfg, lg)
	if err != nil {
		return err
	}

	chatClient, err := newLLMClient(cfg.LLM)
	if err != nil {
		return err
	}

	journal, err := mysql.OpenJournal(ctx, cfg.Storage.Journal, cfg.Runtime.DataDir)
	if err != nil {
		return err
	}
	p.closers = append(p.closers, journal.Close)

	p.web = newWebSearch(cfg.WebSearch, lg)

	p.agent = agent.New(classifier, dispatcher, tr,
		agent.WithDocs(docs, cfg.Docs.MaxResults),
		agent.WithResponder(agent.NewResponder(chatClient, llmTimeout(cfg.LLM))),
		agent.WithJournal(journal),
		agent.WithMetrics(p.metrics),
		agent.WithCommandTimeout(cfg.Pipeline.CommandTimeout.Std()),
	)
	return nil
}

// Close 按装配的逆序释放资源。
func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// probeProvider 通过 tools_list 确认提供方可达，缺失的工具只记录告警。
func probeProvider(ctx context.Context, client *toolrpc.Client, lg *slog.Logger) error {
	served, err := client.Tools(ctx)
	if err != nil {
		return fmt.Errorf("无法连接工具提供方 %s: %w", client.Endpoint(), err)
	}
	have := make(map[toolrpc.ToolName]struct{}, len(served))
	for _, name := range served {
		have[name] = struct{}{}
	}
	for _, name := range toolrpc.AllTools {
		if _, ok := have[name]; !ok {
			lg.Warn("工具提供方未提供该工具", "tool", name)
		}
	}
	lg.Debug("工具提供方已连接", "endpoint", client.Endpoint(), "tools", len(served))
	return nil
}

func newClassifier(cfg *config.Config) (*intent.Classifier, error) {
	opts := []intent.Option{intent.WithDomainTerms(cfg.Classifier.DomainTerms)}
	if cfg.Classifier.RulesFile != "" {
		rules, err := intent.LoadRuleSet(cfg.Classifier.RulesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, intent.WithRuleSet(rules))
	}
	return intent.NewClassifier(intent.Defaults{
		Sender:    cfg.Pipeline.DefaultSender,
		Recipient: cfg.Pipeline.DefaultRecipient,
		Asset:     cfg.Pipeline.DefaultAsset,
	}, opts...)
}

// openDocs 根据 docs.driver 选择文档检索后端，none 返回 nil。
func (p *pipeline) openDocs(ctx context.Context, cfg *config.Config, lg *slog.Logger) (knowledge.Provider, error) {
	switch cfg.Docs.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		index, err := openDocsIndex(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, index.Close)
		count, err := index.Count(ctx)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			if count, err = seedDocsIndex(ctx, index, cfg.Docs.Corpus); err != nil {
				return nil, err
			}
		}
		lg.Debug("文档索引已打开", "path", docsIndexPath(cfg), "snippets", count)
		return index, nil
	default:
		if cfg.Docs.Source != "" {
			return knowledge.LoadStaticProvider(cfg.Docs.Source, cfg.Docs.MaxResults)
		}
		return knowledge.NewBuiltinProvider(cfg.Docs.MaxResults)
	}
}

func docsIndexPath(cfg *config.Config) string {
	if cfg.Docs.IndexPath != "" {
		return cfg.Docs.IndexPath
	}
	return filepath.Join(cfg.Runtime.DataDir, "docs.db")
}

func openDocsIndex(ctx context.Context, cfg *config.Config) (*knowledge.SQLiteIndex, error) {
	return knowledge.OpenSQLiteIndex(ctx, docsIndexPath(cfg), cfg.Docs.MaxResults)
}

// seedDocsIndex 写入内置片段与配置的语料文件，返回索引中的片段总数。
func seedDocsIndex(ctx context.Context, index *knowledge.SQLiteIndex, corpus []string) (int, error) {
	builtin, err := knowledge.BuiltinSnippets()
	if err != nil {
		return 0, err
	}
	if err := index.Ingest(ctx, builtin); err != nil {
		return 0, err
	}
	if len(corpus) > 0 {
		if _, err := index.IngestFiles(ctx, corpus...); err != nil {
			return 0, err
		}
	}
	return index.Count(ctx)
}

// newLLMClient 返回闲聊使用的大模型客户端，provider 为 none 时返回 nil。
func newLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.ResolveAPIKey(),
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout.Std(),
		})
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.Anthropic.ResolveAPIKey(),
			BaseURL:   cfg.Anthropic.BaseURL,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			Timeout:   cfg.Anthropic.Timeout.Std(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}

func llmTimeout(cfg config.LLMConfig) time.Duration {
	switch cfg.Provider {
	case "openai":
		return cfg.OpenAI.Timeout.Std()
	case "anthropic":
		return cfg.Anthropic.Timeout.Std()
	default:
		return 0
	}
}

// newWebSearch 在未启用或缺少密钥时退化为 websearch.Disabled。
func newWebSearch(cfg config.WebSearchConfig, lg *slog.Logger) cli.WebSearcher {
	if !cfg.Enabled {
		return websearch.Disabled{}
	}
	client, err := websearch.NewClient(websearch.Config{
		APIKey:     cfg.ResolveAPIKey(),
		BaseURL:    cfg.BaseURL,
		MaxResults: cfg.MaxResults,
		Timeout:    cfg.Timeout.Std(),
	})
	if err != nil {
		lg.Warn("网页搜索不可用", "error", err)
		return websearch.Disabled{}
	}
	return client
}
