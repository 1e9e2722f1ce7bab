package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ChainPilot/pkg/logger"

	"gopkg.in/yaml.v3"
)

// Config 描述 ChainPilot 客户端、服务模式与工具提供方守护进程共用的配置。
type Config struct {
	Pipeline     PipelineConfig         `json:"pipeline" yaml:"pipeline"`
	ToolProvider ToolProviderConfig     `json:"tool_provider" yaml:"tool_provider"`
	Confirmation ConfirmationConfig     `json:"confirmation" yaml:"confirmation"`
	Classifier   ClassifierConfig       `json:"classifier" yaml:"classifier"`
	Directory    DirectoryConfig        `json:"directory" yaml:"directory"`
	Assets       map[string]AssetConfig `json:"assets" yaml:"assets"`
	Docs         DocsConfig             `json:"docs" yaml:"docs"`
	WebSearch    WebSearchConfig        `json:"web_search" yaml:"web_search"`
	LLM          LLMConfig              `json:"llm" yaml:"llm"`
	Storage      StorageConfig          `json:"storage" yaml:"storage"`
	TaskQueue    TaskQueueConfig        `json:"task_queue" yaml:"task_queue"`
	Server       ServerConfig           `json:"server" yaml:"server"`
	Alerts       AlertsConfig           `json:"alerts" yaml:"alerts"`
	Provider     ProviderConfig         `json:"provider" yaml:"provider"`
	Log          LogConfig              `json:"log" yaml:"log"`
	Runtime      RuntimeConfig          `json:"runtime" yaml:"runtime"`
}

// PipelineConfig 提供命令流水线的默认槽位与单条命令的超时时间。
type PipelineConfig struct {
	DefaultSender    string   `json:"default_sender" yaml:"default_sender"`
	DefaultRecipient string   `json:"default_recipient" yaml:"default_recipient"`
	DefaultAsset     string   `json:"default_asset" yaml:"default_asset"`
	CommandTimeout   Duration `json:"command_timeout" yaml:"command_timeout"`
}

// ToolProviderConfig 描述远端工具提供方的访问方式。
type ToolProviderConfig struct {
	Endpoint    string   `json:"endpoint" yaml:"endpoint"`
	CallTimeout Duration `json:"call_timeout" yaml:"call_timeout"`
}

// ConfirmationConfig 控制交易确认轮询。
type ConfirmationConfig struct {
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
	Timeout      Duration `json:"timeout" yaml:"timeout"`
}

// ClassifierConfig 指定意图匹配规则。RulesFile 为空时使用内置规则。
type ClassifierConfig struct {
	RulesFile   string   `json:"rules_file" yaml:"rules_file"`
	DomainTerms []string `json:"domain_terms" yaml:"domain_terms"`
}

// DirectoryConfig 控制账户目录的刷新行为。
type DirectoryConfig struct {
	IncludeSigningMaterial bool              `json:"include_signing_material" yaml:"include_signing_material"`
	Contracts              map[string]string `json:"contracts" yaml:"contracts"`
	NameSuffixes           []string          `json:"name_suffixes" yaml:"name_suffixes"`
}

// AssetConfig 描述资产的精度，Contract 为空表示原生资产。
type AssetConfig struct {
	Decimals int    `json:"decimals" yaml:"decimals"`
	Contract string `json:"contract" yaml:"contract"`
}

// DocsConfig 配置文档检索后端：static 读取 JSON 片段，sqlite 使用全文索引。
type DocsConfig struct {
	Driver     string   `json:"driver" yaml:"driver"`
	Source     string   `json:"source" yaml:"source"`
	IndexPath  string   `json:"index_path" yaml:"index_path"`
	Corpus     []string `json:"corpus" yaml:"corpus"`
	MaxResults int      `json:"max_results" yaml:"max_results"`
}

// WebSearchConfig 配置 Brave 网页搜索。
type WebSearchConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	APIKey     string   `json:"api_key" yaml:"api_key"`
	APIKeyEnv  string   `json:"api_key_env" yaml:"api_key_env"`
	BaseURL    string   `json:"base_url" yaml:"base_url"`
	MaxResults int      `json:"max_results" yaml:"max_results"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c WebSearchConfig) ResolveAPIKey() string {
	return resolveSecret(c.APIKey, c.APIKeyEnv)
}

// LLMConfig 用于配置闲聊回复所使用的大模型。
type LLMConfig struct {
	Provider  string          `json:"provider" yaml:"provider"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey    string   `json:"api_key" yaml:"api_key"`
	APIKeyEnv string   `json:"api_key_env" yaml:"api_key_env"`
	BaseURL   string   `json:"base_url" yaml:"base_url"`
	Model     string   `json:"model" yaml:"model"`
	Timeout   Duration `json:"timeout" yaml:"timeout"`
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	return resolveSecret(c.APIKey, c.APIKeyEnv)
}

// AnthropicConfig 描述 Anthropic Messages 接口。
type AnthropicConfig struct {
	APIKey    string   `json:"api_key" yaml:"api_key"`
	APIKeyEnv string   `json:"api_key_env" yaml:"api_key_env"`
	BaseURL   string   `json:"base_url" yaml:"base_url"`
	Model     string   `json:"model" yaml:"model"`
	MaxTokens int      `json:"max_tokens" yaml:"max_tokens"`
	Timeout   Duration `json:"timeout" yaml:"timeout"`
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c AnthropicConfig) ResolveAPIKey() string {
	return resolveSecret(c.APIKey, c.APIKeyEnv)
}

// StorageConfig 统一描述命令日志与任务状态的存储。
type StorageConfig struct {
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	TaskStore TaskStoreConfig `json:"task_store" yaml:"task_store"`
}

// JournalConfig 配置命令日志，memory 驱动会落盘为 JSON Lines 文件。
type JournalConfig struct {
	Driver          string   `json:"driver" yaml:"driver"`
	DSN             string   `json:"dsn" yaml:"dsn"`
	DSNEnv          string   `json:"dsn_env" yaml:"dsn_env"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// ResolveDSN 优先使用显式配置，其次读取环境变量。
func (c JournalConfig) ResolveDSN() string {
	return resolveSecret(c.DSN, c.DSNEnv)
}

// TaskStoreConfig 配置服务模式下的任务状态存储。
type TaskStoreConfig struct {
	Driver  string `json:"driver" yaml:"driver"`
	Retries int    `json:"retries" yaml:"retries"`
}

// TaskQueueConfig 配置服务模式下的任务队列。
type TaskQueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Worker   int            `json:"worker" yaml:"worker"`
	Size     int            `json:"size" yaml:"size"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接。
type RedisConfig struct {
	Address   string   `json:"address" yaml:"address"`
	Password  string   `json:"password" yaml:"password"`
	DB        int      `json:"db" yaml:"db"`
	Queue     string   `json:"queue" yaml:"queue"`
	BlockWait Duration `json:"block_wait" yaml:"block_wait"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// ServerConfig 控制服务模式 HTTP 接口的监听地址与访问控制。
type ServerConfig struct {
	Address string     `json:"address" yaml:"address"`
	Auth    AuthConfig `json:"auth" yaml:"auth"`
}

// AuthConfig 配置 API 访问令牌。Mode 为 disabled 时不做认证。
type AuthConfig struct {
	Mode   string           `json:"mode" yaml:"mode"`
	Tokens []APITokenConfig `json:"tokens" yaml:"tokens"`
}

// APITokenConfig 描述一个访问令牌及其权限，令牌值可以从环境变量读取。
type APITokenConfig struct {
	Name        string   `json:"name" yaml:"name"`
	Token       string   `json:"token" yaml:"token"`
	TokenEnv    string   `json:"token_env" yaml:"token_env"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// ResolveToken 优先使用显式配置，其次读取环境变量。
func (c APITokenConfig) ResolveToken() string {
	return resolveSecret(c.Token, c.TokenEnv)
}

// AlertsConfig 配置服务模式下终态失败的告警。
type AlertsConfig struct {
	MinSeverity     string `json:"min_severity" yaml:"min_severity"`
	SlackWebhook    string `json:"slack_webhook" yaml:"slack_webhook"`
	SlackWebhookEnv string `json:"slack_webhook_env" yaml:"slack_webhook_env"`
}

// ResolveSlackWebhook 优先使用显式配置，其次读取环境变量。
func (c AlertsConfig) ResolveSlackWebhook() string {
	return resolveSecret(c.SlackWebhook, c.SlackWebhookEnv)
}

// ProviderConfig 描述工具提供方守护进程连接的节点与签名材料。
type ProviderConfig struct {
	Listen                string   `json:"listen" yaml:"listen"`
	Path                  string   `json:"path" yaml:"path"`
	ChainsFile            string   `json:"chains_file" yaml:"chains_file"`
	Network               string   `json:"network" yaml:"network"`
	RPCURL                string   `json:"rpc_url" yaml:"rpc_url"`
	SigningKeysEnv        string   `json:"signing_keys_env" yaml:"signing_keys_env"`
	ExposeSigningMaterial bool     `json:"expose_signing_material" yaml:"expose_signing_material"`
	Aliases               []string `json:"aliases" yaml:"aliases"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Format  string      `json:"format" yaml:"format"`
	Outputs []string    `json:"outputs" yaml:"outputs"`
	Audit   AuditConfig `json:"audit" yaml:"audit"`
}

// Logger 转换为 pkg/logger 的配置。
func (c LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:       c.Level,
		Format:      c.Format,
		OutputPaths: c.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    c.Audit.Enabled,
			Path:       c.Audit.Path,
			MaxSizeMB:  c.Audit.MaxSizeMB,
			MaxBackups: c.Audit.MaxBackups,
			MaxAgeDays: c.Audit.MaxAgeDays,
			Compress:   true,
		},
	}
}

// AuditConfig 控制命令审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// RuntimeConfig 放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

const (
	// USDCMainnet 是主网 USDC 合约地址。
	USDCMainnet = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	// UniswapV2Router 是主网 Uniswap V2 Router 合约地址。
	UniswapV2Router = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
)

// Default 返回未提供配置文件时使用的配置，相对路径以当前目录为基准。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Load 解析指定路径的配置文件，扩展名为 .yaml/.yml 时按 YAML 解析，否则按 JSON 解析。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Pipeline.DefaultSender == "" {
		c.Pipeline.DefaultSender = "alice"
	}
	if c.Pipeline.DefaultRecipient == "" {
		c.Pipeline.DefaultRecipient = "bob"
	}
	if c.Pipeline.DefaultAsset == "" {
		c.Pipeline.DefaultAsset = "ETH"
	}
	if c.Pipeline.CommandTimeout <= 0 {
		c.Pipeline.CommandTimeout = Duration(2 * time.Minute)
	}

	if c.ToolProvider.Endpoint == "" {
		c.ToolProvider.Endpoint = "http://127.0.0.1:8546/tools"
	}
	if c.ToolProvider.CallTimeout <= 0 {
		c.ToolProvider.CallTimeout = Duration(15 * time.Second)
	}

	if c.Confirmation.PollInterval <= 0 {
		c.Confirmation.PollInterval = Duration(2 * time.Second)
	}
	if c.Confirmation.Timeout <= 0 {
		c.Confirmation.Timeout = Duration(30 * time.Second)
	}

	c.Classifier.RulesFile = resolvePath(baseDir, c.Classifier.RulesFile)

	if c.Directory.Contracts == nil {
		c.Directory.Contracts = map[string]string{"uniswap v2 router": UniswapV2Router}
	}
	if len(c.Directory.NameSuffixes) == 0 {
		c.Directory.NameSuffixes = []string{".eth"}
	}

	assets := make(map[string]AssetConfig, len(c.Assets)+2)
	for symbol, asset := range c.Assets {
		assets[strings.ToUpper(strings.TrimSpace(symbol))] = asset
	}
	c.Assets = assets
	if _, ok := c.Assets["ETH"]; !ok {
		c.Assets["ETH"] = AssetConfig{Decimals: 18}
	}
	if _, ok := c.Assets["USDC"]; !ok {
		c.Assets["USDC"] = AssetConfig{Decimals: 6, Contract: USDCMainnet}
	}

	if c.Docs.Driver == "" {
		c.Docs.Driver = "static"
	}
	if c.Docs.MaxResults <= 0 {
		c.Docs.MaxResults = 3
	}
	c.Docs.Source = resolvePath(baseDir, c.Docs.Source)
	c.Docs.IndexPath = resolvePath(baseDir, c.Docs.IndexPath)
	for i, p := range c.Docs.Corpus {
		c.Docs.Corpus[i] = resolvePath(baseDir, p)
	}

	if c.WebSearch.APIKeyEnv == "" {
		c.WebSearch.APIKeyEnv = "BRAVE_API_KEY"
	}
	if c.WebSearch.MaxResults <= 0 {
		c.WebSearch.MaxResults = 5
	}
	if c.WebSearch.Timeout <= 0 {
		c.WebSearch.Timeout = Duration(10 * time.Second)
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}

	if c.Storage.Journal.Driver == "" {
		c.Storage.Journal.Driver = "memory"
	}
	if c.Storage.Journal.DSNEnv == "" {
		c.Storage.Journal.DSNEnv = "CHAINPILOT_MYSQL_DSN"
	}
	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 4
	}
	if c.TaskQueue.Size <= 0 {
		c.TaskQueue.Size = 1024
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Alerts.MinSeverity == "" {
		c.Alerts.MinSeverity = "warning"
	}
	if c.Alerts.SlackWebhookEnv == "" {
		c.Alerts.SlackWebhookEnv = "CHAINPILOT_SLACK_WEBHOOK"
	}
	if c.Server.Auth.Mode == "" {
		c.Server.Auth.Mode = "disabled"
	}

	if c.Provider.Listen == "" {
		c.Provider.Listen = "127.0.0.1:8546"
	}
	if c.Provider.Path == "" {
		c.Provider.Path = "/tools"
	}
	if c.Provider.Network == "" {
		c.Provider.Network = "local"
	}
	if c.Provider.SigningKeysEnv == "" {
		c.Provider.SigningKeysEnv = "CHAINPILOT_SIGNING_KEYS"
	}
	c.Provider.ChainsFile = resolvePath(baseDir, c.Provider.ChainsFile)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// Validate 检查相互依赖的配置项。
func (c *Config) Validate() error {
	var errs []error
	if c.Confirmation.PollInterval > c.Confirmation.Timeout {
		errs = append(errs, fmt.Errorf("confirmation.poll_interval (%s) 不能大于 confirmation.timeout (%s)",
			c.Confirmation.PollInterval, c.Confirmation.Timeout))
	}
	if strings.EqualFold(c.Pipeline.DefaultSender, c.Pipeline.DefaultRecipient) {
		errs = append(errs, errors.New("pipeline.default_sender 与 pipeline.default_recipient 不能相同"))
	}
	if _, ok := c.Assets[strings.ToUpper(c.Pipeline.DefaultAsset)]; !ok {
		errs = append(errs, fmt.Errorf("pipeline.default_asset %q 未在 assets 中定义", c.Pipeline.DefaultAsset))
	}
	for symbol, asset := range c.Assets {
		if asset.Decimals < 0 || asset.Decimals > 36 {
			errs = append(errs, fmt.Errorf("assets.%s.decimals 超出范围: %d", symbol, asset.Decimals))
		}
	}
	switch c.Docs.Driver {
	case "static", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("未知的 docs.driver: %s", c.Docs.Driver))
	}
	switch c.Server.Auth.Mode {
	case "disabled":
	case "token":
		if len(c.Server.Auth.Tokens) == 0 {
			errs = append(errs, errors.New("server.auth.mode 为 token 时至少需要配置一个令牌"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 server.auth.mode: %s", c.Server.Auth.Mode))
	}
	return errors.Join(errs...)
}

func resolvePath(baseDir, p string) string {
	if strings.TrimSpace(p) == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func resolveSecret(value, env string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
