package cli

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/directory"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/storage/mysql"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/websearch"
	"ChainPilot/pkg/logger"
)

// Pipeline 是 Shell 依赖的命令执行能力，通常由 *agent.Agent 实现。
type Pipeline interface {
	Execute(ctx context.Context, req agent.CommandRequest) (*agent.CommandResult, error)
	SearchDocs(ctx context.Context, query string) ([]knowledge.Snippet, error)
	History(ctx context.Context, limit int) ([]mysql.Entry, error)
}

// Directory 提供账户列表与刷新。
type Directory interface {
	Accounts() []directory.Account
	Refresh(ctx context.Context) error
}

// Chain 提供只读链上查询，通常由 *dispatch.Gateway 实现。
type Chain interface {
	ChainInfo(ctx context.Context) (toolrpc.ChainInfoPayload, error)
	TransactionStatus(ctx context.Context, txID string) (toolrpc.TransactionStatusPayload, error)
}

// WebSearcher 执行网页搜索。
type WebSearcher interface {
	SearchWeb(ctx context.Context, query string) ([]websearch.Result, error)
}

// Option 定义 Shell 的可选配置。
type Option func(*Shell)

// WithWebSearch 启用 web 命令。
func WithWebSearch(w WebSearcher) Option {
	return func(s *Shell) { s.web = w }
}

// WithQueryTimeout 限制内置查询命令的耗时。
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Shell) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// Shell 是交互式命令行会话。
type Shell struct {
	pipeline     Pipeline
	directory    Directory
	chain        Chain
	web          WebSearcher
	queryTimeout time.Duration
	log          *slog.Logger
}

// NewShell 创建会话。
func NewShell(p Pipeline, dir Directory, chain Chain, opts ...Option) *Shell {
	s := &Shell{
		pipeline:     p,
		directory:    dir,
		chain:        chain,
		web:          websearch.Disabled{},
		queryTimeout: 30 * time.Second,
		log:          logger.Named("cli"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

const helpText = `Commands:
  help, h            show this help
  quit, exit, q      leave the shell
  accounts           list known accounts
  refresh            reload accounts from the tool provider
  status             show network and head block
  tx <hash>          show the status of a transaction
  docs <query>       search the documentation
  web <query>        search the web
  history            show recent commands
Anything else is run as a command, for example:
  send 1 ETH from Alice to Bob
  How much USDC does Alice have?
  Is Uniswap V2 Router deployed?
  What is slippage?`

// Run 读取并处理每一行，直到输入结束、用户退出或 ctx 取消。
func (s *Shell) Run(ctx context.Context, in LineReader) error {
	out := in.Output()
	fmt.Fprintln(out, `ChainPilot ready. Type "help" for commands, "quit" to exit.`)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := in.ReadLine()
		if err != nil {
			if stdErrors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}
		if quit := s.Handle(ctx, line, out); quit {
			return nil
		}
	}
}

// Handle 处理一行输入，返回 true 表示用户要求退出。
func (s *Shell) Handle(ctx context.Context, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "quit", "exit", "q":
		if arg == "" {
			fmt.Fprintln(out, "Bye.")
			return true
		}
	case "help", "h":
		if arg == "" {
			fmt.Fprintln(out, helpText)
			return false
		}
	case "accounts":
		if arg == "" {
			s.printAccounts(out)
			return false
		}
	case "refresh":
		if arg == "" {
			s.refresh(ctx, out)
			return false
		}
	case "status":
		if arg == "" {
			s.status(ctx, out)
			return false
		}
	case "history":
		if arg == "" {
			s.history(ctx, out)
			return false
		}
	case "tx":
		if arg != "" && !strings.Contains(arg, " ") {
			s.transaction(ctx, arg, out)
			return false
		}
	case "docs":
		if arg != "" {
			s.docs(ctx, arg, out)
			return false
		}
	case "web":
		if arg != "" {
			s.searchWeb(ctx, arg, out)
			return false
		}
	}
	s.execute(ctx, line, out)
	return false
}

func (s *Shell) execute(ctx context.Context, line string, out io.Writer) {
	result, err := s.pipeline.Execute(ctx, agent.CommandRequest{Input: line})
	if err != nil {
		s.log.Debug("命令失败", "input", line, "code", result.ErrorCode, "error", err)
	}
	fmt.Fprintln(out, result.Summary)
}

func (s *Shell) printAccounts(out io.Writer) {
	accounts := s.directory.Accounts()
	if len(accounts) == 0 {
		fmt.Fprintln(out, `No accounts loaded. Try "refresh".`)
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALIAS\tADDRESS\tSIGNING KEY")
	for _, a := range accounts {
		alias := a.Alias
		if alias == "" {
			alias = "-"
		}
		key := "no"
		if a.HasSigningKey {
			key = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", alias, a.Address.Hex(), key)
	}
	_ = tw.Flush()
}

func (s *Shell) refresh(ctx context.Context, out io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := s.directory.Refresh(ctx); err != nil {
		fmt.Fprintln(out, agent.Describe(err))
		return
	}
	fmt.Fprintf(out, "Loaded %d accounts.\n", len(s.directory.Accounts()))
}

func (s *Shell) status(ctx context.Context, out io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	info, err := s.chain.ChainInfo(ctx)
	if err != nil {
		fmt.Fprintln(out, agent.Describe(err))
		return
	}
	fmt.Fprintf(out, "Network %s (chain id %s), head block %s.\n", info.Network, info.ChainID, info.BlockNumber)
}

func (s *Shell) transaction(ctx context.Context, txID string, out io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	st, err := s.chain.TransactionStatus(ctx, txID)
	if err != nil {
		fmt.Fprintln(out, agent.Describe(err))
		return
	}
	switch st.State {
	case toolrpc.TxStateConfirmed:
		fmt.Fprintf(out, "Transaction %s confirmed in block %d.\n", txID, st.BlockNumber)
	case toolrpc.TxStateFailed:
		fmt.Fprintf(out, "Transaction %s failed (reverted in block %d).\n", txID, st.BlockNumber)
	default:
		fmt.Fprintf(out, "Transaction %s is still pending.\n", txID)
	}
}

func (s *Shell) docs(ctx context.Context, query string, out io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	snippets, err := s.pipeline.SearchDocs(ctx, query)
	if err != nil {
		fmt.Fprintln(out, agent.Describe(err))
		return
	}
	if len(snippets) == 0 {
		fmt.Fprintf(out, "No documentation matched %q.\n", query)
		return
	}
	for i, sn := range snippets {
		fmt.Fprintf(out, "%d. %s (score %.2f)\n   %s\n", i+1, sn.Title, sn.Score, sn.Content)
	}
}

func (s *Shell) searchWeb(ctx context.Context, query string, out io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	results, err := s.web.SearchWeb(ctx, query)
	if err != nil {
		if stdErrors.Is(err, websearch.ErrDisabled) {
			fmt.Fprintln(out, "Web search is not configured; set BRAVE_API_KEY and enable web_search.")
			return
		}
		fmt.Fprintln(out, agent.Describe(err))
		return
	}
	if len(results) == 0 {
		fmt.Fprintf(out, "No web results for %q.\n", query)
		return
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(out, "   %s\n", r.Description)
		}
	}
}

func (s *Shell) history(ctx context.Context, out io.Writer) {
	entries, err := s.pipeline.History(ctx, 10)
	if err != nil {
		fmt.Fprintln(out, agent.Describe(err))
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No commands yet.")
		return
	}
	for _, e := range entries {
		ts := time.Unix(e.CreatedAt, 0).Format("15:04:05")
		fmt.Fprintf(out, "%s  %s\n          %s\n", ts, e.Input, e.Summary)
	}
}
