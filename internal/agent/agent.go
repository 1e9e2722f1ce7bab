package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ChainPilot/internal/dispatch"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/storage/mysql"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/tracker"
	"ChainPilot/pkg/logger"
)

// Classifier 把原始文本映射为意图。
type Classifier interface {
	Classify(text string) (intent.Intent, error)
}

// Dispatcher 执行链上操作意图。
type Dispatcher interface {
	Dispatch(ctx context.Context, in intent.Intent) (*dispatch.Result, error)
}

// Tracker 等待交易进入终态。
type Tracker interface {
	Track(ctx context.Context, txID string) tracker.Handle
}

// CommandRequest 描述一次待执行的命令。
type CommandRequest struct {
	ID    string `json:"id,omitempty"`
	Input string `json:"input"`
}

// CommandResult 汇总一次命令的终态。Summary 总是恰好一行。
type CommandResult struct {
	ID          string              `json:"id"`
	Input       string              `json:"input"`
	Category    intent.Category     `json:"category,omitempty"`
	Operation   intent.Operation    `json:"operation,omitempty"`
	Tool        toolrpc.ToolName    `json:"tool,omitempty"`
	Summary     string              `json:"summary"`
	TxID        string              `json:"tx_id,omitempty"`
	TxState     tracker.State       `json:"tx_state,omitempty"`
	BlockNumber uint64              `json:"block_number,omitempty"`
	ErrorCode   xerrors.Code        `json:"error_code,omitempty"`
	Snippets    []knowledge.Snippet `json:"snippets,omitempty"`
	Duration    time.Duration       `json:"duration"`
	CreatedAt   int64               `json:"created_at"`
}

// Submitted 判断命令是否已经把交易提交上链。
func (r *CommandResult) Submitted() bool {
	return r != nil && r.TxID != ""
}

// Agent 串联分类、分发、跟踪与文档检索，是系统的业务核心。
type Agent struct {
	classifier     Classifier
	dispatcher     Dispatcher
	tracker        Tracker
	docs           knowledge.Provider
	docsLimit      int
	chat           *Responder
	journal        mysql.Journal
	metrics        *metrics.Recorder
	commandTimeout time.Duration
	historyDepth   int
	log            *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

const (
	defaultDocsLimit    = 3
	defaultHistoryDepth = 5
)

// WithDocs 配置文档检索后端。
func WithDocs(provider knowledge.Provider, limit int) Option {
	return func(a *Agent) {
		a.docs = provider
		if limit > 0 {
			a.docsLimit = limit
		}
	}
}

// WithResponder 配置闲聊回复。
func WithResponder(r *Responder) Option {
	return func(a *Agent) { a.chat = r }
}

// WithJournal 配置命令日志。
func WithJournal(j mysql.Journal) Option {
	return func(a *Agent) { a.journal = j }
}

// WithMetrics 配置指标记录器。
func WithMetrics(r *metrics.Recorder) Option {
	return func(a *Agent) { a.metrics = r }
}

// WithCommandTimeout 限制单条命令的总耗时，包括确认等待。
func WithCommandTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.commandTimeout = d
		}
	}
}

// New 创建一个 Agent。
func New(classifier Classifier, dispatcher Dispatcher, tr Tracker, opts ...Option) *Agent {
	ag := &Agent{
		classifier:   classifier,
		dispatcher:   dispatcher,
		tracker:      tr,
		docsLimit:    defaultDocsLimit,
		historyDepth: defaultHistoryDepth,
		log:          logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.chat == nil {
		ag.chat = NewResponder(nil, 0)
	}
	return ag
}

// Execute 运行一条命令。返回的结果永远非空；err 非空时 Summary 即为面向用户的说明。
func (a *Agent) Execute(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	started := time.Now()
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	result := &CommandResult{ID: id, Input: req.Input, CreatedAt: started.Unix()}

	if a.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.commandTimeout)
		defer cancel()
	}

	err := a.run(ctx, result)
	if err != nil {
		result.ErrorCode = xerrors.CodeOf(err)
		result.Summary = Describe(err)
	}
	result.Duration = time.Since(started)

	a.observe(result, err)
	a.record(result)
	return result, err
}

func (a *Agent) run(ctx context.Context, result *CommandResult) error {
	if a.classifier == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "classifier not configured")
	}
	in, err := a.classifier.Classify(result.Input)
	result.Category = in.Category
	result.Operation = in.Operation
	if err != nil {
		return err
	}
	a.log.Debug("命令已分类", "command_id", result.ID, "intent", in.String(), "rule", in.Rule)

	switch in.Category {
	case intent.CategoryBlockchainOperation:
		return a.runOperation(ctx, in, result)
	case intent.CategoryDocumentationQuery:
		return a.runDocs(ctx, in.RawText, result)
	default:
		result.Summary = a.chat.Reply(ctx, in.RawText, a.history(ctx))
		return nil
	}
}

func (a *Agent) runOperation(ctx context.Context, in intent.Intent, result *CommandResult) error {
	if a.dispatcher == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "dispatcher not configured")
	}
	res, err := a.dispatcher.Dispatch(ctx, in)
	if err != nil {
		return err
	}
	result.Tool = res.Request.Tool

	switch res.Request.Tool {
	case toolrpc.ToolTransfer:
		return a.finishTransfer(ctx, in, res, result)
	case toolrpc.ToolBalance, toolrpc.ToolTokenBalance:
		var payload toolrpc.BalancePayload
		if err := res.Response.Decode(&payload); err != nil {
			return toolrpc.Rejected(res.Request.Tool, "MALFORMED_PAYLOAD", err.Error())
		}
		summary, err := balanceSummary(in, res.Asset, payload)
		if err != nil {
			return toolrpc.Rejected(res.Request.Tool, "MALFORMED_PAYLOAD", err.Error())
		}
		result.Summary = summary
	case toolrpc.ToolIsDeployed:
		var payload toolrpc.DeploymentPayload
		if err := res.Response.Decode(&payload); err != nil {
			return toolrpc.Rejected(res.Request.Tool, "MALFORMED_PAYLOAD", err.Error())
		}
		result.Summary = deploymentSummary(in, payload)
	default:
		return xerrors.New(dispatch.CodeUnsupportedOperation, "no summary for tool "+string(res.Request.Tool))
	}
	return nil
}

func (a *Agent) finishTransfer(ctx context.Context, in intent.Intent, res *dispatch.Result, result *CommandResult) error {
	var payload toolrpc.TransferPayload
	if err := res.Response.Decode(&payload); err != nil || payload.TransactionID == "" {
		return toolrpc.Rejected(res.Request.Tool, "MALFORMED_PAYLOAD", "transfer returned no transaction identifier")
	}
	result.TxID = payload.TransactionID
	a.log.Info("交易已提交", "command_id", result.ID, "tx", payload.TransactionID)

	if a.tracker == nil {
		result.TxState = tracker.StatePending
		result.Summary = transferSummary(in, res, tracker.Handle{TransactionID: payload.TransactionID, State: tracker.StatePending})
		return nil
	}
	handle := a.tracker.Track(ctx, payload.TransactionID)
	result.TxState = handle.State
	result.BlockNumber = handle.BlockNumber
	result.Summary = transferSummary(in, res, handle)
	return nil
}

func (a *Agent) runDocs(ctx context.Context, query string, result *CommandResult) error {
	snippets, err := a.SearchDocs(ctx, query)
	if err != nil {
		return err
	}
	result.Snippets = snippets
	result.Summary = docsSummary(query, snippets)
	return nil
}

// SearchDocs 直接检索文档，供 REPL 的 docs 命令使用。
func (a *Agent) SearchDocs(ctx context.Context, query string) ([]knowledge.Snippet, error) {
	if a.docs == nil {
		return nil, knowledge.Unavailable(stdErrors.New("no documentation index configured"))
	}
	snippets, err := a.docs.Search(ctx, query, a.docsLimit)
	if err != nil {
		if xerrors.CodeOf(err) == knowledge.CodeDocsUnavailable {
			return nil, err
		}
		return nil, knowledge.Unavailable(err)
	}
	return snippets, nil
}

// History 返回最近的命令记录。
func (a *Agent) History(ctx context.Context, limit int) ([]mysql.Entry, error) {
	if a.journal == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置命令日志")
	}
	entries, err := a.journal.Latest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询命令日志失败")
	}
	return entries, nil
}

func (a *Agent) history(ctx context.Context) []HistoryItem {
	if a.journal == nil {
		return nil
	}
	entries, err := a.journal.Latest(ctx, a.historyDepth)
	if err != nil {
		a.log.Warn("加载历史命令失败", "error", err)
		return nil
	}
	items := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, HistoryItem{Input: e.Input, Summary: e.Summary})
	}
	return items
}

func (a *Agent) observe(result *CommandResult, err error) {
	outcome := "ok"
	switch {
	case err != nil && xerrors.IsUserFacing(err) && !isTransport(err):
		outcome = "clarification"
	case err != nil:
		outcome = "error"
	case result.TxState == tracker.StateTimedOut:
		outcome = "timed_out"
	case result.TxState == tracker.StateFailed:
		outcome = "tx_failed"
	}
	category := string(result.Category)
	if category == "" {
		category = "unclassified"
	}
	a.metrics.ObserveCommand(category, outcome)

	attrs := []any{
		"command_id", result.ID,
		"category", category,
		"outcome", outcome,
		"duration", result.Duration,
	}
	if result.Tool != "" {
		attrs = append(attrs, "tool", string(result.Tool))
	}
	if result.TxID != "" {
		attrs = append(attrs, "tx", result.TxID, "tx_state", string(result.TxState))
	}
	if err != nil {
		attrs = append(attrs, "error_code", string(result.ErrorCode))
		if xerrors.CodeOf(err) == dispatch.CodeUnsupportedOperation {
			a.log.Error("命令触发程序缺陷", append(attrs, "error", err)...)
		}
	}
	logger.Audit().Info("command", attrs...)
}

func (a *Agent) record(result *CommandResult) {
	if a.journal == nil {
		return
	}
	entry := mysql.Entry{
		ID:         result.ID,
		Input:      result.Input,
		Category:   string(result.Category),
		Operation:  string(result.Operation),
		Tool:       string(result.Tool),
		Summary:    result.Summary,
		TxID:       result.TxID,
		TxState:    string(result.TxState),
		ErrorCode:  string(result.ErrorCode),
		DurationMS: result.Duration.Milliseconds(),
		CreatedAt:  result.CreatedAt,
	}
	// 命令本身可能已超时，日志写入使用独立的短超时。
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.journal.Append(ctx, entry); err != nil {
		a.log.Warn("写入命令日志失败", "command_id", result.ID, "error", err)
	}
}

func isTransport(err error) bool {
	return xerrors.CodeOf(err) == toolrpc.CodeToolUnavailable
}
