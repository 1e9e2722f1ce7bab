package agent

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPilot/internal/config"
	"ChainPilot/internal/directory"
	"ChainPilot/internal/dispatch"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/resolver"
	"ChainPilot/internal/storage/mysql"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/tracker"
	"ChainPilot/internal/units"
)

var (
	addrAlice = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	addrBob   = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	txHash    = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
)

// fakeProvider 模拟工具提供方。
type fakeProvider struct {
	mu       sync.Mutex
	requests []toolrpc.Request
	txState  string
	down     bool
}

func (f *fakeProvider) Call(_ context.Context, req toolrpc.Request) (*toolrpc.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.down {
		return nil, toolrpc.Unavailable(req.Tool, errors.New("connection refused"))
	}
	switch req.Tool {
	case toolrpc.ToolGetAccounts:
		return toolrpc.OK([]toolrpc.Account{{Address: addrAlice}, {Address: addrBob}})
	case toolrpc.ToolBalance:
		addr, _ := req.Arguments.Address(toolrpc.ArgAddress)
		return toolrpc.OK(toolrpc.BalancePayload{Address: addr, Balance: "10000000000000000000000", Decimals: 18, Symbol: "ETH"})
	case toolrpc.ToolTransfer:
		return toolrpc.OK(toolrpc.TransferPayload{TransactionID: txHash})
	case toolrpc.ToolTransactionStatus:
		block := uint64(0)
		if f.txState != toolrpc.TxStatePending {
			block = 7
		}
		return toolrpc.OK(toolrpc.TransactionStatusPayload{State: f.txState, BlockNumber: block})
	case toolrpc.ToolIsDeployed:
		addr, _ := req.Arguments.Address(toolrpc.ArgAddress)
		return toolrpc.OK(toolrpc.DeploymentPayload{Address: addr, Deployed: true})
	default:
		return toolrpc.Fail(toolrpc.ErrCodeUnknownTool, "unknown tool %s", req.Tool), nil
	}
}

func (f *fakeProvider) last(tool toolrpc.ToolName) (toolrpc.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Tool == tool {
			return f.requests[i], true
		}
	}
	return toolrpc.Request{}, false
}

type harness struct {
	agent    *Agent
	provider *fakeProvider
	journal  *mysql.MemoryJournal
	registry *prometheus.Registry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	provider := &fakeProvider{txState: toolrpc.TxStateConfirmed}
	gateway := dispatch.NewGateway(provider)

	dir := directory.New(gateway, directory.WithDefaultAliases("alice", "bob"))
	require.NoError(t, dir.Refresh(context.Background()))

	assets, err := dispatch.NewAssetTable(config.Default().Assets)
	require.NoError(t, err)
	res := resolver.New(dir, gateway, []string{".eth"})

	classifier, err := intent.NewClassifier(intent.Defaults{Sender: "alice", Recipient: "bob", Asset: "ETH"})
	require.NoError(t, err)

	journal, err := mysql.NewMemoryJournal(t.TempDir())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	recorder := metrics.NewWithRegistry(reg, reg)
	tr := tracker.New(gateway,
		tracker.WithPollInterval(5*time.Millisecond),
		tracker.WithTimeout(60*time.Millisecond),
		tracker.WithMetrics(recorder))
	base := []Option{WithJournal(journal), WithMetrics(recorder)}
	ag := New(classifier, dispatch.New(gateway, res, assets), tr, append(base, opts...)...)
	return &harness{agent: ag, provider: provider, journal: journal, registry: reg}
}

func (h *harness) run(t *testing.T, input string) (*CommandResult, error) {
	t.Helper()
	result, err := h.agent.Execute(context.Background(), CommandRequest{Input: input})
	require.NotNil(t, result)
	assert.NotEmpty(t, result.ID)
	assert.NotContains(t, result.Summary, "\n")
	return result, err
}

func weiOf(ether int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(ether), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestTransferFromAliceToBob(t *testing.T) {
	h := newHarness(t)
	result, err := h.run(t, "send 1 ETH from Alice to Bob")
	require.NoError(t, err)

	req, ok := h.provider.last(toolrpc.ToolTransfer)
	require.True(t, ok)
	from, _ := req.Arguments.Address(toolrpc.ArgFrom)
	to, _ := req.Arguments.Address(toolrpc.ArgTo)
	amount, _ := req.Arguments.Amount(toolrpc.ArgAmount)
	assert.Equal(t, addrAlice, from)
	assert.Equal(t, addrBob, to)
	assert.Equal(t, 0, weiOf(1).Cmp(amount))

	assert.Equal(t, tracker.StateConfirmed, result.TxState)
	assert.Equal(t, txHash, result.TxID)
	assert.Equal(t, uint64(7), result.BlockNumber)
	assert.Contains(t, result.Summary, txHash)
	assert.Contains(t, result.Summary, "confirmed")
	assert.True(t, result.Submitted())
}

func TestTransferDefaultsSender(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "send 0.5 ETH to Bob")
	require.NoError(t, err)

	req, ok := h.provider.last(toolrpc.ToolTransfer)
	require.True(t, ok)
	from, _ := req.Arguments.Address(toolrpc.ArgFrom)
	amount, _ := req.Arguments.Amount(toolrpc.ArgAmount)
	assert.Equal(t, addrAlice, from)
	half := new(big.Int).Div(weiOf(1), big.NewInt(2))
	assert.Equal(t, 0, half.Cmp(amount))
}

func TestBalanceRendersDisplayUnits(t *testing.T) {
	h := newHarness(t)
	result, err := h.run(t, "How much ETH does Alice have?")
	require.NoError(t, err)

	req, ok := h.provider.last(toolrpc.ToolBalance)
	require.True(t, ok)
	addr, _ := req.Arguments.Address(toolrpc.ArgAddress)
	assert.Equal(t, addrAlice, addr)
	assert.Contains(t, result.Summary, "10000 ETH")
	assert.Equal(t, toolrpc.ToolBalance, result.Tool)
}

func TestDeploymentCheck(t *testing.T) {
	h := newHarness(t)
	result, err := h.run(t, "Is Uniswap V2 Router (0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D) deployed?")
	require.NoError(t, err)

	req, ok := h.provider.last(toolrpc.ToolIsDeployed)
	require.True(t, ok)
	addr, _ := req.Arguments.Address(toolrpc.ArgAddress)
	assert.Equal(t, common.HexToAddress(config.UniswapV2Router), addr)
	assert.True(t, strings.HasPrefix(result.Summary, "Yes"))
}

func TestGeneralChatNeverFails(t *testing.T) {
	h := newHarness(t)
	result, err := h.run(t, "GM")
	require.NoError(t, err)
	assert.Equal(t, intent.CategoryGeneralChat, result.Category)
	assert.NotEmpty(t, result.Summary)
	assert.Empty(t, result.ErrorCode)

	_, ok := h.provider.last(toolrpc.ToolTransfer)
	assert.False(t, ok)
}

func TestConfirmationTimeoutIsAnOutcome(t *testing.T) {
	h := newHarness(t)
	h.provider.txState = toolrpc.TxStatePending

	result, err := h.run(t, "send 1 ETH from Alice to Bob")
	require.NoError(t, err)
	assert.Equal(t, tracker.StateTimedOut, result.TxState)
	assert.Contains(t, result.Summary, txHash)
	assert.Contains(t, result.Summary, "not yet confirmed")

	count, gerr := testutil.GatherAndCount(h.registry, "chainpilot_transactions_total")
	require.NoError(t, gerr)
	assert.Equal(t, 1, count)
}

func TestFailedTransaction(t *testing.T) {
	h := newHarness(t)
	h.provider.txState = toolrpc.TxStateFailed

	result, err := h.run(t, "send 1 ETH from Alice to Bob")
	require.NoError(t, err)
	assert.Equal(t, tracker.StateFailed, result.TxState)
	assert.Contains(t, result.Summary, "failed")
}

func TestClarificationsAreErrorsWithSummaries(t *testing.T) {
	h := newHarness(t)

	result, err := h.run(t, "send 1 ETH from Alice to Zed")
	require.Error(t, err)
	assert.Equal(t, resolver.CodeUnresolvedAddress, result.ErrorCode)
	assert.Contains(t, result.Summary, `"Zed"`)

	result, err = h.run(t, "send 0.0000000000000000001 ETH to Bob")
	require.Error(t, err)
	assert.Equal(t, units.CodePrecisionLoss, result.ErrorCode)
	assert.Contains(t, result.Summary, "decimal places")

	_, ok := h.provider.last(toolrpc.ToolTransfer)
	assert.False(t, ok)
}

func TestProviderDownIsSurfacedVerbatim(t *testing.T) {
	h := newHarness(t)
	h.provider.down = true

	result, err := h.run(t, "How much ETH does Alice have?")
	require.Error(t, err)
	assert.Equal(t, toolrpc.CodeToolUnavailable, result.ErrorCode)
	assert.Contains(t, result.Summary, "connection refused")
}

func TestDocumentationQuery(t *testing.T) {
	docs := knowledge.NewStaticProvider([]knowledge.Snippet{
		{Title: "Slippage", Content: "Slippage is the price movement between quote and execution.", Keywords: []string{"slippage"}},
	}, 3)
	h := newHarness(t, WithDocs(docs, 2))

	result, err := h.run(t, "What is slippage?")
	require.NoError(t, err)
	assert.Equal(t, intent.CategoryDocumentationQuery, result.Category)
	require.Len(t, result.Snippets, 1)
	assert.True(t, strings.HasPrefix(result.Summary, "Slippage:"))
}

func TestDocumentationUnavailable(t *testing.T) {
	h := newHarness(t)
	result, err := h.run(t, "What is slippage?")
	require.Error(t, err)
	assert.Equal(t, knowledge.CodeDocsUnavailable, result.ErrorCode)

	// 其他类别不受影响。
	_, err = h.run(t, "How much ETH does Alice have?")
	assert.NoError(t, err)
}

func TestJournalAndHistory(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "GM")
	require.NoError(t, err)
	_, _ = h.run(t, "send 1 ETH from Alice to Zed")

	entries, err := h.agent.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(resolver.CodeUnresolvedAddress), entries[0].ErrorCode)
	assert.Equal(t, "GM", entries[1].Input)

	count, err := testutil.GatherAndCount(h.registry, "chainpilot_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

type stubLLM struct {
	reply string
	err   error
	seen  llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.seen = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Reply: s.reply}, nil
}

func TestResponderUsesModelAndFallsBack(t *testing.T) {
	model := &stubLLM{reply: "Hello\nthere"}
	r := NewResponder(model, time.Second)
	got := r.Reply(context.Background(), "tell me a joke", []HistoryItem{{Input: "GM", Summary: "GM!"}})
	assert.Equal(t, "Hello there", got)
	require.Len(t, model.seen.History, 1)

	failing := NewResponder(&stubLLM{err: llm.Unavailable(errors.New("quota"))}, time.Second)
	assert.Equal(t, "You're welcome.", failing.Reply(context.Background(), "thanks!", nil))

	offline := NewResponder(nil, 0)
	assert.Contains(t, offline.Reply(context.Background(), "GM", nil), "GM!")
	assert.Contains(t, offline.Reply(context.Background(), "朝安", nil), "not sure")
}

func TestDescribe(t *testing.T) {
	assert.Empty(t, Describe(nil))
	assert.Equal(t, "Error: plain failure", Describe(errors.New("plain\nfailure")))
	assert.Equal(t, "who should receive it?", Describe(intent.Incomplete("who should receive it?", "to")))

	rejected := toolrpc.Rejected(toolrpc.ToolTransfer, "NODE_ERROR", "insufficient funds")
	assert.Equal(t, "The tool provider rejected transfer: insufficient funds (NODE_ERROR)", Describe(rejected))

	unsupported := xerrors.New(dispatch.CodeUnsupportedOperation, "")
	assert.Contains(t, Describe(unsupported), "bug")
}
