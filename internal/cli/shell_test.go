package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/directory"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/storage/mysql"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/websearch"
)

type fakePipeline struct {
	inputs []string
}

func (f *fakePipeline) Execute(_ context.Context, req agent.CommandRequest) (*agent.CommandResult, error) {
	f.inputs = append(f.inputs, req.Input)
	return &agent.CommandResult{Input: req.Input, Summary: "ran: " + req.Input}, nil
}

func (f *fakePipeline) SearchDocs(_ context.Context, query string) ([]knowledge.Snippet, error) {
	if query == "broken" {
		return nil, knowledge.Unavailable(errors.New("index offline"))
	}
	return []knowledge.Snippet{{Title: "Slippage tolerance", Content: "Slippage is...", Score: 6}}, nil
}

func (f *fakePipeline) History(context.Context, int) ([]mysql.Entry, error) {
	return []mysql.Entry{{Input: "balance", Summary: "Alice has 1 ETH", CreatedAt: 1700000000}}, nil
}

type fakeDirectory struct {
	refreshed int
	err       error
}

func (d *fakeDirectory) Accounts() []directory.Account {
	return []directory.Account{
		{Alias: "alice", Address: common.HexToAddress("0x1"), HasSigningKey: true},
		{Address: common.HexToAddress("0x2")},
	}
}

func (d *fakeDirectory) Refresh(context.Context) error {
	d.refreshed++
	return d.err
}

type fakeChain struct{}

func (fakeChain) ChainInfo(context.Context) (toolrpc.ChainInfoPayload, error) {
	return toolrpc.ChainInfoPayload{Network: "local", ChainID: "1337", BlockNumber: "42"}, nil
}

func (fakeChain) TransactionStatus(_ context.Context, txID string) (toolrpc.TransactionStatusPayload, error) {
	if txID == "0xdead" {
		return toolrpc.TransactionStatusPayload{}, toolrpc.Unavailable(toolrpc.ToolTransactionStatus, errors.New("connection refused"))
	}
	return toolrpc.TransactionStatusPayload{State: toolrpc.TxStateConfirmed, BlockNumber: 7}, nil
}

type fakeWeb struct{}

func (fakeWeb) SearchWeb(context.Context, string) ([]websearch.Result, error) {
	return []websearch.Result{{Title: "Uniswap", URL: "https://uniswap.org", Description: "Swap tokens"}}, nil
}

func runShell(t *testing.T, shell *Shell, input string) string {
	t.Helper()
	var out bytes.Buffer
	reader, err := NewLineReader(strings.NewReader(input), &out, "> ")
	require.NoError(t, err)
	require.NoError(t, shell.Run(context.Background(), reader))
	return out.String()
}

func TestShellBuiltins(t *testing.T) {
	pipeline := &fakePipeline{}
	dir := &fakeDirectory{}
	shell := NewShell(pipeline, dir, fakeChain{}, WithWebSearch(fakeWeb{}))

	out := runShell(t, shell, strings.Join([]string{
		"help",
		"accounts",
		"refresh",
		"status",
		"tx 0xabc",
		"tx 0xdead",
		"docs slippage",
		"docs broken",
		"web uniswap",
		"history",
		"",
		"send 1 ETH from Alice to Bob",
		"quit",
		"never reached",
	}, "\n"))

	assert.Contains(t, out, "Commands:")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, common.HexToAddress("0x2").Hex())
	assert.Equal(t, 1, dir.refreshed)
	assert.Contains(t, out, "Loaded 2 accounts.")
	assert.Contains(t, out, "Network local (chain id 1337), head block 42.")
	assert.Contains(t, out, "Transaction 0xabc confirmed in block 7.")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "1. Slippage tolerance (score 6.00)")
	assert.Contains(t, out, "index offline")
	assert.Contains(t, out, "https://uniswap.org")
	assert.Contains(t, out, "Alice has 1 ETH")
	assert.Contains(t, out, "ran: send 1 ETH from Alice to Bob")
	assert.Contains(t, out, "Bye.")
	assert.Equal(t, []string{"send 1 ETH from Alice to Bob"}, pipeline.inputs)
}

func TestShellFallsThroughToPipeline(t *testing.T) {
	pipeline := &fakePipeline{}
	shell := NewShell(pipeline, &fakeDirectory{}, fakeChain{})

	// 带参数的内置命令名按普通命令处理。
	out := runShell(t, shell, "status of my transfer\nhelp me send eth\nexit\n")
	assert.Equal(t, []string{"status of my transfer", "help me send eth"}, pipeline.inputs)
	assert.Contains(t, out, "ran: help me send eth")
}

func TestShellEndsOnEOF(t *testing.T) {
	pipeline := &fakePipeline{}
	shell := NewShell(pipeline, &fakeDirectory{}, fakeChain{})
	out := runShell(t, shell, "What is slippage?")
	assert.Equal(t, []string{"What is slippage?"}, pipeline.inputs)
	assert.Contains(t, out, "ChainPilot ready.")
}

func TestShellWebDisabled(t *testing.T) {
	shell := NewShell(&fakePipeline{}, &fakeDirectory{}, fakeChain{})
	out := runShell(t, shell, "web uniswap\nq\n")
	assert.Contains(t, out, "Web search is not configured")
}

func TestQuitKeywords(t *testing.T) {
	for _, word := range []string{"quit", "exit", "q", "QUIT"} {
		shell := NewShell(&fakePipeline{}, &fakeDirectory{}, fakeChain{})
		assert.True(t, shell.Handle(context.Background(), word, &bytes.Buffer{}), word)
	}
}
