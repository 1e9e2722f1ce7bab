package agent

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ChainPilot/internal/dispatch"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/tracker"
	"ChainPilot/internal/units"
)

// label 组合用户输入的引用与解析后的地址。
func label(reference string, addr common.Address) string {
	reference = strings.TrimSpace(reference)
	hex := addr.Hex()
	if reference == "" || strings.EqualFold(reference, hex) {
		return hex
	}
	return fmt.Sprintf("%s (%s)", reference, hex)
}

func balanceSummary(in intent.Intent, asset dispatch.Asset, payload toolrpc.BalancePayload) (string, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(payload.Balance), 10)
	if !ok {
		return "", fmt.Errorf("balance %q is not an integer", payload.Balance)
	}
	decimals := asset.Decimals
	if payload.Decimals > 0 {
		decimals = payload.Decimals
	}
	symbol := asset.Symbol
	if payload.Symbol != "" {
		symbol = payload.Symbol
	}
	return fmt.Sprintf("%s holds %s %s.", label(in.Entity(intent.SlotAddress), payload.Address),
		units.Format(value, decimals), symbol), nil
}

func deploymentSummary(in intent.Intent, payload toolrpc.DeploymentPayload) string {
	who := label(in.Entity(intent.SlotAddress), payload.Address)
	if payload.Deployed {
		return fmt.Sprintf("Yes, a contract is deployed at %s.", who)
	}
	return fmt.Sprintf("No, there is no contract deployed at %s.", who)
}

func transferSummary(in intent.Intent, res *dispatch.Result, h tracker.Handle) string {
	args := res.Request.Arguments
	from, _ := args.Address(toolrpc.ArgFrom)
	to, _ := args.Address(toolrpc.ArgTo)
	amount, _ := args.Amount(toolrpc.ArgAmount)
	what := fmt.Sprintf("%s %s from %s to %s", units.Format(amount, res.Asset.Decimals), res.Asset.Symbol,
		label(in.Entity(intent.SlotFrom), from), label(in.Entity(intent.SlotTo), to))

	switch h.State {
	case tracker.StateConfirmed:
		return fmt.Sprintf("Sent %s; transaction %s confirmed in block %d.", what, h.TransactionID, h.BlockNumber)
	case tracker.StateFailed:
		return fmt.Sprintf("Transfer of %s failed on chain; transaction %s was reverted in block %d.", what, h.TransactionID, h.BlockNumber)
	case tracker.StateTimedOut:
		waited := time.Duration(0)
		if !h.SubmittedAt.IsZero() {
			waited = time.Since(h.SubmittedAt).Round(time.Second)
		}
		return fmt.Sprintf("Submitted %s; transaction %s is not yet confirmed after %s, check it later with \"tx %s\".",
			what, h.TransactionID, waited, h.TransactionID)
	default:
		return fmt.Sprintf("Submitted %s; transaction %s is pending.", what, h.TransactionID)
	}
}

func docsSummary(query string, snippets []knowledge.Snippet) string {
	query = strings.TrimSpace(query)
	if len(snippets) == 0 {
		return fmt.Sprintf("No documentation found for %q.", query)
	}
	top := snippets[0]
	content := strings.Join(strings.Fields(top.Content), " ")
	if r := []rune(content); len(r) > 160 {
		content = string(r[:160]) + "..."
	}
	more := ""
	if len(snippets) > 1 {
		more = fmt.Sprintf(" (+%d more)", len(snippets)-1)
	}
	return fmt.Sprintf("%s: %s%s", top.Title, content, more)
}
