package agent

import (
	stdErrors "errors"
	"fmt"
	"strings"

	"ChainPilot/internal/directory"
	"ChainPilot/internal/dispatch"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/resolver"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/units"
	"ChainPilot/internal/websearch"
)

// Describe 把任意流水线错误转换为一行面向用户的说明。
func Describe(err error) string {
	if err == nil {
		return ""
	}
	e, ok := xerrors.From(err)
	if !ok {
		return oneLine("Error: " + err.Error())
	}

	var line string
	switch e.Code() {
	case intent.CodeIncompleteEntities:
		line = e.Message()
	case resolver.CodeUnresolvedAddress:
		line = fmt.Sprintf("I couldn't resolve %q to an address; use a known alias, a 0x address or an ENS name (type \"accounts\" to list aliases).",
			e.Metadata()[resolver.MetaReference])
	case directory.CodeDirectoryUnavailable:
		line = "Account directory unavailable: " + causeText(e)
	case directory.CodeAccountNotFound:
		line = e.Message()
	case units.CodePrecisionLoss:
		meta := e.Metadata()
		line = fmt.Sprintf("Amount %s has more decimal places than the asset supports (%s decimals).", meta["amount"], meta["decimals"])
	case units.CodeInvalidAmount:
		line = fmt.Sprintf("%q is not a valid amount.", e.Metadata()["amount"])
	case dispatch.CodeUnsupportedOperation:
		line = "Internal error: the command was understood but no tool handles it; this is a bug, please report it."
	case toolrpc.CodeToolUnavailable:
		line = fmt.Sprintf("Tool provider unavailable (%s): %s", e.Metadata()[toolrpc.MetaTool], causeText(e))
	case toolrpc.CodeToolRejected:
		meta := e.Metadata()
		line = fmt.Sprintf("The tool provider rejected %s: %s (%s)", meta[toolrpc.MetaTool], meta[toolrpc.MetaRemoteMessage], meta[toolrpc.MetaRemoteCode])
	case knowledge.CodeDocsUnavailable:
		line = "Documentation search unavailable: " + causeText(e)
	case websearch.CodeWebSearchUnavailable:
		line = "Web search unavailable: " + causeText(e)
	case llm.CodeChatUnavailable:
		line = "Chat model unavailable: " + causeText(e)
	case xerrors.CodeTimeout:
		line = "The command timed out: " + causeText(e)
	case xerrors.CodeCanceled:
		line = "The command was cancelled."
	default:
		line = "Error: " + err.Error()
	}
	return oneLine(line)
}

// causeText 返回根因描述，没有根因时使用错误自身的描述。
func causeText(e *xerrors.Error) string {
	if cause := stdErrors.Unwrap(e); cause != nil {
		return cause.Error()
	}
	return e.Message()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
