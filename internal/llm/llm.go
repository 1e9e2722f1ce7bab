package llm

import (
	"context"
	"fmt"
	"strings"

	xerrors "ChainPilot/internal/errors"
)

// CodeChatUnavailable 表示闲聊回复所依赖的大模型调用失败。
const CodeChatUnavailable xerrors.Code = "CHAT_UNAVAILABLE"

func init() {
	xerrors.Register(CodeChatUnavailable, xerrors.Attributes{
		Message:    "chat model unavailable",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		UserFacing: true,
	})
}

// Unavailable 构造 CHAT_UNAVAILABLE 错误。
func Unavailable(cause error) *xerrors.Error {
	return xerrors.Wrap(CodeChatUnavailable, cause, "")
}

// Request 描述一次闲聊请求。
type Request struct {
	Prompt    string
	History   []HistoryEntry
	Knowledge []KnowledgeCard
}

// Response 是大模型返回的回复。
type Response struct {
	Reply string
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的回复。
type KnowledgeCard struct {
	Title   string
	Content string
}

// HistoryEntry 描述一条历史命令，为大模型提供上下文记忆。
type HistoryEntry struct {
	Input   string
	Summary string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// SystemPrompt 是各家模型共用的系统提示词。
const SystemPrompt = "" +
	"You are ChainPilot, a command-line assistant for an Ethereum-compatible chain. " +
	"You can send ETH between known accounts, check balances, check whether a contract is deployed " +
	"and answer documentation questions. Reply in one or two short sentences of plain text."

// BuildPrompt 将请求整理为单条用户消息。
func BuildPrompt(req Request) string {
	var builder strings.Builder
	if len(req.History) > 0 {
		builder.WriteString("Recent commands:\n")
		for idx, entry := range req.History {
			if idx >= 5 {
				break
			}
			builder.WriteString(fmt.Sprintf("- %s => %s\n", truncate(entry.Input), truncate(entry.Summary)))
		}
		builder.WriteString("\n")
	}
	if len(req.Knowledge) > 0 {
		builder.WriteString("Reference notes:\n")
		for idx, card := range req.Knowledge {
			if idx >= 5 {
				break
			}
			builder.WriteString(fmt.Sprintf("- %s: %s\n", strings.TrimSpace(card.Title), truncate(card.Content)))
		}
		builder.WriteString("\n")
	}
	builder.WriteString(strings.TrimSpace(req.Prompt))
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
