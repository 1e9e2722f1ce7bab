package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"ChainPilot/internal/llm"
	"ChainPilot/pkg/logger"
)

// HistoryItem 是提供给闲聊模型的一条历史命令。
type HistoryItem struct {
	Input   string
	Summary string
}

const capabilities = "I can send ETH between known accounts (\"send 1 ETH from Alice to Bob\"), " +
	"check balances (\"How much ETH does Alice have?\"), check whether a contract is deployed " +
	"and answer questions about Ethereum. Type \"help\" for shell commands."

// cannedReplies 按顺序匹配，命中任一词即返回对应回复。
var cannedReplies = []struct {
	words []string
	reply string
}{
	{words: []string{"gm", "hi", "hello", "hey", "morning", "yo"}, reply: "GM! " + capabilities},
	{words: []string{"thanks", "thank", "thx", "ty"}, reply: "You're welcome."},
	{words: []string{"help", "capabilities", "can", "do"}, reply: capabilities},
	{words: []string{"bye", "goodbye", "cya"}, reply: "Bye! Type \"quit\" to leave the shell."},
}

// Responder 生成闲聊回复。配置了大模型时优先使用模型，失败时退回固定回复，闲聊永远不会让命令失败。
type Responder struct {
	client  llm.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewResponder 创建闲聊回复器，client 可以为 nil。
func NewResponder(client llm.Client, timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Responder{client: client, timeout: timeout, log: logger.Named("chat")}
}

// Reply 返回一行回复。
func (r *Responder) Reply(ctx context.Context, text string, history []HistoryItem) string {
	if r.client != nil {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		req := llm.Request{Prompt: text}
		for _, h := range history {
			req.History = append(req.History, llm.HistoryEntry{Input: h.Input, Summary: h.Summary})
		}
		resp, err := r.client.Generate(ctx, req)
		if err == nil && resp != nil && strings.TrimSpace(resp.Reply) != "" {
			return oneLine(resp.Reply)
		}
		r.log.Warn("闲聊模型调用失败，使用固定回复", "error", err)
	}
	return canned(text)
}

func canned(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, c := range cannedReplies {
		for _, w := range words {
			for _, candidate := range c.words {
				if w == candidate {
					return c.reply
				}
			}
		}
	}
	return "I'm not sure what you mean. " + capabilities
}
