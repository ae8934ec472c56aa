// Package ai 基于 eino 链路封装追问问题与回忆录文章的生成。
package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/echotalk/backend/internal/config"
	"github.com/echotalk/backend/internal/model/chat"
)

// Service 封装大模型调用。
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService 创建AI服务实例并编译对话链。
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// GenerateFollowup 基于最近对话生成一个追问问题。
func (s *Service) GenerateFollowup(ctx context.Context, turns []chat.Turn) (string, error) {
	response, err := s.chain.Invoke(ctx, followupChainInput(turns))
	if err != nil {
		return "", fmt.Errorf("failed to run followup chain: %w", err)
	}

	log.Printf("[ai] generated followup, history=%d, length=%d", len(turns), len(response.Content))
	return strings.TrimSpace(response.Content), nil
}

// StreamFollowup 流式生成追问问题，供 SSE 端点使用。
func (s *Service) StreamFollowup(ctx context.Context, turns []chat.Turn) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, followupChainInput(turns))
	if err != nil {
		return nil, fmt.Errorf("failed to stream followup chain: %w", err)
	}
	return stream, nil
}

// GenerateMemoir 基于会话完整记录生成回忆录文章正文。
func (s *Service) GenerateMemoir(ctx context.Context, turns []chat.Turn) (string, error) {
	input := map[string]any{
		"system":  memoirSystemPrompt,
		"history": []*schema.Message(nil),
		"query":   fmt.Sprintf("请根据以下对话生成回忆录：\n\n%s", formatTranscript(turns)),
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run memoir chain: %w", err)
	}

	article := strings.TrimSpace(response.Content)
	if article == "" {
		return "", fmt.Errorf("memoir chain returned empty article")
	}

	log.Printf("[ai] generated memoir, turns=%d, length=%d", len(turns), len(article))
	return article, nil
}

func followupChainInput(turns []chat.Turn) map[string]any {
	return map[string]any{
		"system":  followupSystemPrompt,
		"history": buildHistoryMessages(turns),
		"query":   followupQuery,
	}
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

// formatTranscript 把对话记录拼成 老人：/AI： 形式的纯文本。
func formatTranscript(turns []chat.Turn) string {
	var builder strings.Builder
	for _, turn := range turns {
		speaker := "AI"
		if turn.Role == chat.RoleUser {
			speaker = "老人"
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(speaker)
		builder.WriteString("：")
		builder.WriteString(turn.Content)
	}
	return builder.String()
}
