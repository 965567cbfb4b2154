// Package ai runs instance prompts against the configured chat model so a
// tenant can try an edited prompt before saving it.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/config"
	"github.com/venux/panel/backend/internal/model/tenant"
)

// ErrEmptyMessage rejects previews without a sample lead message.
var ErrEmptyMessage = errors.New("sample message is empty")

const historyLimit = 10

// Turn is one earlier message of the simulated conversation.
type Turn struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// PreviewRequest describes a simulated lead conversation.
type PreviewRequest struct {
	Company  string
	Instance tenant.Instance
	History  []Turn
	Message  string
}

// Preview is the model's reply to a sample message.
type Preview struct {
	InstanceID string `json:"instance_id"`
	Reply      string `json:"reply"`
	Handoff    bool   `json:"handoff"`
}

// Service wraps the compiled prompt chain.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.Logger
}

// NewService builds the Ark chat model from cfg and compiles the chain.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, logger)
}

// NewServiceWithModel compiles the chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
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
		return nil, fmt.Errorf("failed to compile preview chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		logger:    logger.Named("ai"),
	}, nil
}

// Preview answers req.Message as the instance's assistant would.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (Preview, error) {
	input, err := buildChainInput(req)
	if err != nil {
		return Preview{}, err
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return Preview{}, fmt.Errorf("failed to run preview chain: %w", err)
	}

	s.logger.Info("generated prompt preview",
		zap.String("instance", req.Instance.ID),
		zap.Int("length", len(response.Content)))
	return newPreview(req.Instance, response.Content), nil
}

// StreamPreview streams the reply chunk by chunk.
func (s *Service) StreamPreview(ctx context.Context, req PreviewRequest) (*schema.StreamReader[*schema.Message], error) {
	input, err := buildChainInput(req)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream preview chain output: %w", err)
	}
	return stream, nil
}

func buildChainInput(req PreviewRequest) (map[string]any, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	return map[string]any{
		"system":  BuildSystemPrompt(req.Company, req.Instance),
		"history": buildHistoryMessages(req.History),
		"query":   message,
	}, nil
}

func buildHistoryMessages(turns []Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > historyLimit {
		startIdx = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Sender {
		case "lead", "user":
			history = append(history, schema.UserMessage(turn.Content))
		case "assistant", "ai":
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

func newPreview(inst tenant.Instance, reply string) Preview {
	return Preview{
		InstanceID: inst.ID,
		Reply:      reply,
		Handoff:    strings.Contains(reply, HandoffMarker),
	}
}

// FinishPreview concatenates streamed chunks into a Preview.
func FinishPreview(inst tenant.Instance, chunks []*schema.Message) (Preview, error) {
	if len(chunks) == 0 {
		return newPreview(inst, ""), nil
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return Preview{}, err
	}
	return newPreview(inst, msg.Content), nil
}
