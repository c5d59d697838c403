package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
)

const (
	// GroundedInstruction 在检索到上下文时使用。
	GroundedInstruction = "You are an intelligent AI designed to answer queries based on policy documents."
	// OpenInstruction 在没有上下文时使用。
	OpenInstruction = "You are an intelligent AI assistant. Answer the following question to the best of your ability."
)

// Instruction picks the system instruction for a prompt.
func Instruction(hasContext bool) string {
	if hasContext {
		return GroundedInstruction
	}
	return OpenInstruction
}

// Request is one generation call.
type Request struct {
	EngineID    string
	Question    string
	Context     []string
	Temperature float64
}

// Service encapsulates answer generation: a chat template feeding a chat model.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	pinned    bool
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPinnedModel marks the chat model as bound to a fixed model, so the
// selected engine ID is not forwarded and no selection is required.
func WithPinnedModel() Option {
	return func(s *Service) {
		s.pinned = true
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logging.OrNop(logger)
	}
}

// NewService compiles the generation chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, opts ...Option) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{instruction} {question}."),
		schema.MessagesPlaceholder("context", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	s := &Service{
		chatModel: chatModel,
		chain:     runnable,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Pinned reports whether generation ignores the selected model engine.
func (s *Service) Pinned() bool {
	return s.pinned
}

// Generate runs the chain and returns the answer text.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	modelOpts := []model.Option{
		model.WithTemperature(float32(req.Temperature)),
		WithTemperature(req.Temperature),
		WithCommand(req.Question),
	}
	if !s.pinned {
		modelOpts = append(modelOpts, model.WithModel(req.EngineID))
	}

	response, err := s.chain.Invoke(ctx, BuildChainInput(req), compose.WithChatModelOption(modelOpts...))
	if err != nil {
		return "", modelError(err)
	}

	s.logger.Info("answer generated",
		zap.String("engine", req.EngineID),
		zap.Int("context", len(req.Context)),
		zap.Int("length", len(response.Content)))
	return response.Content, nil
}

// BuildChainInput maps a request onto the template variables.
func BuildChainInput(req Request) map[string]any {
	return map[string]any{
		"instruction": Instruction(len(req.Context) > 0),
		"question":    req.Question,
		"context":     contextMessages(req.Context),
	}
}

func contextMessages(snippets []string) []*schema.Message {
	if len(snippets) == 0 {
		return nil
	}
	messages := make([]*schema.Message, 0, len(snippets))
	for _, snippet := range snippets {
		messages = append(messages, schema.SystemMessage(snippet))
	}
	return messages
}

// modelError strips the chain's node decoration from errors raised by the
// gateway model so callers can show the engine's own message.
func modelError(err error) error {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	return err
}
