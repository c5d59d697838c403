package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	"github.com/zhouzirui/knowledge-portal/backend/internal/pixel"
)

var (
	ErrEngineRequired    = errors.New("model engine id is required")
	ErrToolsNotSupported = errors.New("gateway chat model does not support tools")
)

const generationFallback = "Unknown error in LLM response"

// CallError is a transport failure of the LLM pixel.
type CallError struct {
	Err error
}

func (e *CallError) Error() string {
	return e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// GatewayOptions 是 GatewayChatModel 专有的调用参数。
type GatewayOptions struct {
	// Command 是原始问题，作为 LLM 的 command 参数发送。
	Command string
	// Temperature 以 float64 原样写入 pixel，避免 float32 的精度噪声。
	Temperature *float64
}

// WithCommand sets the raw question sent alongside the prompt.
func WithCommand(command string) model.Option {
	return model.WrapImplSpecificOptFn(func(o *GatewayOptions) {
		o.Command = command
	})
}

// WithTemperature sets the exact sampling temperature.
func WithTemperature(t float64) model.Option {
	return model.WrapImplSpecificOptFn(func(o *GatewayOptions) {
		o.Temperature = &t
	})
}

// GatewayChatModel 通过引擎的 LLM pixel 生成回复。引擎 ID 来自 model.WithModel。
type GatewayChatModel struct {
	gw     gateway.Runner
	logger *zap.Logger
}

var _ model.ChatModel = (*GatewayChatModel)(nil)

// NewGatewayChatModel wraps a gateway runner as an eino chat model.
func NewGatewayChatModel(gw gateway.Runner, logger *zap.Logger) *GatewayChatModel {
	return &GatewayChatModel{gw: gw, logger: logging.OrNop(logger)}
}

// Generate implements model.BaseChatModel.
func (m *GatewayChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{}, opts...)
	specific := model.GetImplSpecificOptions(&GatewayOptions{}, opts...)

	if common.Model == nil || *common.Model == "" {
		return nil, ErrEngineRequired
	}

	temperature := 0.0
	switch {
	case specific.Temperature != nil:
		temperature = *specific.Temperature
	case common.Temperature != nil:
		temperature = float64(*common.Temperature)
	}

	command := specific.Command
	if command == "" {
		command = lastUserContent(input)
	}

	res, err := m.gw.Run(ctx, pixel.LLM(*common.Model, command, toTurns(input), temperature))
	if err != nil {
		return nil, &CallError{Err: fmt.Errorf("run LLM pixel: %w", err)}
	}
	if err := res.Err(generationFallback); err != nil {
		return nil, err
	}

	answer := ""
	if gateway.HasResponse(res.Output) {
		answer = gateway.OutputMessage(res.Output)
	}
	m.logger.Debug("llm answered", zap.String("engine", *common.Model), zap.Int("length", len(answer)))
	return schema.AssistantMessage(answer, nil), nil
}

// Stream implements model.BaseChatModel. The engine answers in one piece, so
// the stream carries a single chunk.
func (m *GatewayChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools implements model.ChatModel.
func (m *GatewayChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) == 0 {
		return nil
	}
	return ErrToolsNotSupported
}

func toTurns(input []*schema.Message) []pixel.Turn {
	turns := make([]pixel.Turn, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		turns = append(turns, pixel.Turn{Role: string(msg.Role), Content: msg.Content})
	}
	return turns
}

func lastUserContent(input []*schema.Message) string {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != nil && input[i].Role == schema.User {
			return input[i].Content
		}
	}
	return ""
}
