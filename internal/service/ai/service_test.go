package ai_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway/gatewaytest"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/ai"
)

func newGatewayService(t *testing.T, fake *gatewaytest.Fake) *ai.Service {
	t.Helper()
	svc, err := ai.NewService(context.Background(), ai.NewGatewayChatModel(fake, nil))
	require.NoError(t, err)
	return svc
}

func TestGenerateWithContextEmitsGroundedPrompt(t *testing.T) {
	fake := gatewaytest.New().OnOutput("LLM", map[string]any{"response": "the answer"})
	svc := newGatewayService(t, fake)

	answer, err := svc.Generate(context.Background(), ai.Request{
		EngineID:    "m1",
		Question:    "Q",
		Context:     []string{"A"},
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", answer)

	calls := fake.CallsTo("LLM")
	require.Len(t, calls, 1)
	want := `LLM(engine="m1", command="Q", paramValues=[{"full_prompt":[` +
		`{"role":"system","content":"You are an intelligent AI designed to answer queries based on policy documents. Q."},` +
		`{"role":"system","content":"A"}]}, {"temperature":0.3}]);`
	assert.Equal(t, want, calls[0])
}

func TestGenerateWithoutContextUsesOpenInstruction(t *testing.T) {
	fake := gatewaytest.New().OnOutput("LLM", map[string]any{"response": "hi"})
	svc := newGatewayService(t, fake)

	_, err := svc.Generate(context.Background(), ai.Request{EngineID: "m1", Question: `say "hi"`})
	require.NoError(t, err)

	calls := fake.CallsTo("LLM")
	require.Len(t, calls, 1)
	want := `LLM(engine="m1", command="say \"hi\"", paramValues=[{"full_prompt":[` +
		`{"role":"system","content":"You are an intelligent AI assistant. Answer the following question to the best of your ability. say \"hi\"."}` +
		`]}, {"temperature":0}]);`
	assert.Equal(t, want, calls[0])
}

func TestGenerateMissingResponseYieldsEmptyAnswer(t *testing.T) {
	fake := gatewaytest.New().OnOutput("LLM", "plain string")
	svc := newGatewayService(t, fake)

	answer, err := svc.Generate(context.Background(), ai.Request{EngineID: "m1", Question: "Q"})
	require.NoError(t, err)
	assert.Empty(t, answer)
}

func TestGenerateEngineErrors(t *testing.T) {
	tests := []struct {
		name    string
		output  any
		message string
	}{
		{name: "response field", output: map[string]any{"response": "quota exceeded"}, message: "quota exceeded"},
		{name: "no message", output: map[string]any{"other": 1}, message: "Unknown error in LLM response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newGatewayService(t, gatewaytest.New().OnError("LLM", tt.output))

			_, err := svc.Generate(context.Background(), ai.Request{EngineID: "m1", Question: "Q"})
			var gwErr *gateway.Error
			require.True(t, errors.As(err, &gwErr), "unexpected error: %v", err)
			assert.Equal(t, tt.message, gwErr.Message)
		})
	}
}

func TestGenerateTransportError(t *testing.T) {
	fake := gatewaytest.New().On("LLM", func(string) (gateway.Result, error) {
		return gateway.Result{}, errors.New("connection refused")
	})
	svc := newGatewayService(t, fake)

	_, err := svc.Generate(context.Background(), ai.Request{EngineID: "m1", Question: "Q"})
	var callErr *ai.CallError
	require.True(t, errors.As(err, &callErr), "unexpected error: %v", err)
	assert.Equal(t, "run LLM pixel: connection refused", callErr.Error())
}

func TestGatewayChatModelRequiresEngine(t *testing.T) {
	m := ai.NewGatewayChatModel(gatewaytest.New(), nil)

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("Q")})
	assert.ErrorIs(t, err, ai.ErrEngineRequired)
}

func TestGatewayChatModelFallsBackToLastUserMessage(t *testing.T) {
	fake := gatewaytest.New().OnOutput("LLM", map[string]any{"response": "ok"})
	m := ai.NewGatewayChatModel(fake, nil)

	stream, err := m.Stream(context.Background(),
		[]*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("hello")},
		model.WithModel("m2"))
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ok", chunk.Content)

	calls := fake.CallsTo("LLM")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], `command="hello"`)
	assert.Contains(t, calls[0], `{"role":"user","content":"hello"}`)
}

func TestBindTools(t *testing.T) {
	m := ai.NewGatewayChatModel(gatewaytest.New(), nil)
	assert.NoError(t, m.BindTools(nil))
	assert.ErrorIs(t, m.BindTools([]*schema.ToolInfo{{Name: "search"}}), ai.ErrToolsNotSupported)
}

type pinnedModel struct {
	opts *model.Options
}

func (p *pinnedModel) Generate(_ context.Context, _ []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	p.opts = model.GetCommonOptions(&model.Options{}, opts...)
	return schema.AssistantMessage("pinned", nil), nil
}

func (p *pinnedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := p.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestPinnedModelDoesNotReceiveEngineID(t *testing.T) {
	pm := &pinnedModel{}
	svc, err := ai.NewService(context.Background(), pm, ai.WithPinnedModel())
	require.NoError(t, err)
	assert.True(t, svc.Pinned())

	answer, err := svc.Generate(context.Background(), ai.Request{EngineID: "ignored", Question: "Q"})
	require.NoError(t, err)
	assert.Equal(t, "pinned", answer)
	require.NotNil(t, pm.opts)
	assert.Nil(t, pm.opts.Model)
}

func TestBuildChainInput(t *testing.T) {
	input := ai.BuildChainInput(ai.Request{Question: "Q", Context: []string{"A", "B"}})
	assert.Equal(t, ai.GroundedInstruction, input["instruction"])
	assert.Equal(t, "Q", input["question"])
	assert.Len(t, input["context"], 2)

	input = ai.BuildChainInput(ai.Request{Question: "Q"})
	assert.Equal(t, ai.OpenInstruction, input["instruction"])
}
