// Package rag answers questions: retrieve context from the selected vector
// store, then generate with the selected model.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	"github.com/zhouzirui/knowledge-portal/backend/internal/model/chat"
	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/pixel"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/documents"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
)

var (
	ErrQuestionRequired   = errors.New("question is required")
	ErrModelNotSelected   = errors.New("please select a model first")
	ErrAttachmentRequired = errors.New("please select a file to upload")
)

const (
	retrievalFallback = "Unknown error"
	genericFallback   = "There is an error, please check pixel calls"
	uploadFallback    = "Failed to upload document"
)

// Generator produces an answer from an assembled request.
type Generator interface {
	Generate(ctx context.Context, req ai.Request) (string, error)
	// Pinned reports whether generation works without a selected model.
	Pinned() bool
}

// Uploader embeds a file into the workspace's vector store.
type Uploader interface {
	Upload(ctx context.Context, ws *chatservice.Workspace, f documents.File) ([]string, error)
}

// ProgressFunc receives workspace snapshots while a request runs.
type ProgressFunc func(chatservice.Snapshot)

// Option tunes a single call.
type Option func(*callOptions)

type callOptions struct {
	progress ProgressFunc
}

// WithProgress reports a snapshot after the placeholder is appended and
// after it is finalised.
func WithProgress(fn ProgressFunc) Option {
	return func(o *callOptions) {
		o.progress = fn
	}
}

func (o callOptions) report(ws *chatservice.Workspace) {
	if o.progress != nil {
		o.progress(ws.Snapshot())
	}
}

// Orchestrator runs retrieval-augmented questions against one workspace at a time.
type Orchestrator struct {
	gw     gateway.Runner
	gen    Generator
	docs   Uploader
	logger *zap.Logger
}

// New wires an orchestrator.
func New(gw gateway.Runner, gen Generator, docs Uploader, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{gw: gw, gen: gen, docs: docs, logger: logging.OrNop(logger)}
}

// Ask appends the question and a placeholder, retrieves context when a
// vector store is selected, generates the answer and finalises the
// placeholder. Validation failures and a busy workspace are returned as
// errors before anything changes; remote failures are recorded on the
// workspace and reflected in the returned message.
func (o *Orchestrator) Ask(ctx context.Context, ws *chatservice.Workspace, question string, opts ...Option) (chat.Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return chat.Message{}, ErrQuestionRequired
	}

	sel := ws.Knowledge.Snapshot()
	if sel.Model == nil && !o.gen.Pinned() {
		return chat.Message{}, ErrModelNotSelected
	}

	cfg := applyOptions(opts)
	if err := ws.TryBegin(); err != nil {
		return chat.Message{}, err
	}

	var msg chat.Message
	func() {
		defer ws.End()

		ws.ClearError()
		id := ws.Conversation.AppendUserMessage(question)
		cfg.report(ws)

		answer, err := o.answer(ctx, ws, sel, question)
		msg = o.finish(ws, id, answer, err)
	}()

	cfg.report(ws)
	return msg, nil
}

func (o *Orchestrator) answer(ctx context.Context, ws *chatservice.Workspace, sel knowledge.SelectionSnapshot, question string) (string, error) {
	var snippets []string
	if sel.Vector != nil {
		items, err := o.retrieve(ctx, sel.Vector.ID, question, sel.Parameters.ResultLimit)
		if err != nil {
			return "", err
		}
		snippets = Snippets(items)
		ws.SetCitations(Sources(items))
	}

	req := ai.Request{
		Question:    question,
		Context:     snippets,
		Temperature: sel.Parameters.Temperature,
	}
	if sel.Model != nil {
		req.EngineID = sel.Model.ID
	}
	return o.gen.Generate(ctx, req)
}

func (o *Orchestrator) retrieve(ctx context.Context, engineID, question string, limit int) ([]kmodel.ContextItem, error) {
	res, err := o.gw.Run(ctx, pixel.VectorQuery(engineID, question, limit))
	if err != nil {
		return nil, fmt.Errorf("query vector database: %w", err)
	}
	if err := res.Err(retrievalFallback); err != nil {
		return nil, err
	}
	return ContextItems(res.Array()), nil
}

// finish transitions the placeholder and records failures on the workspace.
func (o *Orchestrator) finish(ws *chatservice.Workspace, id, text string, err error) chat.Message {
	if err == nil {
		msg, rerr := ws.Conversation.Resolve(id, text)
		if rerr != nil {
			o.logger.Error("resolve placeholder", zap.String("session", ws.ID), zap.Error(rerr))
		}
		return msg
	}

	reason := FailureMessage(err, genericFallback)
	o.logger.Warn("request failed", zap.String("session", ws.ID), zap.Error(err))
	ws.SetError(reason)
	msg, ferr := ws.Conversation.Fail(id, "Error: "+reason)
	if ferr != nil {
		o.logger.Error("fail placeholder", zap.String("session", ws.ID), zap.Error(ferr))
	}
	return msg
}

// SendAttachment uploads the pending attachment into the selected vector
// store and narrates the upload in the conversation.
func (o *Orchestrator) SendAttachment(ctx context.Context, ws *chatservice.Workspace, opts ...Option) (chat.Message, error) {
	att, ok := ws.Attachment()
	if !ok {
		ws.SetError(ErrAttachmentRequired.Error())
		return chat.Message{}, ErrAttachmentRequired
	}
	if ws.Knowledge.VectorStore() == nil {
		ws.SetError(documents.ErrVectorStoreRequired.Error())
		return chat.Message{}, documents.ErrVectorStoreRequired
	}

	cfg := applyOptions(opts)
	if err := ws.TryBegin(); err != nil {
		return chat.Message{}, err
	}

	var msg chat.Message
	func() {
		defer ws.End()

		id := ws.Conversation.AppendUserMessage("Uploading file: " + att.Name)
		cfg.report(ws)

		_, err := o.docs.Upload(ctx, ws, documents.File{
			Name:        att.Name,
			Size:        att.Size,
			ContentType: att.ContentType,
			Body:        bytes.NewReader(att.Data),
		})
		if err != nil {
			msg = o.finishUpload(ws, id, err)
			return
		}
		msg = o.finish(ws, id, fmt.Sprintf(`File "%s" was successfully uploaded to the vector database.`, att.Name), nil)
		ws.Detach()
	}()

	cfg.report(ws)
	return msg, nil
}

func (o *Orchestrator) finishUpload(ws *chatservice.Workspace, id string, err error) chat.Message {
	reason := FailureMessage(err, uploadFallback)
	o.logger.Warn("attachment upload failed", zap.String("session", ws.ID), zap.Error(err))
	ws.SetError(reason)
	msg, ferr := ws.Conversation.Fail(id, "Error uploading file: "+reason)
	if ferr != nil {
		o.logger.Error("fail placeholder", zap.String("session", ws.ID), zap.Error(ferr))
	}
	return msg
}

// FailureMessage extracts the text shown for a failed request: the
// engine's own message when it reported one, otherwise the error text, and
// fallback when that is empty.
func FailureMessage(err error, fallback string) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

// ContextItems reads retrieval output. The final element is not used: the
// loop stops one short of the end.
func ContextItems(items []json.RawMessage) []kmodel.ContextItem {
	out := make([]kmodel.ContextItem, 0, len(items))
	for i := 0; i < len(items)-1; i++ {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(items[i], &fields); err != nil || fields == nil {
			continue
		}
		out = append(out, kmodel.ContextItem{
			Content:   firstText(fields, "content", "Content"),
			SourceURL: firstText(fields, "Source", "source"),
		})
	}
	return out
}

// Snippets returns the non-empty contents in order.
func Snippets(items []kmodel.ContextItem) []string {
	var snippets []string
	for _, item := range items {
		if item.Content != "" {
			snippets = append(snippets, item.Content)
		}
	}
	return snippets
}

// Sources returns the non-empty source URLs in order.
func Sources(items []kmodel.ContextItem) []string {
	sources := make([]string, 0, len(items))
	for _, item := range items {
		if item.SourceURL != "" {
			sources = append(sources, item.SourceURL)
		}
	}
	return sources
}

func firstText(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		if text := strings.TrimSpace(string(raw)); text != "null" && text != "" {
			return text
		}
	}
	return ""
}

func applyOptions(opts []Option) callOptions {
	var cfg callOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
