// Package gatewaytest provides a scripted gateway.Runner for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
)

// Upload records a single Upload call.
type Upload struct {
	Name   string
	Prefix string
	Data   []byte
}

// Fake answers pixels by command name, the identifier before the first '('.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]func(pixel string) (gateway.Result, error)
	calls    []string
	uploads  []Upload

	UploadFunc func(name string, data []byte) ([]gateway.UploadedFile, error)
}

// New returns an empty fake; unknown commands fail the call.
func New() *Fake {
	return &Fake{handlers: make(map[string]func(string) (gateway.Result, error))}
}

// On registers a handler for a command name.
func (f *Fake) On(command string, fn func(pixel string) (gateway.Result, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[command] = fn
	return f
}

// OnOutput makes command succeed with the JSON encoding of output.
func (f *Fake) OnOutput(command string, output any) *Fake {
	return f.On(command, func(string) (gateway.Result, error) {
		return OK(output), nil
	})
}

// OnError makes command fail with an engine-reported error output.
func (f *Fake) OnError(command string, output any) *Fake {
	return f.On(command, func(string) (gateway.Result, error) {
		return Failed(output), nil
	})
}

// Run implements gateway.Runner.
func (f *Fake) Run(_ context.Context, pixel string) (gateway.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pixel)
	fn, ok := f.handlers[CommandName(pixel)]
	f.mu.Unlock()

	if !ok {
		return gateway.Result{}, fmt.Errorf("gatewaytest: no handler for %q", pixel)
	}
	return fn(pixel)
}

// Upload implements gateway.Runner.
func (f *Fake) Upload(_ context.Context, name string, body io.Reader, prefix string) ([]gateway.UploadedFile, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.uploads = append(f.uploads, Upload{Name: name, Prefix: prefix, Data: data})
	fn := f.UploadFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(name, data)
	}
	return []gateway.UploadedFile{{FileName: name, FileLocation: "/" + name}}, nil
}

// Calls returns the pixels received so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsTo returns the pixels received for one command name.
func (f *Fake) CallsTo(command string) []string {
	var out []string
	for _, call := range f.Calls() {
		if CommandName(call) == command {
			out = append(out, call)
		}
	}
	return out
}

// Uploads returns the uploads received so far.
func (f *Fake) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

// OK builds a successful result.
func OK(output any) gateway.Result {
	return gateway.NewResult(mustJSON(output), gateway.OperationTypes{"OPERATION"})
}

// Failed builds an engine-reported failure.
func Failed(output any) gateway.Result {
	return gateway.NewResult(mustJSON(output), gateway.OperationTypes{"ERROR"})
}

// CommandName returns the pixel's leading function name.
func CommandName(pixel string) string {
	pixel = strings.TrimSpace(pixel)
	if idx := strings.Index(pixel, "("); idx >= 0 {
		pixel = pixel[:idx]
	}
	return strings.TrimSpace(pixel)
}

func mustJSON(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
