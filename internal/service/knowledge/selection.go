package knowledge

import (
	"errors"
	"math"
	"sync"

	"github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
)

var ErrInvalidTemperature = errors.New("temperature must be a number")

// Selection holds the handles and parameters chosen for one workspace.
// Parameters always stay within their bounds.
type Selection struct {
	mu      sync.RWMutex
	model   *knowledge.Handle
	vector  *knowledge.Handle
	storage *knowledge.Handle
	params  knowledge.QueryParameters
	refresh bool
}

// SelectionSnapshot is a point-in-time copy of a Selection.
type SelectionSnapshot struct {
	Model      *knowledge.Handle         `json:"model,omitempty"`
	Vector     *knowledge.Handle         `json:"vector,omitempty"`
	Storage    *knowledge.Handle         `json:"storage,omitempty"`
	Parameters knowledge.QueryParameters `json:"parameters"`
}

// NewSelection returns a selection with the given starting parameters, clamped.
// A NaN temperature keeps the default.
func NewSelection(params knowledge.QueryParameters) *Selection {
	s := &Selection{params: knowledge.DefaultParameters()}
	s.SetResultLimit(params.ResultLimit)
	if _, err := s.SetTemperature(params.Temperature); err != nil {
		s.params.Temperature = knowledge.DefaultParameters().Temperature
	}
	return s
}

// SelectModel sets the model handle; nil clears it.
func (s *Selection) SelectModel(h *knowledge.Handle) {
	s.mu.Lock()
	s.model = clone(h)
	s.mu.Unlock()
}

// SelectVectorStore sets the vector store handle; nil clears it.
func (s *Selection) SelectVectorStore(h *knowledge.Handle) {
	s.mu.Lock()
	s.vector = clone(h)
	s.mu.Unlock()
}

// SelectStorage sets the storage handle; nil clears it.
func (s *Selection) SelectStorage(h *knowledge.Handle) {
	s.mu.Lock()
	s.storage = clone(h)
	s.mu.Unlock()
}

// SetResultLimit clamps n into [1,10] and returns the stored value.
func (s *Selection) SetResultLimit(n int) int {
	if n < knowledge.MinResultLimit {
		n = knowledge.MinResultLimit
	}
	if n > knowledge.MaxResultLimit {
		n = knowledge.MaxResultLimit
	}
	s.mu.Lock()
	s.params.ResultLimit = n
	s.mu.Unlock()
	return n
}

// SetTemperature clamps t into [0,1] and returns the stored value. NaN is
// rejected and leaves the current value in place.
func (s *Selection) SetTemperature(t float64) (float64, error) {
	if math.IsNaN(t) {
		return s.Parameters().Temperature, ErrInvalidTemperature
	}
	t = math.Max(knowledge.MinTemperature, math.Min(knowledge.MaxTemperature, t))
	s.mu.Lock()
	s.params.Temperature = t
	s.mu.Unlock()
	return t, nil
}

// Model returns the selected model, if any.
func (s *Selection) Model() *knowledge.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.model)
}

// VectorStore returns the selected vector store, if any.
func (s *Selection) VectorStore() *knowledge.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.vector)
}

// Storage returns the selected storage engine, if any.
func (s *Selection) Storage() *knowledge.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.storage)
}

// Parameters returns the current query parameters.
func (s *Selection) Parameters() knowledge.QueryParameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// MarkRefresh requests a re-fetch of the vector store list.
func (s *Selection) MarkRefresh() {
	s.mu.Lock()
	s.refresh = true
	s.mu.Unlock()
}

// ConsumeRefresh reports and clears the refresh flag.
func (s *Selection) ConsumeRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.refresh
	s.refresh = false
	return pending
}

// RefreshPending reports the refresh flag without clearing it.
func (s *Selection) RefreshPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Snapshot copies the selection.
func (s *Selection) Snapshot() SelectionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SelectionSnapshot{
		Model:      clone(s.model),
		Vector:     clone(s.vector),
		Storage:    clone(s.storage),
		Parameters: s.params,
	}
}

func clone(h *knowledge.Handle) *knowledge.Handle {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}
