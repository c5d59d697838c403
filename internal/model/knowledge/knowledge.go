package knowledge

import "github.com/zhouzirui/knowledge-portal/backend/internal/pixel"

// Handle identifies a model, vector store or storage engine.
type Handle struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	Type        pixel.EngineType `json:"type,omitempty"`
}

// Parameter bounds and defaults.
const (
	MinResultLimit     = 1
	MaxResultLimit     = 10
	DefaultResultLimit = 3

	MinTemperature     = 0.0
	MaxTemperature     = 1.0
	DefaultTemperature = 0.0
)

// QueryParameters tune retrieval and generation.
type QueryParameters struct {
	ResultLimit int     `json:"resultLimit"`
	Temperature float64 `json:"temperature"`
}

// DefaultParameters returns resultLimit=3, temperature=0.
func DefaultParameters() QueryParameters {
	return QueryParameters{ResultLimit: DefaultResultLimit, Temperature: DefaultTemperature}
}

// ContextItem is one retrieved snippet.
type ContextItem struct {
	Content   string `json:"content"`
	SourceURL string `json:"sourceUrl,omitempty"`
}
