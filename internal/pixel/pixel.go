// Package pixel renders the engine's command grammar: a function name with
// keyword arguments whose values are JSON literals.
package pixel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EngineType names a category accepted by MyEngines.
type EngineType string

const (
	EngineModel   EngineType = "MODEL"
	EngineVector  EngineType = "VECTOR"
	EngineStorage EngineType = "STORAGE"
)

// Turn is one entry of an LLM full_prompt.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// VectorStoreDetails is the connection detail block for CreateVectorDatabaseEngine.
type VectorStoreDetails struct {
	Name                string `json:"NAME"`
	VectorType          string `json:"VECTOR_TYPE"`
	EmbedderEngineID    string `json:"EMBEDDER_ENGINE_ID"`
	IndexClasses        string `json:"INDEX_CLASSES"`
	ChunkingStrategy    string `json:"CHUNKING_STRATEGY"`
	ContentLength       int    `json:"CONTENT_LENGTH"`
	ContentOverlap      int    `json:"CONTENT_OVERLAP"`
	DistanceMethod      string `json:"DISTANCE_METHOD"`
	RetainExtractedText string `json:"RETAIN_EXTRACTED_TEXT"`
}

// DefaultVectorStoreDetails returns the fixed FAISS configuration used for new stores.
func DefaultVectorStoreDetails(name, embedderEngineID string) VectorStoreDetails {
	return VectorStoreDetails{
		Name:                name,
		VectorType:          "FAISS",
		EmbedderEngineID:    embedderEngineID,
		IndexClasses:        "default",
		ChunkingStrategy:    "ALL",
		ContentLength:       512,
		ContentOverlap:      20,
		DistanceMethod:      "Squared Euclidean (L2) distance",
		RetainExtractedText: "false",
	}
}

// ProjectMetaKeys are the metadata keys requested for portal tiles.
var ProjectMetaKeys = []string{"tag", "domain", "data classification", "data restrictions", "description"}

// ListDocuments lists the documents embedded in a vector store.
func ListDocuments(engineID string) string {
	return fmt.Sprintf("ListDocumentsInVectorDatabase(engine=%s);", Quote(engineID))
}

// RemoveDocuments deletes documents from a vector store.
func RemoveDocuments(engineID string, fileNames ...string) string {
	return fmt.Sprintf("RemoveDocumentFromVectorDatabase(engine=%s, fileNames=%s);", Quote(engineID), literal(nonNil(fileNames)))
}

// CreateVectorDatabase provisions a new vector store.
func CreateVectorDatabase(details VectorStoreDetails) string {
	return fmt.Sprintf("CreateVectorDatabaseEngine(database=%s, conDetails=%s);", literal([]string{details.Name}), literal([]VectorStoreDetails{details}))
}

// CreateEmbeddings embeds uploaded files into a vector store.
func CreateEmbeddings(engineID string, filePaths ...string) string {
	return fmt.Sprintf("CreateEmbeddingsFromDocuments(engine=%s, filePaths=%s);", Quote(engineID), literal(nonNil(filePaths)))
}

// VectorQuery retrieves up to limit context items for command.
func VectorQuery(engineID, command string, limit int) string {
	return fmt.Sprintf("VectorDatabaseQuery(engine=%s, command=%s, limit=%d);", Quote(engineID), Quote(command), limit)
}

// LLM asks a model engine, passing the assembled prompt and temperature.
func LLM(engineID, command string, prompt []Turn, temperature float64) string {
	if prompt == nil {
		prompt = []Turn{}
	}
	return fmt.Sprintf(`LLM(engine=%s, command=%s, paramValues=[{"full_prompt":%s}, {"temperature":%s}]);`,
		Quote(engineID), Quote(command), literal(prompt), strconv.FormatFloat(temperature, 'f', -1, 64))
}

// MyEngines enumerates the engines of one type visible to the user.
func MyEngines(engineType EngineType) string {
	return fmt.Sprintf("MyEngines(engineTypes=%s);", literal([]string{string(engineType)}))
}

// MyProjects lists projects tagged with tag.
func MyProjects(tag string) string {
	filters := []map[string][]string{{"tag": {tag}}}
	return fmt.Sprintf("MyProjects(metaKeys=%s, metaFilters=%s, filterWord=%s);", literal(ProjectMetaKeys), literal(filters), literal([]string{""}))
}

// Quote renders s as a double-quoted literal with JSON escaping.
func Quote(s string) string {
	return literal(s)
}

func literal(v any) string {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// only plain strings, slices and structs reach here
		panic(fmt.Sprintf("pixel: encode literal: %v", err))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
