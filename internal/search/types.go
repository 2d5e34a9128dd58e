// Package search runs hybrid retrieval: a semantic leg over the vector
// index and a lexical leg over the full-text index, fused per chunk and
// aggregated per file. Multimodal entry points convert voice and image
// payloads to text first.
package search

import (
	"time"

	"github.com/loupehq/loupe/internal/store"
)

// Type selects which legs run.
type Type string

const (
	TypeSemantic Type = "semantic"
	TypeFullText Type = "fulltext"
	TypeHybrid   Type = "hybrid"
)

// Valid reports whether t is a known search type.
func (t Type) Valid() bool {
	switch t {
	case TypeSemantic, TypeFullText, TypeHybrid:
		return true
	}
	return false
}

// InputType is how the query arrived.
type InputType string

const (
	InputText  InputType = "text"
	InputVoice InputType = "voice"
	InputImage InputType = "image"
)

// MatchType records which leg produced a result.
type MatchType string

const (
	MatchSemantic MatchType = "semantic"
	MatchFullText MatchType = "fulltext"
	MatchHybrid   MatchType = "hybrid"
)

// Request is a text search.
type Request struct {
	Query     string
	Type      Type
	Limit     int
	Offset    int
	Threshold float64 // minimum semantic similarity
	FileTypes []string
}

// MultimodalRequest is a voice or image search.
type MultimodalRequest struct {
	InputType InputType
	Payload   []byte
	Type      Type
	Limit     int
	Offset    int
	Threshold float64
	FileTypes []string
}

// Result is one file-level hit.
type Result struct {
	FileID         int64          `json:"file_id"`
	FileName       string         `json:"file_name"`
	FilePath       string         `json:"file_path"`
	FileType       store.FileType `json:"file_type"`
	RelevanceScore float64        `json:"relevance_score"`
	PreviewText    string         `json:"preview_text"`
	Highlight      string         `json:"highlight"`
	MatchType      MatchType      `json:"match_type"`
	FileSize       int64          `json:"file_size"`
	CreatedAt      time.Time      `json:"created_at"`
	ModifiedAt     time.Time      `json:"modified_at"`
}

// Response is the outcome of a search.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	// Warning is set when one leg of a hybrid search degraded.
	Warning string `json:"warning,omitempty"`
	// ConvertedText and Confidence are set by multimodal searches.
	ConvertedText string  `json:"converted_text,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	ElapsedMS     int64   `json:"elapsed_ms"`
}

// candidate is a per-chunk fusion record.
type candidate struct {
	chunkID   int64
	fileID    int64
	score     float64
	matchType MatchType
	// normalized marks scores on the bounded similarity scale; only
	// those are clamped after the hybrid boost.
	normalized bool
	// matchedTerm is the best lexical term for highlight centering.
	matchedTerm string
}
