package model

// Document is one transcript as seen by the index
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AnswerSource is a document that contributed to an answer
type AnswerSource struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

// Answer is the index engine's response to a query
type Answer struct {
	Text    string         `json:"answer"`
	Sources []AnswerSource `json:"sources"`
}
