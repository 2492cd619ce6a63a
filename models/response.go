package models

type IngestDocumentResponse struct {
	Message  string       `json:"message"`
	Document DocumentInfo `json:"document"`
	Error    string       `json:"error,omitempty"`
}

type ListDocumentsResponse struct {
	Count     int            `json:"count"`
	Documents []DocumentInfo `json:"documents"`
}

// SourceDocument represents a retrieved chunk and its rank in the document.
type SourceDocument struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type QueryRAGResponse struct {
	Answer     string           `json:"answer"`
	SourceDocs []SourceDocument `json:"source_docs,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

type ParagraphSummariesResponse struct {
	Summaries []string `json:"summaries"`
	Error     string   `json:"error,omitempty"`
}

type ClausesResponse struct {
	Count   int      `json:"count"`
	Clauses []Clause `json:"clauses"`
}

// ErrorResponse carries a typed failure back to HTTP callers.
type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  ErrorKind `json:"kind,omitempty"`
}
