package models

// ChatRequest is the body of POST /documents/:id/chat.
type ChatRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k,omitempty"`
}
