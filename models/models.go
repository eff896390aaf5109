package models

import (
	"encoding/json"
	"time"
)

// Sentinels substituted for article fields whose markup node is absent.
const (
	NoTitle       = "No title"
	NoDate        = "No date"
	NoDescription = "No description"
	NoLink        = "No link"
	NoImage       = ""
)

// ArticleRecord is one extracted news item. Fields are never empty except
// ImageURL, which is optional.
type ArticleRecord struct {
	Title         string `json:"title"`
	PublishedDate string `json:"published_date"`
	Description   string `json:"description"`
	URL           string `json:"url"`
	ImageURL      string `json:"image_url,omitempty"`
}

// HasImage reports whether the record carries an image URL.
func (a ArticleRecord) HasImage() bool { return a.ImageURL != NoImage }

// ExtractionResult holds records in document order plus the number of
// containers that could not be read at all.
type ExtractionResult struct {
	Records []ArticleRecord `json:"records"`
	Skipped int             `json:"skipped"`
	Seen    int             `json:"seen"`
}

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a planning conversation.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ToolCallRequest asks the orchestrator to invoke a registered tool.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the outcome of one ToolCallRequest, correlated by CallID.
type ToolCallResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Payload string `json:"payload,omitempty"`
	Err     error  `json:"-"`
}

// ToolSpec advertises a tool to the planner model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewsletterDocument is the composed output of a run.
type NewsletterDocument struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// DeliveryStatus is the outcome of a send attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryReceipt records one transactional send attempt.
type DeliveryReceipt struct {
	Recipient string         `json:"recipient"`
	Timestamp time.Time      `json:"timestamp"`
	Status    DeliveryStatus `json:"status"`
	Cause     string         `json:"cause,omitempty"`
}
