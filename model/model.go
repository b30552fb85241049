// Package model holds the domain records shared across the pipeline
// stages and the closed set of rejection reasons.
package model

import "time"

// Channel is a subscribed broadcast channel. Handles are unique,
// case-insensitive and immutable once assigned.
type Channel struct {
	ID        int64
	Handle    string
	Title     string
	Active    bool
	CreatedAt time.Time
}

// RawMessage is an ingested channel message awaiting processing.
// ChannelHandle is denormalized onto query results for link building.
type RawMessage struct {
	ID              int64
	ChannelID       int64
	ChannelHandle   string
	ExternalID      int64
	Text            string
	OccurredAt      time.Time
	HasMedia        bool
	Processed       bool
	IsDuplicate     bool
	LLMScore        *int
	RejectionReason string
	IngestedAt      time.Time
}

// Published is a digest item that went out, kept for semantic dedup.
type Published struct {
	ID              int64
	Text            string
	Embedding       []float32
	SourceMessageID *int64
	SourceChannelID *int64
	PublishedAt     time.Time
}

// Post is a selected news item flowing through moderation and
// publication.
type Post struct {
	SourceMessageID int64
	SourceChannelID int64
	Title           string
	Description     string
	Text            string
	Reason          string
	Category        string
	SourceLink      string
	Score           int
}

// ProcessedUpdate is one element of a mark_processed batch.
type ProcessedUpdate struct {
	MessageID       int64
	IsDuplicate     bool
	LLMScore        *int
	RejectionReason string
}

// Rejection reasons form a closed set; every processed message that was
// not published carries exactly one of them (or the duplicate flag).
const (
	ReasonExcludeKeywords   = "rejected_by_exclude_keywords"
	ReasonKeywordsMismatch  = "rejected_by_keywords_mismatch"
	ReasonDuplicate         = "is_duplicate"
	ReasonRejectedByLLM     = "rejected_by_llm"
	ReasonRejectedByMod     = "rejected_by_moderator"
	ReasonMissingTitle      = "missing_title"
	ReasonMissingDesc       = "missing_description"
	ReasonMissingText       = "missing_text"
	ReasonDuplicateInFinal  = "duplicate_in_final"
	ReasonExceededTopNLimit = "exceeded_top_n_limit"
	ReasonPublished         = "published"
)

// Sentinel strings filled in by EnsurePostFields when the model returned
// neither a title nor a description and the original text yields none.
const (
	NoTitleSentinel       = "Без заголовка"
	NoDescriptionSentinel = "Описание отсутствует"
)
