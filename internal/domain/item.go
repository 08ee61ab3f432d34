package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// WorkItem is one post awaiting processing by a stage
type WorkItem struct {
	ID           string    `db:"id" json:"id"`
	Platform     string    `db:"platform" json:"platform"`
	Title        string    `db:"title" json:"title"`
	Body         string    `db:"body" json:"body"`
	Author       string    `db:"author" json:"author"`
	URL          string    `db:"url" json:"url"`
	Score        int       `db:"score" json:"score"`
	CommentCount int       `db:"comment_count" json:"comment_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`

	// Prior is the output of the stage this stage requires, if any
	Prior RawJSON `db:"prior_output" json:"prior,omitempty"`
}

// Text returns the title and body joined for analysis
func (w WorkItem) Text() string {
	title := strings.TrimSpace(w.Title)
	body := strings.TrimSpace(w.Body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n\n" + body
	}
}

// PriorSentiment returns the sentiment recorded by an earlier stage
func (w WorkItem) PriorSentiment() (float64, bool) {
	if len(w.Prior) == 0 {
		return 0, false
	}
	var prior struct {
		Sentiment *float64 `json:"sentiment"`
	}
	if err := json.Unmarshal(w.Prior, &prior); err != nil || prior.Sentiment == nil {
		return 0, false
	}
	return *prior.Sentiment, true
}

// Cursor returns the keyset position of the item
func (w WorkItem) Cursor() ItemCursor {
	return ItemCursor{CreatedAt: w.CreatedAt, ID: w.ID}
}

// ItemCursor is a keyset position in (created_at DESC, id DESC) order
type ItemCursor struct {
	CreatedAt time.Time
	ID        string
}

// Admits reports whether an item at (createdAt, id) comes after the cursor
// in (created_at DESC, id DESC) order. A nil cursor admits everything.
func (c *ItemCursor) Admits(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// ItemFilter narrows the posts a stage processes
type ItemFilter struct {
	Platform string
	Since    *time.Time
	MinScore int
}

// Matches reports whether an item passes the filter
func (f ItemFilter) Matches(item WorkItem) bool {
	if f.Platform != "" && item.Platform != f.Platform {
		return false
	}
	if f.Since != nil && item.CreatedAt.Before(*f.Since) {
		return false
	}
	return f.MinScore <= 0 || item.Score >= f.MinScore
}

// StageResult is the persisted output of one stage for one post
type StageResult struct {
	PostID      string    `db:"post_id" json:"post_id"`
	Stage       string    `db:"stage" json:"stage"`
	Output      RawJSON   `db:"output" json:"output"`
	Fallback    bool      `db:"fallback" json:"fallback"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}
