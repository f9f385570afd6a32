// Package session persists multi-agent conversation sessions in MongoDB.
// Each session is a single document keyed by session id, holding per-agent
// message histories, a free-form metadata bag, and user feedback entries.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// DefaultSessionType is used when a session is created without an explicit type.
const DefaultSessionType = "AGENT"

// Session is the full MongoDB document for one conversation session.
// The document id doubles as the session id.
type Session struct {
	ID                    string                 `bson:"_id" json:"id"`
	SessionID             string                 `bson:"session_id" json:"session_id"`
	SessionType           string                 `bson:"session_type" json:"session_type"`
	ApplicationName       string                 `bson:"application_name,omitempty" json:"application_name,omitempty"`
	SessionViewerPassword string                 `bson:"session_viewer_password" json:"-"`
	CreatedAt             time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time              `bson:"updated_at" json:"updated_at"`
	Agents                map[string]AgentRecord `bson:"agents" json:"agents"`
	Metadata              map[string]interface{} `bson:"metadata" json:"metadata,omitempty"`
	Feedbacks             []FeedbackEntry        `bson:"feedbacks" json:"feedbacks,omitempty"`
}

// AgentRecord holds one agent's configuration snapshot and message history
// inside a session document.
type AgentRecord struct {
	AgentData map[string]interface{} `bson:"agent_data" json:"agent_data"`
	Messages  []MessageEntry         `bson:"messages" json:"messages"`
	CreatedAt time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time              `bson:"updated_at" json:"updated_at"`
}

// MessageEntry is one element of an agent's messages array. MessageID is
// assigned by the caller and is unique per agent, not per session.
type MessageEntry struct {
	MessageID        int               `bson:"message_id" json:"message_id"`
	Message          Message           `bson:"message" json:"message"`
	CreatedAt        time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `bson:"updated_at" json:"updated_at"`
	EventLoopMetrics *EventLoopMetrics `bson:"event_loop_metrics,omitempty" json:"event_loop_metrics,omitempty"`
}

// Message is the agent-runtime message payload. The schema belongs to the
// agent SDK, so it is stored verbatim; accessors cover the fields this
// package needs to inspect.
type Message map[string]interface{}

// Role returns the message role ("user", "assistant", ...) or "" if absent.
func (m Message) Role() string {
	role, _ := m["role"].(string)
	return role
}

// Text extracts the human-readable text of the message. Content is either a
// plain string or a list of content blocks, each optionally carrying a
// "text" field; block texts are joined with newlines.
func (m Message) Text() string {
	switch content := m["content"].(type) {
	case string:
		return content
	case []interface{}:
		var parts []string
		for _, block := range content {
			blockMap, ok := block.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := blockMap["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// FeedbackEntry is one user feedback record on a session. Extra captures any
// additional fields the caller supplied beyond rating and comment.
type FeedbackEntry struct {
	Rating    *string                `bson:"rating,omitempty" json:"rating,omitempty"`
	Comment   string                 `bson:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt time.Time              `bson:"created_at" json:"created_at"`
	Extra     map[string]interface{} `bson:",inline" json:"extra,omitempty"`
}

// RatingValue returns the rating or the "none" sentinel when absent.
func (f *FeedbackEntry) RatingValue() string {
	if f.Rating == nil || *f.Rating == "" {
		return "none"
	}
	return *f.Rating
}

// SessionSummary is the projection returned by session reads that do not
// need agents or metadata.
type SessionSummary struct {
	SessionID       string    `bson:"session_id" json:"session_id"`
	SessionType     string    `bson:"session_type" json:"session_type"`
	ApplicationName string    `bson:"application_name,omitempty" json:"application_name,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

// AgentConfig is the per-agent model/prompt audit pair.
type AgentConfig struct {
	AgentID      string `bson:"agent_id" json:"agent_id"`
	Model        string `bson:"model" json:"model"`
	SystemPrompt string `bson:"system_prompt" json:"system_prompt"`
}

// SessionPresence reports whether a session and one of its agents exist,
// without transferring message bodies.
type SessionPresence struct {
	Exists       bool     `json:"exists"`
	AgentExists  bool     `json:"agent_exists"`
	AgentIDs     []string `json:"agent_ids"`
	MessageCount int      `json:"message_count"`
}

const viewerPasswordBytes = 24

// GenerateViewerPassword returns a 32-character URL-safe random password for
// read-only session viewer access.
func GenerateViewerPassword() (string, error) {
	buf := make([]byte, viewerPasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate viewer password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
