package session

import (
	"context"
)

// Store defines the persistence operations for session documents. The
// MongoDB implementation is Repository; tests substitute in-memory fakes.
//
// Read operations that target a missing session or agent return (nil, nil)
// rather than an error, so callers can distinguish "absent" from "failed".
// Write operations against a missing session return a NOT_FOUND error.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, sessionID, sessionType string) (*Session, error)
	ReadSession(ctx context.Context, sessionID string) (*SessionSummary, error)
	SessionViewerPassword(ctx context.Context, sessionID string) (string, error)
	ApplicationName(ctx context.Context, sessionID string) (string, error)

	// Agent operations
	CreateAgent(ctx context.Context, sessionID, agentID string, agentData map[string]interface{}) error
	ReadAgent(ctx context.Context, sessionID, agentID string) (map[string]interface{}, error)
	UpdateAgent(ctx context.Context, sessionID, agentID string, agentData map[string]interface{}) error
	AgentIDs(ctx context.Context, sessionID string) ([]string, error)
	AgentConfigs(ctx context.Context, sessionID string) ([]AgentConfig, error)
	UpdateAgentConfig(ctx context.Context, sessionID, agentID string, model, systemPrompt *string) error

	// Message operations
	CreateMessage(ctx context.Context, sessionID, agentID string, entry *MessageEntry) error
	ReadMessage(ctx context.Context, sessionID, agentID string, messageID int) (*MessageEntry, error)
	UpdateMessage(ctx context.Context, sessionID, agentID string, entry *MessageEntry) error
	ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int) ([]MessageEntry, error)
	MessageCount(ctx context.Context, sessionID, agentID string) (int, error)
	LatestMessageID(ctx context.Context, sessionID, agentID string) (int, bool, error)
	SetMessageMetrics(ctx context.Context, sessionID, agentID string, messageID int, metrics *EventLoopMetrics) error

	// Metadata operations
	UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) error
	GetMetadata(ctx context.Context, sessionID string) (map[string]interface{}, error)
	DeleteMetadata(ctx context.Context, sessionID string, keys []string) error

	// Feedback operations
	AddFeedback(ctx context.Context, sessionID string, entry *FeedbackEntry) error
	ListFeedbacks(ctx context.Context, sessionID string) ([]FeedbackEntry, error)

	// Close releases the underlying client if this store owns it.
	Close(ctx context.Context) error
}
