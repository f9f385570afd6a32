package session

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
)

// MemoryStore provides in-memory session storage with the same contract as
// the MongoDB repository. It backs unit tests and ephemeral single-process
// deployments. MetadataFields and AppName mirror the repository
// configuration and should be set before first use.
type MemoryStore struct {
	MetadataFields []string
	AppName        string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// CreateSession inserts a new session document.
func (s *MemoryStore) CreateSession(ctx context.Context, sessionID, sessionType string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; exists {
		return nil, apperrors.Conflict("session '" + sessionID + "' already exists")
	}
	if sessionType == "" {
		sessionType = DefaultSessionType
	}
	password, err := GenerateViewerPassword()
	if err != nil {
		return nil, apperrors.InternalError("failed to generate session viewer password", err)
	}

	metadata := make(map[string]interface{})
	for _, field := range normalizeMetadataFields(s.MetadataFields) {
		metadata[field] = ""
	}

	now := time.Now().UTC()
	doc := &Session{
		ID:                    sessionID,
		SessionID:             sessionID,
		SessionType:           sessionType,
		ApplicationName:       s.AppName,
		SessionViewerPassword: password,
		CreatedAt:             now,
		UpdatedAt:             now,
		Agents:                map[string]AgentRecord{},
		Metadata:              metadata,
		Feedbacks:             []FeedbackEntry{},
	}
	s.sessions[sessionID] = doc

	copied := *doc
	return &copied, nil
}

// ReadSession returns the session summary, or (nil, nil) when absent.
func (s *MemoryStore) ReadSession(ctx context.Context, sessionID string) (*SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &SessionSummary{
		SessionID:       doc.SessionID,
		SessionType:     doc.SessionType,
		ApplicationName: doc.ApplicationName,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

// SessionViewerPassword returns the stored viewer password, "" when absent.
func (s *MemoryStore) SessionViewerPassword(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return "", nil
	}
	return doc.SessionViewerPassword, nil
}

// ApplicationName returns the session's application name, "" when absent.
func (s *MemoryStore) ApplicationName(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return "", nil
	}
	return doc.ApplicationName, nil
}

// CreateAgent sets a fresh agent record on the session.
func (s *MemoryStore) CreateAgent(ctx context.Context, sessionID, agentID string, agentData map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}
	now := time.Now().UTC()
	doc.Agents[agentID] = AgentRecord{
		AgentData: copyMap(agentData),
		Messages:  []MessageEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.UpdatedAt = now
	return nil
}

// ReadAgent returns the agent's SDK-level state with derived fields
// stripped, or (nil, nil) when absent.
func (s *MemoryStore) ReadAgent(ctx context.Context, sessionID, agentID string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	record, ok := doc.Agents[agentID]
	if !ok {
		return nil, nil
	}
	agentData := copyMap(record.AgentData)
	for _, field := range derivedAgentFields {
		delete(agentData, field)
	}
	return agentData, nil
}

// UpdateAgent replaces the agent's state, preserving its created_at.
func (s *MemoryStore) UpdateAgent(ctx context.Context, sessionID, agentID string, agentData map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}
	now := time.Now().UTC()
	record := doc.Agents[agentID]
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.AgentData = copyMap(agentData)
	record.UpdatedAt = now
	doc.Agents[agentID] = record
	doc.UpdatedAt = now
	return nil
}

// AgentIDs lists agent ids sorted, or (nil, nil) when the session is
// absent.
func (s *MemoryStore) AgentIDs(ctx context.Context, sessionID string) ([]string, error) {
	configs, err := s.AgentConfigs(ctx, sessionID)
	if err != nil || configs == nil {
		return nil, err
	}
	ids := make([]string, 0, len(configs))
	for _, config := range configs {
		ids = append(ids, config.AgentID)
	}
	return ids, nil
}

// AgentConfigs returns each agent's model/prompt pair sorted by agent id,
// or (nil, nil) when the session is absent.
func (s *MemoryStore) AgentConfigs(ctx context.Context, sessionID string) ([]AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	configs := make([]AgentConfig, 0, len(doc.Agents))
	for agentID, record := range doc.Agents {
		model, _ := record.AgentData["model"].(string)
		systemPrompt, _ := record.AgentData["system_prompt"].(string)
		configs = append(configs, AgentConfig{
			AgentID:      agentID,
			Model:        model,
			SystemPrompt: systemPrompt,
		})
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].AgentID < configs[j].AgentID })
	return configs, nil
}

// UpdateAgentConfig writes the non-nil fields into the agent's state.
func (s *MemoryStore) UpdateAgentConfig(ctx context.Context, sessionID, agentID string, model, systemPrompt *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	record, ok := doc.Agents[agentID]
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	if record.AgentData == nil {
		record.AgentData = map[string]interface{}{}
	}
	if model != nil {
		record.AgentData["model"] = *model
	}
	if systemPrompt != nil {
		record.AgentData["system_prompt"] = *systemPrompt
	}
	now := time.Now().UTC()
	record.UpdatedAt = now
	doc.Agents[agentID] = record
	doc.UpdatedAt = now
	return nil
}

// CreateMessage appends the entry to the agent's history, stamping both
// timestamps. A missing agent record is created implicitly, matching the
// document store's path-creating update.
func (s *MemoryStore) CreateMessage(ctx context.Context, sessionID, agentID string, entry *MessageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	record := doc.Agents[agentID]
	record.Messages = append(record.Messages, *entry)
	record.UpdatedAt = now
	doc.Agents[agentID] = record
	doc.UpdatedAt = now
	return nil
}

// ReadMessage returns one message by id with metrics stripped, or
// (nil, nil) when absent.
func (s *MemoryStore) ReadMessage(ctx context.Context, sessionID, agentID string, messageID int) (*MessageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	record, ok := doc.Agents[agentID]
	if !ok {
		return nil, nil
	}
	for i := range record.Messages {
		if record.Messages[i].MessageID == messageID {
			entry := record.Messages[i]
			entry.EventLoopMetrics = nil
			return &entry, nil
		}
	}
	return nil, nil
}

// UpdateMessage replaces the entry matching entry.MessageID, preserving its
// created_at.
func (s *MemoryStore) UpdateMessage(ctx context.Context, sessionID, agentID string, entry *MessageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	record, ok := doc.Agents[agentID]
	if !ok {
		return apperrors.NotFound("agent", agentID)
	}
	now := time.Now().UTC()
	for i := range record.Messages {
		if record.Messages[i].MessageID == entry.MessageID {
			entry.CreatedAt = record.Messages[i].CreatedAt
			entry.UpdatedAt = now
			record.Messages[i] = *entry
			record.UpdatedAt = now
			doc.Agents[agentID] = record
			doc.UpdatedAt = now
			return nil
		}
	}
	return apperrors.NotFound("message", strconv.Itoa(entry.MessageID))
}

// ListMessages returns messages sorted ascending by created_at with
// pagination, metrics stripped.
func (s *MemoryStore) ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int) ([]MessageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return []MessageEntry{}, nil
	}
	record, ok := doc.Agents[agentID]
	if !ok {
		return []MessageEntry{}, nil
	}

	messages := make([]MessageEntry, len(record.Messages))
	copy(messages, record.Messages)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(messages) {
		return []MessageEntry{}, nil
	}
	messages = messages[offset:]
	if limit > 0 && limit < len(messages) {
		messages = messages[:limit]
	}
	for i := range messages {
		messages[i].EventLoopMetrics = nil
	}
	return messages, nil
}

// MessageCount returns the agent's message count, 0 when absent.
func (s *MemoryStore) MessageCount(ctx context.Context, sessionID, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return 0, nil
	}
	return len(doc.Agents[agentID].Messages), nil
}

// LatestMessageID returns the id of the most recently appended message.
func (s *MemoryStore) LatestMessageID(ctx context.Context, sessionID, agentID string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return 0, false, nil
	}
	messages := doc.Agents[agentID].Messages
	if len(messages) == 0 {
		return 0, false, nil
	}
	return messages[len(messages)-1].MessageID, true, nil
}

// SetMessageMetrics attaches metrics to the message matching messageID.
func (s *MemoryStore) SetMessageMetrics(ctx context.Context, sessionID, agentID string, messageID int, metrics *EventLoopMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("message", strconv.Itoa(messageID))
	}
	record, ok := doc.Agents[agentID]
	if !ok {
		return apperrors.NotFound("message", strconv.Itoa(messageID))
	}
	now := time.Now().UTC()
	for i := range record.Messages {
		if record.Messages[i].MessageID == messageID {
			record.Messages[i].EventLoopMetrics = metrics
			record.Messages[i].UpdatedAt = now
			record.UpdatedAt = now
			doc.Agents[agentID] = record
			doc.UpdatedAt = now
			return nil
		}
	}
	return apperrors.NotFound("message", strconv.Itoa(messageID))
}

// UpdateMetadata merges the given keys into the metadata bag and bumps the
// session timestamp.
func (s *MemoryStore) UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]interface{}{}
	}
	for key, value := range metadata {
		doc.Metadata[key] = value
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// GetMetadata returns a copy of the metadata bag, (nil, nil) when the
// session is absent.
func (s *MemoryStore) GetMetadata(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return copyMap(doc.Metadata), nil
}

// DeleteMetadata removes the listed keys from the metadata bag and bumps
// the session timestamp.
func (s *MemoryStore) DeleteMetadata(ctx context.Context, sessionID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}
	for _, key := range keys {
		delete(doc.Metadata, key)
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// AddFeedback appends the entry, stamping its created_at.
func (s *MemoryStore) AddFeedback(ctx context.Context, sessionID string, entry *FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	doc.Feedbacks = append(doc.Feedbacks, *entry)
	doc.UpdatedAt = now
	return nil
}

// ListFeedbacks returns feedback entries in insertion order, (nil, nil)
// when the session is absent.
func (s *MemoryStore) ListFeedbacks(ctx context.Context, sessionID string) ([]FeedbackEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	feedbacks := make([]FeedbackEntry, len(doc.Feedbacks))
	copy(feedbacks, doc.Feedbacks)
	return feedbacks, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func copyMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
