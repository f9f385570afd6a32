package session

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// agent_data fields maintained by SyncAgent rather than the agent SDK.
// ReadAgent strips them so restored agent state matches the SDK schema.
var derivedAgentFields = []string{"model", "system_prompt"}

// RepositoryConfig configures a Repository. Exactly one of Client and
// ConnectionString must be set: a provided client is borrowed and never
// closed, a connection string produces an owned client.
type RepositoryConfig struct {
	ConnectionString string
	Client           *mongo.Client
	Database         string
	Collection       string
	MetadataFields   []string
	ApplicationName  string
	PoolOptions      PoolOptions
	Logger           *logger.Logger
}

// Repository is the MongoDB implementation of Store. One session is one
// document; agents, messages, metadata, and feedbacks are embedded in it.
type Repository struct {
	client          *mongo.Client
	collection      *mongo.Collection
	metadataFields  []string
	applicationName string
	ownsClient      bool
	log             *logger.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository connects to the configured collection and ensures its
// indexes. Index creation failures are logged, not fatal, so a restricted
// database user can still operate.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == "" {
		return nil, apperrors.ValidationError("database", "database name is required")
	}
	if cfg.Collection == "" {
		return nil, apperrors.ValidationError("collection", "collection name is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	client := cfg.Client
	ownsClient := false
	if client == nil {
		if cfg.ConnectionString == "" {
			return nil, apperrors.ValidationError("connection", "either a client or a connection string is required")
		}
		created, err := mongo.Connect(cfg.PoolOptions.clientOptions(cfg.ConnectionString))
		if err != nil {
			return nil, apperrors.StorageError("failed to create mongodb client", err)
		}
		client = created
		ownsClient = true
	}

	r := &Repository{
		client:          client,
		collection:      client.Database(cfg.Database).Collection(cfg.Collection),
		metadataFields:  normalizeMetadataFields(cfg.MetadataFields),
		applicationName: cfg.ApplicationName,
		ownsClient:      ownsClient,
		log:             log,
	}
	r.ensureIndexes(ctx)
	return r, nil
}

// normalizeMetadataFields accepts both bare keys and dotted "metadata.key"
// paths and returns bare keys.
func normalizeMetadataFields(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimPrefix(field, "metadata.")
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func (r *Repository) ensureIndexes(ctx context.Context) {
	keys := []string{"session_id", "created_at", "updated_at", "application_name"}
	for _, field := range r.metadataFields {
		keys = append(keys, "metadata."+field)
	}

	models := make([]mongo.IndexModel, 0, len(keys))
	for _, key := range keys {
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: key, Value: 1}},
		})
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		r.log.Warn("failed to ensure session indexes", zap.Error(err))
		return
	}
	r.log.Debug("session indexes ensured", zap.Int("count", len(models)))
}

// CreateSession inserts a fresh session document with a generated viewer
// password and the configured metadata keys pre-seeded to empty strings.
func (r *Repository) CreateSession(ctx context.Context, sessionID, sessionType string) (*Session, error) {
	if sessionType == "" {
		sessionType = DefaultSessionType
	}
	password, err := GenerateViewerPassword()
	if err != nil {
		return nil, apperrors.InternalError("failed to generate session viewer password", err)
	}

	metadata := make(map[string]interface{}, len(r.metadataFields))
	for _, field := range r.metadataFields {
		metadata[field] = ""
	}

	now := time.Now().UTC()
	doc := &Session{
		ID:                    sessionID,
		SessionID:             sessionID,
		SessionType:           sessionType,
		ApplicationName:       r.applicationName,
		SessionViewerPassword: password,
		CreatedAt:             now,
		UpdatedAt:             now,
		Agents:                map[string]AgentRecord{},
		Metadata:              metadata,
		Feedbacks:             []FeedbackEntry{},
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Conflict("session '" + sessionID + "' already exists")
		}
		return nil, apperrors.StorageError("failed to create session", err)
	}

	r.log.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("session_type", sessionType))
	return doc, nil
}

// ReadSession returns the session summary, or (nil, nil) when absent.
func (r *Repository) ReadSession(ctx context.Context, sessionID string) (*SessionSummary, error) {
	projection := bson.D{
		{Key: "session_id", Value: 1},
		{Key: "session_type", Value: 1},
		{Key: "application_name", Value: 1},
		{Key: "created_at", Value: 1},
		{Key: "updated_at", Value: 1},
	}

	var summary SessionSummary
	err := r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}},
		options.FindOne().SetProjection(projection)).Decode(&summary)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, apperrors.StorageError("failed to read session", err)
	}
	return &summary, nil
}

// SessionViewerPassword returns the stored viewer password, or "" when the
// session does not exist.
func (r *Repository) SessionViewerPassword(ctx context.Context, sessionID string) (string, error) {
	return r.readScalar(ctx, sessionID, "session_viewer_password")
}

// ApplicationName returns the session's application name, or "" when the
// session does not exist.
func (r *Repository) ApplicationName(ctx context.Context, sessionID string) (string, error) {
	return r.readScalar(ctx, sessionID, "application_name")
}

func (r *Repository) readScalar(ctx context.Context, sessionID, field string) (string, error) {
	var doc map[string]interface{}
	err := r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}},
		options.FindOne().SetProjection(bson.D{{Key: field, Value: 1}})).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", nil
		}
		return "", apperrors.StorageError("failed to read "+field, err)
	}
	value, _ := doc[field].(string)
	return value, nil
}

// CreateAgent sets agents.<agentID> to a fresh record with an empty message
// history and bumps the session timestamp.
func (r *Repository) CreateAgent(ctx context.Context, sessionID, agentID string, agentData map[string]interface{}) error {
	if agentData == nil {
		agentData = map[string]interface{}{}
	}
	now := time.Now().UTC()
	record := AgentRecord{
		AgentData: agentData,
		Messages:  []MessageEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "agents." + agentID, Value: record},
			{Key: "updated_at", Value: now},
		}}})
	if err != nil {
		return apperrors.StorageError("failed to create agent", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("session", sessionID)
	}

	r.log.Debug("agent created",
		zap.String("session_id", sessionID),
		zap.String("agent_id", agentID))
	return nil
}

// ReadAgent returns the agent's SDK-level state, or (nil, nil) when the
// session or agent is absent. Fields maintained by SyncAgent are stripped.
func (r *Repository) ReadAgent(ctx context.Context, sessionID, agentID string) (map[string]interface{}, error) {
	record, err := r.readAgentRecord(ctx, sessionID, agentID, "agents."+agentID+".agent_data")
	if err != nil || record == nil {
		return nil, err
	}

	agentData := make(map[string]interface{}, len(record.AgentData))
	for key, value := range record.AgentData {
		agentData[key] = value
	}
	for _, field := range derivedAgentFields {
		delete(agentData, field)
	}
	return agentData, nil
}

// readAgentRecord fetches one agent subdocument using the given projection
// path. Returns (nil, nil) when the session or agent is absent.
func (r *Repository) readAgentRecord(ctx context.Context, sessionID, agentID, projection string) (*AgentRecord, error) {
	var doc struct {
		Agents map[string]AgentRecord `bson:"agents"`
	}
	err := r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}},
		options.FindOne().SetProjection(bson.D{{Key: projection, Value: 1}})).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, apperrors.StorageError("failed to read agent", err)
	}
	record, ok := doc.Agents[agentID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// UpdateAgent replaces the agent's state while preserving its original
// created_at timestamp.
func (r *Repository) UpdateAgent(ctx context.Context, sessionID, agentID string, agentData map[string]interface{}) error {
	if agentData == nil {
		agentData = map[string]interface{}{}
	}
	now := time.Now().UTC()

	createdAt := now
	record, err := r.readAgentRecord(ctx, sessionID, agentID, "agents."+agentID+".created_at")
	if err != nil {
		return err
	}
	if record != nil && !record.CreatedAt.IsZero() {
		createdAt = record.CreatedAt
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "agents." + agentID + ".agent_data", Value: agentData},
			{Key: "agents." + agentID + ".created_at", Value: createdAt},
			{Key: "agents." + agentID + ".updated_at", Value: now},
			{Key: "updated_at", Value: now},
		}}})
	if err != nil {
		return apperrors.StorageError("failed to update agent", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("session", sessionID)
	}
	return nil
}

// AgentIDs lists the agent ids present in the session, or (nil, nil) when
// the session is absent.
func (r *Repository) AgentIDs(ctx context.Context, sessionID string) ([]string, error) {
	configs, err := r.AgentConfigs(ctx, sessionID)
	if err != nil || configs == nil {
		return nil, err
	}
	ids := make([]string, 0, len(configs))
	for _, config := range configs {
		ids = append(ids, config.AgentID)
	}
	return ids, nil
}

// AgentConfigs returns each agent's model/prompt audit pair without
// transferring message histories. Returns (nil, nil) when the session is
// absent.
func (r *Repository) AgentConfigs(ctx context.Context, sessionID string) ([]AgentConfig, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "_id", Value: sessionID}}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "agents", Value: bson.D{{Key: "$map", Value: bson.D{
				{Key: "input", Value: bson.D{{Key: "$objectToArray", Value: "$agents"}}},
				{Key: "as", Value: "agent"},
				{Key: "in", Value: bson.D{
					{Key: "agent_id", Value: "$$agent.k"},
					{Key: "model", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$$agent.v.agent_data.model", ""}}}},
					{Key: "system_prompt", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$$agent.v.agent_data.system_prompt", ""}}}},
				}},
			}}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperrors.StorageError("failed to list agents", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Agents []AgentConfig `bson:"agents"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperrors.StorageError("failed to decode agent list", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	configs := docs[0].Agents
	sort.Slice(configs, func(i, j int) bool { return configs[i].AgentID < configs[j].AgentID })
	if configs == nil {
		configs = []AgentConfig{}
	}
	return configs, nil
}

// UpdateAgentConfig writes model and/or system prompt into the agent's
// state. A nil field is left untouched; passing both as nil only bumps
// timestamps.
func (r *Repository) UpdateAgentConfig(ctx context.Context, sessionID, agentID string, model, systemPrompt *string) error {
	now := time.Now().UTC()
	set := bson.D{
		{Key: "agents." + agentID + ".updated_at", Value: now},
		{Key: "updated_at", Value: now},
	}
	if model != nil {
		set = append(set, bson.E{Key: "agents." + agentID + ".agent_data.model", Value: *model})
	}
	if systemPrompt != nil {
		set = append(set, bson.E{Key: "agents." + agentID + ".agent_data.system_prompt", Value: *systemPrompt})
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: sessionID},
			{Key: "agents." + agentID, Value: bson.D{{Key: "$exists", Value: true}}},
		},
		bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return apperrors.StorageError("failed to update agent config", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("agent", agentID)
	}
	return nil
}

// CreateMessage appends the entry to the agent's message history. Both
// timestamps are stamped here.
func (r *Repository) CreateMessage(ctx context.Context, sessionID, agentID string, entry *MessageEntry) error {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	result, err := r.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}},
		bson.D{
			{Key: "$push", Value: bson.D{{Key: "agents." + agentID + ".messages", Value: entry}}},
			{Key: "$set", Value: bson.D{
				{Key: "agents." + agentID + ".updated_at", Value: now},
				{Key: "updated_at", Value: now},
			}},
		})
	if err != nil {
		return apperrors.StorageError("failed to create message", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("session", sessionID)
	}

	r.log.Debug("message created",
		zap.String("session_id", sessionID),
		zap.String("agent_id", agentID),
		zap.Int("message_id", entry.MessageID))
	return nil
}

// ReadMessage returns one message by id, or (nil, nil) when the session,
// agent, or message is absent. Stored metrics are stripped so the result
// matches the SDK message schema.
func (r *Repository) ReadMessage(ctx context.Context, sessionID, agentID string, messageID int) (*MessageEntry, error) {
	record, err := r.readAgentRecord(ctx, sessionID, agentID, "agents."+agentID+".messages")
	if err != nil || record == nil {
		return nil, err
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

// UpdateMessage replaces the entry matching entry.MessageID, preserving the
// original created_at.
func (r *Repository) UpdateMessage(ctx context.Context, sessionID, agentID string, entry *MessageEntry) error {
	record, err := r.readAgentRecord(ctx, sessionID, agentID, "agents."+agentID+".messages")
	if err != nil {
		return err
	}
	if record == nil {
		return apperrors.NotFound("agent", agentID)
	}

	index := -1
	now := time.Now().UTC()
	for i := range record.Messages {
		if record.Messages[i].MessageID == entry.MessageID {
			index = i
			entry.CreatedAt = record.Messages[i].CreatedAt
			if entry.CreatedAt.IsZero() {
				entry.CreatedAt = now
			}
			entry.UpdatedAt = now
			break
		}
	}
	if index == -1 {
		return apperrors.NotFound("message", strconv.Itoa(entry.MessageID))
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "agents." + agentID + ".messages." + strconv.Itoa(index), Value: entry},
			{Key: "agents." + agentID + ".updated_at", Value: now},
			{Key: "updated_at", Value: now},
		}}})
	if err != nil {
		return apperrors.StorageError("failed to update message", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("session", sessionID)
	}
	return nil
}

// ListMessages returns the agent's messages sorted ascending by created_at.
// A limit of zero or less means no limit; pagination is applied after the
// sort. Metrics are stripped from the returned entries.
func (r *Repository) ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int) ([]MessageEntry, error) {
	record, err := r.readAgentRecord(ctx, sessionID, agentID, "agents."+agentID+".messages")
	if err != nil {
		return nil, err
	}
	if record == nil {
		r.log.Warn("listing messages for unknown agent",
			zap.String("session_id", sessionID),
			zap.String("agent_id", agentID))
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

// MessageCount returns the agent's message count; 0 when the session or
// agent is absent.
func (r *Repository) MessageCount(ctx context.Context, sessionID, agentID string) (int, error) {
	record, err := r.readAgentRecord(ctx, sessionID, agentID, "agents."+agentID+".messages.message_id")
	if err != nil || record == nil {
		return 0, err
	}
	return len(record.Messages), nil
}

// LatestMessageID returns the id of the most recently appended message. The
// boolean reports whether any message exists.
func (r *Repository) LatestMessageID(ctx context.Context, sessionID, agentID string) (int, bool, error) {
	var doc struct {
		Agents map[string]AgentRecord `bson:"agents"`
	}
	err := r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}},
		options.FindOne().SetProjection(bson.D{
			{Key: "agents." + agentID + ".messages", Value: bson.D{{Key: "$slice", Value: -1}}},
		})).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, false, nil
		}
		return 0, false, apperrors.StorageError("failed to read latest message", err)
	}
	record, ok := doc.Agents[agentID]
	if !ok || len(record.Messages) == 0 {
		return 0, false, nil
	}
	return record.Messages[len(record.Messages)-1].MessageID, true, nil
}

// SetMessageMetrics attaches event loop metrics to the message matching
// messageID. The write is a single positional update.
func (r *Repository) SetMessageMetrics(ctx context.Context, sessionID, agentID string, messageID int, metrics *EventLoopMetrics) error {
	now := time.Now().UTC()
	result, err := r.collection.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: sessionID},
			{Key: "agents." + agentID + ".messages.message_id", Value: messageID},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "agents." + agentID + ".messages.$.event_loop_metrics", Value: metrics},
			{Key: "agents." + agentID + ".messages.$.updated_at", Value: now},
			{Key: "agents." + agentID + ".updated_at", Value: now},
			{Key: "updated_at", Value: now},
		}}})
	if err != nil {
		return apperrors.StorageError("failed to write message metrics", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("message", strconv.Itoa(messageID))
	}
	return nil
}

// UpdateMetadata merges the given keys into the metadata bag using dotted
// paths, leaving other keys untouched, and bumps the session timestamp.
func (r *Repository) UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) error {
	if len(metadata) == 0 {
		return nil
	}
	set := bson.D{}
	for key, value := range metadata {
		set = append(set, bson.E{Key: "metadata." + key, Value: value})
	}
	set = append(set, bson.E{Key: "updated_at", Value: time.Now().UTC()})

	result, err := r.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}},
		bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return apperrors.StorageError("failed to update metadata", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("session", sessionID)
	}
	return nil
}

// GetMetadata returns the full metadata bag; (nil, nil) when the session is
// absent, an empty map when present but empty.
func (r *Repository) GetMetadata(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	var doc struct {
		Metadata map[string]interface{} `bson:"metadata"`
	}
	err := r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}},
		options.FindOne().SetProjection(bson.D{{Key: "metadata", Value: 1}})).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, apperrors.StorageError("failed to read metadata", err)
	}
	if doc.Metadata == nil {
		return map[string]interface{}{}, nil
	}
	return doc.Metadata, nil
}

// DeleteMetadata removes exactly the listed keys from the metadata bag and
// bumps the session timestamp.
func (r *Repository) DeleteMetadata(ctx context.Context, sessionID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	unset := bson.D{}
	for _, key := range keys {
		unset = append(unset, bson.E{Key: "metadata." + key, Value: ""})
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}},
		bson.D{
			{Key: "$unset", Value: unset},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
		})
	if err != nil {
		return apperrors.StorageError("failed to delete metadata", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("session", sessionID)
	}
	return nil
}

// AddFeedback appends the entry to the session's feedbacks and bumps the
// session timestamp. The entry's created_at is stamped here.
func (r *Repository) AddFeedback(ctx context.Context, sessionID string, entry *FeedbackEntry) error {
	now := time.Now().UTC()
	entry.CreatedAt = now

	result, err := r.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}},
		bson.D{
			{Key: "$push", Value: bson.D{{Key: "feedbacks", Value: entry}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
		})
	if err != nil {
		return apperrors.StorageError("failed to add feedback", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NotFound("session", sessionID)
	}
	return nil
}

// ListFeedbacks returns feedback entries in insertion order; (nil, nil) when
// the session is absent.
func (r *Repository) ListFeedbacks(ctx context.Context, sessionID string) ([]FeedbackEntry, error) {
	var doc struct {
		Feedbacks []FeedbackEntry `bson:"feedbacks"`
	}
	err := r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}},
		options.FindOne().SetProjection(bson.D{{Key: "feedbacks", Value: 1}})).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, apperrors.StorageError("failed to read feedbacks", err)
	}
	if doc.Feedbacks == nil {
		return []FeedbackEntry{}, nil
	}
	return doc.Feedbacks, nil
}

// Collection exposes the underlying collection for read-side components
// that query session documents directly.
func (r *Repository) Collection() *mongo.Collection {
	return r.collection
}

// Close disconnects the client when this repository owns it. Borrowed
// clients are left to their owner.
func (r *Repository) Close(ctx context.Context) error {
	if !r.ownsClient {
		r.log.Debug("skipping close of shared mongodb client")
		return nil
	}
	if err := r.client.Disconnect(ctx); err != nil {
		return apperrors.StorageError("failed to close mongodb client", err)
	}
	r.log.Info("mongodb connection closed")
	return nil
}
