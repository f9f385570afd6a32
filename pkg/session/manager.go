package session

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// ManagerConfig configures a session Manager. Exactly one of Client and
// ConnectionString must be set; a provided client is shared and survives
// Close, a connection string produces a client owned by this manager.
type ManagerConfig struct {
	SessionID        string
	SessionType      string
	ConnectionString string
	Client           *mongo.Client
	Database         string
	Collection       string
	MetadataFields   []string
	ApplicationName  string
	PoolOptions      PoolOptions

	// Hooks observe successful metadata/feedback writes asynchronously;
	// validators vet them synchronously before storage.
	MetadataHooks      []HookFunc
	MetadataValidators []ValidatorFunc
	FeedbackHooks      []HookFunc
	FeedbackValidators []ValidatorFunc

	// Dispatcher shares one hook worker pool across managers. When nil and
	// hooks are configured, the manager starts a private dispatcher and
	// stops it on Close.
	Dispatcher *Dispatcher

	Logger *logger.Logger
}

// AgentState is the per-agent snapshot persisted by SyncAgent after a turn.
type AgentState struct {
	AgentID      string
	AgentData    map[string]interface{}
	Model        string
	SystemPrompt string
	Metrics      *MetricsSummary
}

// Manager is the session-scoped handle used by the agent runtime. It wraps a
// Store with per-turn sync, message id assignment, and hook-decorated
// metadata/feedback operations. Construction ensures the session document
// exists.
type Manager struct {
	sessionID      string
	store          Store
	metadata       metadataOps
	feedback       feedbackOps
	dispatcher     *Dispatcher
	ownsDispatcher bool
	log            *logger.Logger
}

// NewManager builds a manager backed by a MongoDB repository.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.SessionID == "" {
		return nil, apperrors.ValidationError("session_id", "session id is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithSessionID(cfg.SessionID)

	store, err := NewRepository(ctx, RepositoryConfig{
		ConnectionString: cfg.ConnectionString,
		Client:           cfg.Client,
		Database:         cfg.Database,
		Collection:       cfg.Collection,
		MetadataFields:   cfg.MetadataFields,
		ApplicationName:  cfg.ApplicationName,
		PoolOptions:      cfg.PoolOptions,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}

	manager, err := newManagerWithStore(ctx, cfg, store, log)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return manager, nil
}

// newManagerWithStore wires hooks and ensures the session document exists.
// Tests use it to run the manager against a fake store.
func newManagerWithStore(ctx context.Context, cfg ManagerConfig, store Store, log *logger.Logger) (*Manager, error) {
	m := &Manager{
		sessionID:  cfg.SessionID,
		store:      store,
		dispatcher: cfg.Dispatcher,
		log:        log,
	}

	if m.dispatcher == nil && len(cfg.MetadataHooks)+len(cfg.FeedbackHooks) > 0 {
		m.dispatcher = NewDispatcher(1, log)
		m.ownsDispatcher = true
	}

	m.metadata = &storeMetadataOps{sessionID: cfg.SessionID, store: store}
	if len(cfg.MetadataHooks) > 0 || len(cfg.MetadataValidators) > 0 {
		m.metadata = &hookedMetadataOps{
			inner:      m.metadata,
			sessionID:  cfg.SessionID,
			hooks:      cfg.MetadataHooks,
			validators: cfg.MetadataValidators,
			dispatcher: m.dispatcher,
		}
	}

	m.feedback = &storeFeedbackOps{sessionID: cfg.SessionID, store: store}
	if len(cfg.FeedbackHooks) > 0 || len(cfg.FeedbackValidators) > 0 {
		m.feedback = &hookedFeedbackOps{
			inner:      m.feedback,
			sessionID:  cfg.SessionID,
			hooks:      cfg.FeedbackHooks,
			validators: cfg.FeedbackValidators,
			dispatcher: m.dispatcher,
		}
	}

	summary, err := store.ReadSession(ctx, cfg.SessionID)
	if err != nil {
		m.stopOwnedDispatcher()
		return nil, err
	}
	if summary == nil {
		if _, err := store.CreateSession(ctx, cfg.SessionID, cfg.SessionType); err != nil {
			// A concurrent manager may have created it between the read
			// and the insert.
			if !apperrors.IsConflict(err) {
				m.stopOwnedDispatcher()
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Manager) stopOwnedDispatcher() {
	if m.ownsDispatcher && m.dispatcher != nil {
		m.dispatcher.Close()
	}
}

// SessionID returns the session this manager is bound to.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// SyncAgent persists the agent's state after a turn. It upserts the agent
// record, attaches event loop metrics to the latest message when the
// summary carries a positive latency, and always refreshes the model and
// system prompt audit fields.
func (m *Manager) SyncAgent(ctx context.Context, state *AgentState) error {
	if state == nil || state.AgentID == "" {
		return apperrors.ValidationError("agent_id", "agent id is required")
	}

	existing, err := m.store.ReadAgent(ctx, m.sessionID, state.AgentID)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := m.store.CreateAgent(ctx, m.sessionID, state.AgentID, state.AgentData); err != nil {
			return err
		}
	} else {
		if err := m.store.UpdateAgent(ctx, m.sessionID, state.AgentID, state.AgentData); err != nil {
			return err
		}
	}

	if state.Metrics != nil && state.Metrics.AccumulatedMetrics.LatencyMs > 0 {
		if err := m.attachMetrics(ctx, state.AgentID, state.Metrics); err != nil {
			return err
		}
	}

	model := state.Model
	if model == "" {
		model = extractModelID(state.AgentData)
	}
	if model != "" || state.SystemPrompt != "" {
		var modelPtr, systemPrompt *string
		if model != "" {
			modelPtr = &model
		}
		if state.SystemPrompt != "" {
			systemPrompt = &state.SystemPrompt
		}
		if err := m.store.UpdateAgentConfig(ctx, m.sessionID, state.AgentID, modelPtr, systemPrompt); err != nil {
			return err
		}
	}

	m.log.Debug("agent synced", zap.String("agent_id", state.AgentID))
	return nil
}

// extractModelID pulls the model identifier out of the synced agent data.
// Runtimes report the model in one of three shapes: an object whose config
// carries model_id, an object with a model_id field, or a plain string.
func extractModelID(agentData map[string]interface{}) string {
	model, ok := agentData["model"]
	if !ok {
		return ""
	}
	switch v := model.(type) {
	case string:
		return v
	case map[string]interface{}:
		if config, ok := v["config"].(map[string]interface{}); ok {
			if id, ok := config["model_id"].(string); ok && id != "" {
				return id
			}
		}
		if id, ok := v["model_id"].(string); ok {
			return id
		}
	}
	return ""
}

// attachMetrics writes the flattened metrics onto the agent's latest
// message. A history with no messages yet is skipped, not an error.
func (m *Manager) attachMetrics(ctx context.Context, agentID string, summary *MetricsSummary) error {
	messageID, ok, err := m.store.LatestMessageID(ctx, m.sessionID, agentID)
	if err != nil {
		return err
	}
	if !ok {
		m.log.Debug("no messages to attach metrics to", zap.String("agent_id", agentID))
		return nil
	}
	return m.store.SetMessageMetrics(ctx, m.sessionID, agentID, messageID, BuildEventLoopMetrics(summary))
}

// AppendMessage stores a new message for the agent, assigning the next
// message id in the history.
func (m *Manager) AppendMessage(ctx context.Context, agentID string, msg Message) (*MessageEntry, error) {
	latest, ok, err := m.store.LatestMessageID(ctx, m.sessionID, agentID)
	if err != nil {
		return nil, err
	}
	next := 0
	if ok {
		next = latest + 1
	}

	entry := &MessageEntry{MessageID: next, Message: msg}
	if err := m.store.CreateMessage(ctx, m.sessionID, agentID, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetMessage returns one message by id, or (nil, nil) when absent.
func (m *Manager) GetMessage(ctx context.Context, agentID string, messageID int) (*MessageEntry, error) {
	return m.store.ReadMessage(ctx, m.sessionID, agentID, messageID)
}

// UpdateMessage replaces a stored message, keyed by entry.MessageID.
func (m *Manager) UpdateMessage(ctx context.Context, agentID string, entry *MessageEntry) error {
	return m.store.UpdateMessage(ctx, m.sessionID, agentID, entry)
}

// ListMessages returns the agent's messages in chronological order with
// offset/limit pagination. A limit of zero or less disables the limit.
func (m *Manager) ListMessages(ctx context.Context, agentID string, limit, offset int) ([]MessageEntry, error) {
	return m.store.ListMessages(ctx, m.sessionID, agentID, limit, offset)
}

// GetMessageCount returns the agent's message count, 0 when the agent is
// absent.
func (m *Manager) GetMessageCount(ctx context.Context, agentID string) (int, error) {
	return m.store.MessageCount(ctx, m.sessionID, agentID)
}

// RedactLatestMessage replaces the content of the agent's most recent
// message, preserving its id and created_at.
func (m *Manager) RedactLatestMessage(ctx context.Context, agentID string, replacement Message) error {
	messageID, ok, err := m.store.LatestMessageID(ctx, m.sessionID, agentID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("message", "latest")
	}
	entry := &MessageEntry{MessageID: messageID, Message: replacement}
	return m.store.UpdateMessage(ctx, m.sessionID, agentID, entry)
}

// UpdateMetadata merges keys into the session metadata bag. Configured
// validators run first; configured hooks observe the write afterwards.
func (m *Manager) UpdateMetadata(ctx context.Context, metadata map[string]interface{}) error {
	return m.metadata.Update(ctx, metadata)
}

// GetMetadata returns the session metadata bag.
func (m *Manager) GetMetadata(ctx context.Context) (map[string]interface{}, error) {
	return m.metadata.Get(ctx)
}

// DeleteMetadata removes the given keys from the session metadata bag.
func (m *Manager) DeleteMetadata(ctx context.Context, keys []string) error {
	return m.metadata.Delete(ctx, keys)
}

// AddFeedback appends a feedback entry to the session.
func (m *Manager) AddFeedback(ctx context.Context, entry *FeedbackEntry) error {
	return m.feedback.Add(ctx, entry)
}

// GetFeedbacks returns the session's feedback entries in insertion order.
func (m *Manager) GetFeedbacks(ctx context.Context) ([]FeedbackEntry, error) {
	return m.feedback.List(ctx)
}

// GetAgentConfig returns the agent's model/prompt pair, or (nil, nil) when
// the agent is absent.
func (m *Manager) GetAgentConfig(ctx context.Context, agentID string) (*AgentConfig, error) {
	configs, err := m.store.AgentConfigs(ctx, m.sessionID)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		if configs[i].AgentID == agentID {
			return &configs[i], nil
		}
	}
	return nil, nil
}

// UpdateAgentConfig overrides the agent's model and/or system prompt. A nil
// field is left untouched.
func (m *Manager) UpdateAgentConfig(ctx context.Context, agentID string, model, systemPrompt *string) error {
	return m.store.UpdateAgentConfig(ctx, m.sessionID, agentID, model, systemPrompt)
}

// ListAgents returns the model/prompt pair of every agent in the session.
func (m *Manager) ListAgents(ctx context.Context) ([]AgentConfig, error) {
	configs, err := m.store.AgentConfigs(ctx, m.sessionID)
	if err != nil {
		return nil, err
	}
	if configs == nil {
		configs = []AgentConfig{}
	}
	return configs, nil
}

// CheckSessionExists reports whether the session and the given agent exist,
// along with the agent ids and the agent's message count.
func (m *Manager) CheckSessionExists(ctx context.Context, agentID string) (*SessionPresence, error) {
	summary, err := m.store.ReadSession(ctx, m.sessionID)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return &SessionPresence{}, nil
	}

	presence := &SessionPresence{Exists: true}
	presence.AgentIDs, err = m.store.AgentIDs(ctx, m.sessionID)
	if err != nil {
		return nil, err
	}
	for _, id := range presence.AgentIDs {
		if id == agentID {
			presence.AgentExists = true
			break
		}
	}
	if presence.AgentExists {
		presence.MessageCount, err = m.store.MessageCount(ctx, m.sessionID, agentID)
		if err != nil {
			return nil, err
		}
	}
	return presence, nil
}

// SessionViewerPassword returns the session's viewer password, "" when the
// session does not exist.
func (m *Manager) SessionViewerPassword(ctx context.Context) (string, error) {
	return m.store.SessionViewerPassword(ctx, m.sessionID)
}

// ApplicationName returns the session's application name.
func (m *Manager) ApplicationName(ctx context.Context) (string, error) {
	return m.store.ApplicationName(ctx, m.sessionID)
}

// Close stops a privately owned dispatcher after draining queued hooks,
// then closes the store if it owns its client.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOwnedDispatcher()
	return m.store.Close(ctx)
}

// metadataOps is the metadata surface behind the manager; the hooked
// implementation decorates the plain one.
type metadataOps interface {
	Update(ctx context.Context, metadata map[string]interface{}) error
	Get(ctx context.Context) (map[string]interface{}, error)
	Delete(ctx context.Context, keys []string) error
}

// feedbackOps is the feedback surface behind the manager.
type feedbackOps interface {
	Add(ctx context.Context, entry *FeedbackEntry) error
	List(ctx context.Context) ([]FeedbackEntry, error)
}

type storeMetadataOps struct {
	sessionID string
	store     Store
}

func (o *storeMetadataOps) Update(ctx context.Context, metadata map[string]interface{}) error {
	return o.store.UpdateMetadata(ctx, o.sessionID, metadata)
}

func (o *storeMetadataOps) Get(ctx context.Context) (map[string]interface{}, error) {
	return o.store.GetMetadata(ctx, o.sessionID)
}

func (o *storeMetadataOps) Delete(ctx context.Context, keys []string) error {
	return o.store.DeleteMetadata(ctx, o.sessionID, keys)
}

type storeFeedbackOps struct {
	sessionID string
	store     Store
}

func (o *storeFeedbackOps) Add(ctx context.Context, entry *FeedbackEntry) error {
	return o.store.AddFeedback(ctx, o.sessionID, entry)
}

func (o *storeFeedbackOps) List(ctx context.Context) ([]FeedbackEntry, error) {
	return o.store.ListFeedbacks(ctx, o.sessionID)
}

// hookedMetadataOps runs validators before each write and hands successful
// writes to the dispatcher. Reads pass through untouched.
type hookedMetadataOps struct {
	inner      metadataOps
	sessionID  string
	hooks      []HookFunc
	validators []ValidatorFunc
	dispatcher *Dispatcher
}

func (o *hookedMetadataOps) Update(ctx context.Context, metadata map[string]interface{}) error {
	inv := Invocation{
		SessionID: o.sessionID,
		Action:    UpdateMetadataAction{Metadata: metadata},
		Time:      time.Now().UTC(),
	}
	if err := runValidators(ctx, o.validators, inv); err != nil {
		return err
	}
	if err := o.inner.Update(ctx, metadata); err != nil {
		return err
	}
	o.dispatch(inv)
	return nil
}

func (o *hookedMetadataOps) Get(ctx context.Context) (map[string]interface{}, error) {
	return o.inner.Get(ctx)
}

func (o *hookedMetadataOps) Delete(ctx context.Context, keys []string) error {
	inv := Invocation{
		SessionID: o.sessionID,
		Action:    DeleteMetadataAction{Keys: keys},
		Time:      time.Now().UTC(),
	}
	if err := runValidators(ctx, o.validators, inv); err != nil {
		return err
	}
	if err := o.inner.Delete(ctx, keys); err != nil {
		return err
	}
	o.dispatch(inv)
	return nil
}

func (o *hookedMetadataOps) dispatch(inv Invocation) {
	if o.dispatcher != nil {
		o.dispatcher.Dispatch(inv, o.hooks)
	}
}

// hookedFeedbackOps is the feedback counterpart of hookedMetadataOps.
type hookedFeedbackOps struct {
	inner      feedbackOps
	sessionID  string
	hooks      []HookFunc
	validators []ValidatorFunc
	dispatcher *Dispatcher
}

func (o *hookedFeedbackOps) Add(ctx context.Context, entry *FeedbackEntry) error {
	inv := Invocation{
		SessionID: o.sessionID,
		Action:    AddFeedbackAction{Entry: *entry},
		Time:      time.Now().UTC(),
	}
	if err := runValidators(ctx, o.validators, inv); err != nil {
		return err
	}
	if err := o.inner.Add(ctx, entry); err != nil {
		return err
	}
	if o.dispatcher != nil {
		// Re-read the entry so hooks see the stamped created_at.
		inv.Action = AddFeedbackAction{Entry: *entry}
		o.dispatcher.Dispatch(inv, o.hooks)
	}
	return nil
}

func (o *hookedFeedbackOps) List(ctx context.Context) ([]FeedbackEntry, error) {
	return o.inner.List(ctx)
}
