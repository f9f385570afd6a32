// Package query implements the viewer's read-only queries over session
// documents: filtered search with pagination, full session detail with a
// unified timeline, index-driven field discovery, and the health probe.
package query

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// Pagination defaults, overridable through Config.
const (
	DefaultPageSize      = 20
	DefaultMaxPageSize   = 100
	DefaultEnumMaxValues = 50
)

// Config tunes the query engine.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int

	// EnumFields are indexed fields promoted to enums in field discovery
	// when their distinct-value count stays within EnumMaxValues.
	EnumFields    []string
	EnumMaxValues int
}

func (c Config) withDefaults() Config {
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = DefaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
	if c.EnumMaxValues <= 0 {
		c.EnumMaxValues = DefaultEnumMaxValues
	}
	return c
}

// PoolStatsFunc reports connection pool health for the health endpoint.
type PoolStatsFunc func(ctx context.Context) session.PoolStats

// Engine executes viewer queries against one session collection.
type Engine struct {
	collection *mongo.Collection
	poolStats  PoolStatsFunc
	cfg        Config
	log        *logger.Logger
}

// NewEngine builds an engine over the session collection. poolStats is
// optional; without it the health report omits pool details.
func NewEngine(collection *mongo.Collection, poolStats PoolStatsFunc, cfg Config, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		collection: collection,
		poolStats:  poolStats,
		cfg:        cfg.withDefaults(),
		log:        log.WithFields(zap.String("component", "viewer_query")),
	}
}

// SearchParams are the session search inputs as received from the API layer.
// Filters is the raw JSON filter document from the query string.
type SearchParams struct {
	Filters        string
	SessionID      string
	CreatedAtStart *time.Time
	CreatedAtEnd   *time.Time
	Limit          int
	Offset         int
}

// SessionPreview is one search hit: identity, timestamps, metadata, and
// element counts. Message bodies are never transferred in search results.
type SessionPreview struct {
	SessionID      string                 `json:"session_id"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Metadata       map[string]interface{} `json:"metadata"`
	AgentsCount    int                    `json:"agents_count"`
	MessagesCount  int                    `json:"messages_count"`
	FeedbacksCount int                    `json:"feedbacks_count"`
}

// SearchResult is one page of search hits plus pagination state.
type SearchResult struct {
	Sessions []SessionPreview `json:"sessions"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
	HasMore  bool             `json:"has_more"`
}

// Search returns sessions matching the filters, newest first. The count and
// the page are fetched concurrently.
func (e *Engine) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	limit := clampLimit(params.Limit, e.cfg.DefaultPageSize, e.cfg.MaxPageSize)
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	filter := buildSearchFilter(params, e.log)
	e.log.Debug("searching sessions", zap.Any("filter", filter),
		zap.Int("limit", limit), zap.Int("offset", offset))

	var (
		total int64
		docs  []session.Session
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = e.collection.CountDocuments(gctx, filter)
		return err
	})
	g.Go(func() error {
		cursor, err := e.collection.Find(gctx, filter, options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetSkip(int64(offset)).
			SetLimit(int64(limit)))
		if err != nil {
			return err
		}
		return cursor.All(gctx, &docs)
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.StorageError("failed to search sessions", err)
	}

	previews := make([]SessionPreview, 0, len(docs))
	for i := range docs {
		previews = append(previews, buildPreview(&docs[i]))
	}

	return &SearchResult{
		Sessions: previews,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  int64(offset+limit) < total,
	}, nil
}

func buildPreview(doc *session.Session) SessionPreview {
	messages := 0
	for _, agent := range doc.Agents {
		messages += len(agent.Messages)
	}
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return SessionPreview{
		SessionID:      doc.SessionID,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		Metadata:       metadata,
		AgentsCount:    len(doc.Agents),
		MessagesCount:  messages,
		FeedbacksCount: len(doc.Feedbacks),
	}
}

// clampLimit resolves the effective page size: zero or negative falls back
// to the default, oversized requests are capped.
func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// SessionDetail is the full read of one session: metadata, the unified
// timeline, and a per-agent summary.
type SessionDetail struct {
	SessionID     string                  `json:"session_id"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	Metadata      map[string]interface{}  `json:"metadata"`
	Timeline      []TimelineItem          `json:"timeline"`
	AgentsSummary map[string]AgentSummary `json:"agents_summary"`
}

// AgentSummary describes one agent without its message bodies.
type AgentSummary struct {
	MessagesCount int       `json:"messages_count"`
	Model         string    `json:"model,omitempty"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GetSessionDetail loads the session document and assembles the detail view.
// A missing session is a NOT_FOUND error.
func (e *Engine) GetSessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var doc session.Session
	err := e.collection.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("session", sessionID)
		}
		return nil, apperrors.StorageError("failed to read session", err)
	}

	summary := make(map[string]AgentSummary, len(doc.Agents))
	for agentID, agent := range doc.Agents {
		model, _ := agent.AgentData["model"].(string)
		systemPrompt, _ := agent.AgentData["system_prompt"].(string)
		summary[agentID] = AgentSummary{
			MessagesCount: len(agent.Messages),
			Model:         model,
			SystemPrompt:  systemPrompt,
			CreatedAt:     agent.CreatedAt,
			UpdatedAt:     agent.UpdatedAt,
		}
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return &SessionDetail{
		SessionID:     doc.SessionID,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		Metadata:      metadata,
		Timeline:      buildTimeline(&doc),
		AgentsSummary: summary,
	}, nil
}

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status  string             `json:"status"`
	MongoDB string             `json:"mongodb"`
	Pool    *session.PoolStats `json:"connection_pool,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Health probes the collection with a minimal read and reports pool state.
// An empty collection is healthy; only transport failures are not.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	err := e.collection.FindOne(ctx, bson.D{},
		options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})).Err()
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		e.log.Error("health probe failed", zap.Error(err))
		return HealthStatus{Status: "unhealthy", MongoDB: "disconnected", Error: err.Error()}
	}

	status := HealthStatus{Status: "healthy", MongoDB: "connected"}
	if e.poolStats != nil {
		stats := e.poolStats(ctx)
		status.Pool = &stats
	}
	return status
}
