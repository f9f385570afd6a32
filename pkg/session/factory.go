package session

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// FactoryConfig configures a Factory. Exactly one of Client and
// ConnectionString must be set; a connection string makes the factory own a
// ClientPool, a provided client is borrowed.
type FactoryConfig struct {
	ConnectionString string
	Client           *mongo.Client
	Database         string
	Collection       string
	MetadataFields   []string
	ApplicationName  string
	PoolOptions      PoolOptions

	// Workers sizes the shared hook dispatcher. Defaults to one worker,
	// which preserves hook ordering across the factory's managers.
	Workers int

	Logger *logger.Logger
}

// Factory builds session managers that share one MongoDB client and one
// hook dispatcher, for stateless services that create a manager per request.
type Factory struct {
	pool            *ClientPool
	client          *mongo.Client
	ownsPool        bool
	database        string
	collection      string
	metadataFields  []string
	applicationName string
	dispatcher      *Dispatcher
	log             *logger.Logger
}

// NewFactory connects (and pings) a pooled client unless an external client
// is supplied, and starts the shared hook dispatcher.
func NewFactory(ctx context.Context, cfg FactoryConfig) (*Factory, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	f := &Factory{
		database:        cfg.Database,
		collection:      cfg.Collection,
		metadataFields:  cfg.MetadataFields,
		applicationName: cfg.ApplicationName,
		log:             log,
	}

	switch {
	case cfg.Client != nil:
		f.client = cfg.Client
		log.Info("session factory initialized with provided mongodb client")
	case cfg.ConnectionString != "":
		f.pool = NewClientPool(log)
		client, err := f.pool.Initialize(ctx, cfg.ConnectionString, cfg.PoolOptions)
		if err != nil {
			return nil, err
		}
		f.client = client
		f.ownsPool = true
		log.Info("session factory initialized with connection pool")
	default:
		return nil, apperrors.ValidationError("connection", "either a client or a connection string is required")
	}

	f.dispatcher = NewDispatcher(cfg.Workers, log)
	return f, nil
}

// ManagerOption overrides a factory default for one manager.
type ManagerOption func(*managerOverrides)

type managerOverrides struct {
	sessionType        *string
	database           *string
	collection         *string
	metadataFields     *[]string
	applicationName    *string
	metadataHooks      []HookFunc
	metadataValidators []ValidatorFunc
	feedbackHooks      []HookFunc
	feedbackValidators []ValidatorFunc
}

// WithSessionType sets the type used if the session document is created.
func WithSessionType(sessionType string) ManagerOption {
	return func(o *managerOverrides) { o.sessionType = &sessionType }
}

// WithDatabase overrides the factory's default database.
func WithDatabase(database string) ManagerOption {
	return func(o *managerOverrides) { o.database = &database }
}

// WithCollection overrides the factory's default collection.
func WithCollection(collection string) ManagerOption {
	return func(o *managerOverrides) { o.collection = &collection }
}

// WithMetadataFields overrides the factory's default pre-seeded metadata
// keys. Passing an empty slice disables pre-seeding for this manager.
func WithMetadataFields(fields []string) ManagerOption {
	return func(o *managerOverrides) { o.metadataFields = &fields }
}

// WithApplicationName overrides the factory's default application name.
func WithApplicationName(name string) ManagerOption {
	return func(o *managerOverrides) { o.applicationName = &name }
}

// WithMetadataHooks attaches asynchronous observers to this manager's
// metadata writes.
func WithMetadataHooks(hooks ...HookFunc) ManagerOption {
	return func(o *managerOverrides) { o.metadataHooks = append(o.metadataHooks, hooks...) }
}

// WithMetadataValidators attaches synchronous pre-write validators to this
// manager's metadata writes.
func WithMetadataValidators(validators ...ValidatorFunc) ManagerOption {
	return func(o *managerOverrides) { o.metadataValidators = append(o.metadataValidators, validators...) }
}

// WithFeedbackHooks attaches asynchronous observers to this manager's
// feedback writes.
func WithFeedbackHooks(hooks ...HookFunc) ManagerOption {
	return func(o *managerOverrides) { o.feedbackHooks = append(o.feedbackHooks, hooks...) }
}

// WithFeedbackValidators attaches synchronous pre-write validators to this
// manager's feedback writes.
func WithFeedbackValidators(validators ...ValidatorFunc) ManagerOption {
	return func(o *managerOverrides) { o.feedbackValidators = append(o.feedbackValidators, validators...) }
}

// CreateSessionManager builds a manager for the given session using the
// shared client and dispatcher. Options override factory defaults for this
// manager only.
func (f *Factory) CreateSessionManager(ctx context.Context, sessionID string, opts ...ManagerOption) (*Manager, error) {
	var ov managerOverrides
	for _, opt := range opts {
		opt(&ov)
	}

	cfg := ManagerConfig{
		SessionID:          sessionID,
		SessionType:        stringOr(ov.sessionType, ""),
		Client:             f.client,
		Database:           stringOr(ov.database, f.database),
		Collection:         stringOr(ov.collection, f.collection),
		MetadataFields:     f.metadataFields,
		ApplicationName:    stringOr(ov.applicationName, f.applicationName),
		MetadataHooks:      ov.metadataHooks,
		MetadataValidators: ov.metadataValidators,
		FeedbackHooks:      ov.feedbackHooks,
		FeedbackValidators: ov.feedbackValidators,
		Dispatcher:         f.dispatcher,
		Logger:             f.log,
	}
	if ov.metadataFields != nil {
		cfg.MetadataFields = *ov.metadataFields
	}
	return NewManager(ctx, cfg)
}

func stringOr(override *string, fallback string) string {
	if override != nil {
		return *override
	}
	return fallback
}

// ConnectionStats reports the health of the factory's pool. With an
// external client the factory has no pool to inspect and says so.
func (f *Factory) ConnectionStats(ctx context.Context) PoolStats {
	if !f.ownsPool {
		return PoolStats{
			Status:  PoolStatusExternalClient,
			Message: "using externally managed mongodb client",
		}
	}
	return f.pool.Stats(ctx)
}

// Dispatcher returns the shared hook dispatcher.
func (f *Factory) Dispatcher() *Dispatcher {
	return f.dispatcher
}

// Client returns the shared mongo client.
func (f *Factory) Client() *mongo.Client {
	return f.client
}

// Close drains the shared dispatcher and closes the pool when owned.
func (f *Factory) Close(ctx context.Context) error {
	f.dispatcher.Close()
	if !f.ownsPool {
		f.log.Info("session factory using external client, not closing")
		return nil
	}
	return f.pool.Close(ctx)
}

var (
	globalFactoryMu sync.Mutex
	globalFactory   *Factory
)

// InitializeGlobalFactory builds the process-wide factory, replacing and
// closing any previous one. Call it once during service startup.
func InitializeGlobalFactory(ctx context.Context, cfg FactoryConfig) (*Factory, error) {
	globalFactoryMu.Lock()
	defer globalFactoryMu.Unlock()

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	if globalFactory != nil {
		log.Warn("global session factory already initialized, closing existing one")
		if err := globalFactory.Close(ctx); err != nil {
			log.Warn("error closing previous global session factory", zap.Error(err))
		}
		globalFactory = nil
	}

	factory, err := NewFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	globalFactory = factory
	log.Info("global session factory initialized")
	return factory, nil
}

// GlobalFactory returns the process-wide factory, or a NOT_INITIALIZED
// error when InitializeGlobalFactory has not run.
func GlobalFactory() (*Factory, error) {
	globalFactoryMu.Lock()
	defer globalFactoryMu.Unlock()
	if globalFactory == nil {
		return nil, apperrors.NotInitialized("global session factory")
	}
	return globalFactory, nil
}

// CloseGlobalFactory closes and clears the process-wide factory. Call it
// during service shutdown; closing an uninitialized factory is a no-op.
func CloseGlobalFactory(ctx context.Context) error {
	globalFactoryMu.Lock()
	defer globalFactoryMu.Unlock()
	if globalFactory == nil {
		return nil
	}
	err := globalFactory.Close(ctx)
	globalFactory = nil
	return err
}
