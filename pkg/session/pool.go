package session

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// Pool status values reported by Stats.
const (
	PoolStatusNotInitialized = "not_initialized"
	PoolStatusConnected      = "connected"
	PoolStatusError          = "error"
	PoolStatusExternalClient = "external_client"
)

// PoolOptions configures the MongoDB client created by a ClientPool. Zero
// values fall back to defaults tuned for highly concurrent stateless
// deployments; see DefaultPoolOptions.
type PoolOptions struct {
	MaxPoolSize            uint64        `mapstructure:"maxPoolSize" json:"maxPoolSize"`
	MinPoolSize            uint64        `mapstructure:"minPoolSize" json:"minPoolSize"`
	MaxConnIdleTime        time.Duration `mapstructure:"maxConnIdleTime" json:"maxConnIdleTime"`
	ServerSelectionTimeout time.Duration `mapstructure:"serverSelectionTimeout" json:"serverSelectionTimeout"`
	ConnectTimeout         time.Duration `mapstructure:"connectTimeout" json:"connectTimeout"`
	Timeout                time.Duration `mapstructure:"timeout" json:"timeout"`
	RetryWrites            *bool         `mapstructure:"retryWrites" json:"retryWrites,omitempty"`
	RetryReads             *bool         `mapstructure:"retryReads" json:"retryReads,omitempty"`
	Compressors            []string      `mapstructure:"compressors" json:"compressors,omitempty"`
	AppName                string        `mapstructure:"appName" json:"appName,omitempty"`
}

// DefaultPoolOptions returns the baseline client configuration: a large pool
// with a warm floor, short acquisition and selection timeouts, and retries
// enabled for both reads and writes.
func DefaultPoolOptions() PoolOptions {
	enabled := true
	return PoolOptions{
		MaxPoolSize:            100,
		MinPoolSize:            10,
		MaxConnIdleTime:        30 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
		ConnectTimeout:         10 * time.Second,
		Timeout:                30 * time.Second,
		RetryWrites:            &enabled,
		RetryReads:             &enabled,
	}
}

// withDefaults fills zero fields from DefaultPoolOptions. Caller-provided
// values always win.
func (o PoolOptions) withDefaults() PoolOptions {
	defaults := DefaultPoolOptions()
	if o.MaxPoolSize == 0 {
		o.MaxPoolSize = defaults.MaxPoolSize
	}
	if o.MinPoolSize == 0 {
		o.MinPoolSize = defaults.MinPoolSize
	}
	if o.MaxConnIdleTime == 0 {
		o.MaxConnIdleTime = defaults.MaxConnIdleTime
	}
	if o.ServerSelectionTimeout == 0 {
		o.ServerSelectionTimeout = defaults.ServerSelectionTimeout
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = defaults.ConnectTimeout
	}
	if o.Timeout == 0 {
		o.Timeout = defaults.Timeout
	}
	if o.RetryWrites == nil {
		o.RetryWrites = defaults.RetryWrites
	}
	if o.RetryReads == nil {
		o.RetryReads = defaults.RetryReads
	}
	return o
}

// clientOptions translates the pool options into driver options for the
// given connection string.
func (o PoolOptions) clientOptions(uri string) *options.ClientOptions {
	merged := o.withDefaults()
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(merged.MaxPoolSize).
		SetMinPoolSize(merged.MinPoolSize).
		SetMaxConnIdleTime(merged.MaxConnIdleTime).
		SetServerSelectionTimeout(merged.ServerSelectionTimeout).
		SetConnectTimeout(merged.ConnectTimeout).
		SetTimeout(merged.Timeout).
		SetRetryWrites(*merged.RetryWrites).
		SetRetryReads(*merged.RetryReads)
	if len(merged.Compressors) > 0 {
		opts.SetCompressors(merged.Compressors)
	}
	if merged.AppName != "" {
		opts.SetAppName(merged.AppName)
	}
	return opts
}

// PoolConfig is the effective pool sizing reported in stats.
type PoolConfig struct {
	MaxPoolSize uint64 `json:"maxPoolSize"`
	MinPoolSize uint64 `json:"minPoolSize"`
}

// PoolStats is a point-in-time snapshot of pool health. ConnectionString is
// credential-redacted.
type PoolStats struct {
	Status           string      `json:"status"`
	Message          string      `json:"message,omitempty"`
	ConnectionString string      `json:"connection_string,omitempty"`
	ServerVersion    string      `json:"server_version,omitempty"`
	PoolConfig       *PoolConfig `json:"pool_config,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// ClientPool manages a single shared mongo.Client so that many short-lived
// session managers reuse one connection pool. Initialize is idempotent for
// identical parameters and rebuilds the client when parameters change.
type ClientPool struct {
	mu     sync.Mutex
	client *mongo.Client
	uri    string
	opts   PoolOptions
	log    *logger.Logger
}

// NewClientPool returns an empty pool. Call Initialize before use.
func NewClientPool(log *logger.Logger) *ClientPool {
	if log == nil {
		log = logger.Default()
	}
	return &ClientPool{log: log}
}

var (
	defaultPoolOnce sync.Once
	defaultPool     *ClientPool
)

// DefaultPool returns the process-wide client pool shared by callers that do
// not construct their own.
func DefaultPool() *ClientPool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewClientPool(nil)
	})
	return defaultPool
}

// Initialize connects the pool to the given MongoDB deployment and verifies
// the connection with a ping. Calling it again with the same connection
// string and options returns the existing client; changed parameters close
// the old client and build a new one.
func (p *ClientPool) Initialize(ctx context.Context, connectionString string, opts PoolOptions) (*mongo.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.uri == connectionString && reflect.DeepEqual(p.opts, opts) {
		p.log.Debug("reusing existing mongodb client from pool")
		return p.client, nil
	}

	if p.client != nil {
		p.log.Info("connection parameters changed, recreating mongodb client")
		if err := p.client.Disconnect(ctx); err != nil {
			p.log.Warn("error closing previous mongodb client", zap.Error(err))
		}
		p.client = nil
	}

	client, err := mongo.Connect(opts.clientOptions(connectionString))
	if err != nil {
		return nil, apperrors.StorageError("failed to create mongodb client", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, apperrors.StorageError("failed to connect to mongodb", err)
	}

	p.client = client
	p.uri = connectionString
	p.opts = opts

	merged := opts.withDefaults()
	p.log.Info("mongodb connection pool initialized",
		zap.Uint64("max_pool_size", merged.MaxPoolSize),
		zap.Uint64("min_pool_size", merged.MinPoolSize))
	return client, nil
}

// Client returns the pooled client, or nil if the pool is not initialized.
func (p *ClientPool) Client() *mongo.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// Close disconnects the pooled client and resets the pool to its
// uninitialized state. Closing an uninitialized pool is a no-op.
func (p *ClientPool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}

	err := p.client.Disconnect(ctx)
	p.client = nil
	p.uri = ""
	p.opts = PoolOptions{}

	if err != nil {
		p.log.Error("error closing mongodb connection pool", zap.Error(err))
		return apperrors.StorageError("failed to close mongodb connection pool", err)
	}
	p.log.Info("mongodb connection pool closed")
	return nil
}

// Stats reports pool health. It runs a buildInfo command against the server,
// so an unreachable deployment yields an error status rather than a failure.
func (p *ClientPool) Stats(ctx context.Context) PoolStats {
	p.mu.Lock()
	client := p.client
	uri := p.uri
	opts := p.opts
	p.mu.Unlock()

	if client == nil {
		return PoolStats{Status: PoolStatusNotInitialized}
	}

	var info struct {
		Version string `bson:"version"`
	}
	err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info)
	if err != nil {
		p.log.Error("error getting pool stats", zap.Error(err))
		return PoolStats{Status: PoolStatusError, Error: err.Error()}
	}

	merged := opts.withDefaults()
	return PoolStats{
		Status:           PoolStatusConnected,
		ConnectionString: RedactConnectionString(uri),
		ServerVersion:    info.Version,
		PoolConfig: &PoolConfig{
			MaxPoolSize: merged.MaxPoolSize,
			MinPoolSize: merged.MinPoolSize,
		},
	}
}

// RedactConnectionString masks the credential section of a MongoDB URI so it
// can be logged or reported safely.
func RedactConnectionString(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return uri
	}
	rest := uri[schemeEnd+3:]
	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return uri
	}
	return uri[:schemeEnd+3] + "***:***@" + rest[at+1:]
}
