// Package chronow is the client surface of the broker: shared memory with
// TTL, topics with competing-consumer subscriptions, delayed retry and
// dead-lettering, on a Redis hot tier (or a MongoDB emulation of it) with
// an optional durable MongoDB warm tier.
package chronow

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"dev.chronow.messaging/internal/config"
	"dev.chronow.messaging/internal/hotstore"
	"dev.chronow.messaging/internal/keys"
	"dev.chronow.messaging/internal/messaging"
	"dev.chronow.messaging/internal/sharedmem"
	"dev.chronow.messaging/internal/warmstore"
)

// Options configures a Client. Zero values fall back to the environment
// configuration and the default tenant and namespace.
type Options struct {
	// Config overrides the environment-derived configuration.
	Config *config.Config
	// Tenant and Namespace scope every key this client touches.
	Tenant    string
	Namespace string
	// Logger receives broker logs; a default logrus logger if nil.
	Logger logrus.FieldLogger
	// Registerer receives broker counters; nil disables exposition but
	// keeps the counters live.
	Registerer prometheus.Registerer

	// HotStore and WarmStore override backend selection, mainly for tests
	// and embedded use. When set, Config connection options are ignored
	// for that tier.
	HotStore  hotstore.Store
	WarmStore warmstore.Store
}

// Client is one connected broker handle. Safe for concurrent use.
type Client struct {
	cfg    *config.Config
	namer  keys.Namer
	logger logrus.FieldLogger

	hot     hotstore.Store
	warm    warmstore.Store
	metrics *messaging.Metrics

	shared   *sharedmem.Engine
	topics   *messaging.TopicManager
	producer *messaging.Producer
	retry    *messaging.RetryScheduler
	dlq      *messaging.DeadLetterSink
}

// New connects both tiers and wires the broker components. Connections are
// bounded by config.ConnectTimeout on top of ctx.
func New(ctx context.Context, opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.FromEnv()
	}
	if opts.HotStore == nil || opts.WarmStore == nil {
		if err := cfg.Validate(); err != nil {
			return nil, messaging.ConfigError("validate configuration", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	namer := keys.New(cfg.RedisKeyPrefix, opts.Tenant, opts.Namespace)

	hot, err := selectHotStore(cfg, opts)
	if err != nil {
		return nil, err
	}
	warm := opts.WarmStore
	if warm == nil {
		warm = warmstore.NewMongoStore(warmstore.MongoOptions{URI: cfg.MongoURI})
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := hot.Connect(connectCtx); err != nil {
		return nil, messaging.ConnectionError("connect hot store", err)
	}
	if err := warm.Connect(connectCtx); err != nil {
		_ = hot.Close(context.Background())
		return nil, messaging.ConnectionError("connect warm store", err)
	}

	metrics := messaging.NopMetrics()
	if opts.Registerer != nil {
		metrics = messaging.NewMetrics(opts.Registerer)
	}

	c := &Client{
		cfg:     cfg,
		namer:   namer,
		logger:  logger,
		hot:     hot,
		warm:    warm,
		metrics: metrics,
	}
	c.shared = sharedmem.New(hot, warm, namer, cfg.MaxPayloadBytes, logger)
	c.topics = messaging.NewTopicManager(hot, warm, namer, logger)
	c.producer = messaging.NewProducer(hot, warm, namer, c.topics,
		cfg.MaxPayloadBytes, cfg.MaxStreamLen, metrics, logger)
	c.retry = messaging.NewRetryScheduler(hot, namer, logger)
	c.dlq = messaging.NewDeadLetterSink(hot, warm, namer, cfg.MaxStreamLen, metrics, logger)

	logger.WithFields(logrus.Fields{
		"backend":   backendName(cfg, opts),
		"tenant":    namer.Tenant,
		"namespace": namer.Namespace,
	}).Info("Broker client connected")
	return c, nil
}

func selectHotStore(cfg *config.Config, opts Options) (hotstore.Store, error) {
	if opts.HotStore != nil {
		return opts.HotStore, nil
	}
	if cfg.MongoOnly {
		return hotstore.NewMongoStore(hotstore.MongoOptions{URI: cfg.MongoURI}), nil
	}
	store, err := hotstore.NewRedisStore(hotstore.RedisOptions{
		URL:          cfg.RedisURL,
		ClusterNodes: cfg.RedisClusterNodes,
		TLS:          cfg.RedisTLS,
		CACertFile:   cfg.RedisCACert,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		RetryBackoff: cfg.RedisRetryBackoff,
	})
	if err != nil {
		return nil, messaging.ConfigError("build redis store", err)
	}
	return store, nil
}

func backendName(cfg *config.Config, opts Options) string {
	switch {
	case opts.HotStore != nil:
		return fmt.Sprintf("%T", opts.HotStore)
	case cfg.MongoOnly:
		return "mongo-emulated"
	default:
		return "redis"
	}
}

// SharedMemory returns the keyed value surface.
func (c *Client) SharedMemory() *sharedmem.Engine {
	return c.shared
}

// Topics returns the topic and subscription manager.
func (c *Client) Topics() *messaging.TopicManager {
	return c.topics
}

// Producer returns the publishing surface.
func (c *Client) Producer() *messaging.Producer {
	return c.producer
}

// DeadLetters returns the dead-letter surface.
func (c *Client) DeadLetters() *messaging.DeadLetterSink {
	return c.dlq
}

// Retries returns the retry scheduler. Consumers drive it internally; it
// is exposed for inspection.
func (c *Client) Retries() *messaging.RetryScheduler {
	return c.retry
}

// Consumer builds a consumer for (topic, subscription). The subscription
// must have been ensured via Topics().EnsureSubscription.
func (c *Client) Consumer(topic, subscription string) *messaging.Consumer {
	return messaging.NewConsumer(c.hot, c.namer, c.topics, c.retry, c.dlq,
		topic, subscription, c.cfg.MaxStreamLen, c.metrics, c.logger)
}

// Scoped returns a client view over a different (tenant, namespace),
// sharing the connections. Empty arguments keep the current values.
func (c *Client) Scoped(tenant, namespace string) *Client {
	namer := c.namer.With(tenant, namespace)
	scoped := &Client{
		cfg:     c.cfg,
		namer:   namer,
		logger:  c.logger,
		hot:     c.hot,
		warm:    c.warm,
		metrics: c.metrics,
	}
	scoped.shared = sharedmem.New(c.hot, c.warm, namer, c.cfg.MaxPayloadBytes, c.logger)
	scoped.topics = messaging.NewTopicManager(c.hot, c.warm, namer, c.logger)
	scoped.producer = messaging.NewProducer(c.hot, c.warm, namer, scoped.topics,
		c.cfg.MaxPayloadBytes, c.cfg.MaxStreamLen, c.metrics, c.logger)
	scoped.retry = messaging.NewRetryScheduler(c.hot, namer, c.logger)
	scoped.dlq = messaging.NewDeadLetterSink(c.hot, c.warm, namer, c.cfg.MaxStreamLen, c.metrics, c.logger)
	return scoped
}

// Ping checks hot-tier liveness.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.hot.Ping(ctx); err != nil {
		return messaging.ConnectionError("ping hot store", err)
	}
	return nil
}

// Close releases both tiers, warm first so late mirrors are not lost while
// the hot tier is still accepting acks.
func (c *Client) Close(ctx context.Context) error {
	warmErr := c.warm.Close(ctx)
	hotErr := c.hot.Close(ctx)
	if warmErr != nil {
		return warmErr
	}
	return hotErr
}
