package broker

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/config"
	"github.com/ottermq/otterlane/internal/core/adapters"
	"github.com/ottermq/otterlane/internal/core/adapters/amqp091"
	"github.com/ottermq/otterlane/internal/core/adapters/amqp10"
	"github.com/ottermq/otterlane/internal/core/adapters/mqtt"
	"github.com/ottermq/otterlane/internal/core/broker/management"
	"github.com/ottermq/otterlane/internal/core/broker/vhost"
	"github.com/ottermq/otterlane/pkg/metrics"
	"github.com/ottermq/otterlane/pkg/persistence"
	"github.com/ottermq/otterlane/pkg/persistence/implementations/dummy"
	"github.com/ottermq/otterlane/pkg/persistence/implementations/json"
	"github.com/ottermq/otterlane/pkg/persistence/implementations/memento"
	"github.com/ottermq/otterlane/pkg/persistence/implementations/redis"
	"github.com/ottermq/otterlane/pkg/persistence/implementations/sqlite"
)

const DefaultVHost = "/"

type Broker struct {
	VHosts       map[string]*vhost.VHost
	config       *config.Config
	mu           sync.RWMutex
	ShuttingDown atomic.Bool
	rootCtx      context.Context
	rootCancel   context.CancelFunc
	persist      persistence.Persistence
	collector    *metrics.Collector
	adapters     *adapters.Registry
	sweepers     []*vhost.Sweeper
	startedAt    time.Time
	Management   management.ManagementService
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// Options overrides parts of the broker that tests need to control.
type Options struct {
	// Persistence replaces the backend selected by config.PersistenceType.
	Persistence persistence.Persistence
	Clock       func() time.Time
	// Adapters replaces the default amqp, amqp091 and mqtt adapters.
	Adapters []adapters.Adapter
}

func NewBroker(cfg *config.Config, rootCtx context.Context, opts Options) (*Broker, error) {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	policy, err := vhost.ParseDeliveryCountPolicy(cfg.DLQDeliveryCount)
	if err != nil {
		return nil, err
	}

	persist := opts.Persistence
	if persist == nil {
		if persist, err = OpenPersistence(cfg); err != nil {
			return nil, fmt.Errorf("open %s persistence: %w", cfg.PersistenceType, err)
		}
	}

	ctx, cancel := context.WithCancel(rootCtx)
	metricsConfig := metrics.DefaultConfig()
	metricsConfig.Enabled = cfg.EnableMetrics

	registered := opts.Adapters
	if len(registered) == 0 {
		registered = []adapters.Adapter{
			amqp10.New(),
			amqp091.New(),
			mqtt.New(mqtt.Options{DecodeMaps: true}),
		}
	}

	b := &Broker{
		VHosts:     make(map[string]*vhost.VHost),
		config:     cfg,
		rootCtx:    ctx,
		rootCancel: cancel,
		persist:    persist,
		collector:  metrics.NewCollector(metricsConfig, ctx),
		adapters:   adapters.NewRegistry(registered...),
		startedAt:  time.Now(),
	}

	options := vhost.VHostOptions{
		Persistence:         persist,
		Metrics:             b.collector,
		Clock:               opts.Clock,
		EnableDLX:           cfg.EnableDLX,
		EnableTTL:           cfg.EnableTTL,
		EnableQLL:           cfg.EnableQLL,
		DeadLetterAddress:   cfg.DeadLetterAddress,
		DeliveryCountPolicy: policy,
		MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
	}
	defaultVHost := vhost.NewVhost(DefaultVHost, options)
	b.VHosts[DefaultVHost] = defaultVHost
	b.sweepers = append(b.sweepers, vhost.NewSweeper(defaultVHost, cfg.ExpiryScanPeriod))

	b.Management = management.NewService(b)
	return b, nil
}

// OpenPersistence builds the backend named by cfg.PersistenceType.
func OpenPersistence(cfg *config.Config) (persistence.Persistence, error) {
	pc := &persistence.Config{
		Type:    cfg.PersistenceType,
		DataDir: cfg.DataDir,
		Options: make(map[string]string),
	}
	switch cfg.PersistenceType {
	case "json":
		return json.NewJsonPersistence(pc)
	case "sqlite":
		pc.Options["compress_threshold"] = strconv.Itoa(cfg.SqliteCompressMinSize)
		return sqlite.NewSqlitePersistence(pc)
	case "redis":
		pc.Options["addr"] = cfg.RedisAddr
		pc.Options["password"] = cfg.RedisPassword
		pc.Options["db"] = strconv.Itoa(cfg.RedisDB)
		return redis.NewRedisPersistence(pc)
	case "memory":
		return memento.New(), nil
	case "none", "":
		return &dummy.DummyPersistence{}, nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceType)
	}
}

// Start launches the expiry sweepers and metric sampling. They stop on
// Shutdown or when the root context ends.
func (b *Broker) Start() {
	b.startOnce.Do(func() {
		log.Info().Str("version", b.config.Version).
			Str("persistence", b.config.PersistenceType).
			Str("data_dir", filepath.Clean(b.config.DataDir)).
			Msg("🦦 Otterlane")
		for _, s := range b.sweepers {
			s.Start(b.rootCtx)
		}
		b.collector.StartPeriodicSampling()
	})
}

// Shutdown stops background work and closes persistence. Queued messages
// that are durable stay in the store.
func (b *Broker) Shutdown() error {
	var err error
	b.shutdownOnce.Do(func() {
		b.ShuttingDown.Store(true)
		for _, s := range b.sweepers {
			s.Stop()
		}
		b.rootCancel()
		if cerr := b.persist.Close(); cerr != nil {
			err = fmt.Errorf("close persistence: %w", cerr)
		}
		log.Info().Msg("Broker stopped")
	})
	return err
}

func (b *Broker) GetVHost(vhostName string) *vhost.VHost {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.VHosts[vhostName]
}

func (b *Broker) ListVHosts() []*vhost.VHost {
	b.mu.RLock()
	defer b.mu.RUnlock()
	vhosts := make([]*vhost.VHost, 0, len(b.VHosts))
	for _, vh := range b.VHosts {
		vhosts = append(vhosts, vh)
	}
	return vhosts
}

func (b *Broker) GetCollector() *metrics.Collector {
	return b.collector
}

func (b *Broker) Adapters() *adapters.Registry {
	return b.adapters
}

func (b *Broker) StartedAt() time.Time {
	return b.startedAt
}

func (b *Broker) Config() *config.Config {
	return b.config
}

func (b *Broker) defaultVHost() *vhost.VHost {
	return b.GetVHost(DefaultVHost)
}
