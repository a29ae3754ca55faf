package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"defeatthememe-backend/internal/clients"
	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/db"
	"defeatthememe-backend/internal/handlers"
	"defeatthememe-backend/internal/logger"
	"defeatthememe-backend/internal/repository"
	"defeatthememe-backend/internal/router"
	"defeatthememe-backend/internal/services"
	"defeatthememe-backend/internal/telemetry"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ServiceContainer owns every long-lived handle of the process.
type ServiceContainer struct {
	Config    *config.Config
	Contracts *config.ContractRegistry

	// Optional infrastructure; nil when not configured.
	DB    *gorm.DB
	Redis *clients.RedisCache
	NATS  *clients.NATSClient

	Store           clients.EntityStore
	RelayAttempts   repository.RelayAttemptRepository
	PushService     *services.WebSocketPushService
	RelayService    *services.RelayService
	GameResults     *services.GameResultService
	AdminAuth       *handlers.AdminAuthHandler
	ChainClients    map[int64]*ethclient.Client
	shutdownTracing func(context.Context) error
}

// NewServiceContainer builds the container from cfg. An unusable entity store or
// relayer key fails construction; unreachable chains and the optional database,
// redis and NATS are logged and skipped.
func NewServiceContainer(ctx context.Context, cfg *config.Config) (*ServiceContainer, error) {
	log := logger.Component("container")
	log.Info("🚀 Initializing Service Container...")

	c := &ServiceContainer{
		Config:       cfg,
		Contracts:    config.NewContractRegistry(cfg),
		ChainClients: make(map[int64]*ethclient.Client),
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.WithError(err).Warn("⚠️  Tracing disabled")
		shutdown = func(context.Context) error { return nil }
	}
	c.shutdownTracing = shutdown

	c.initInfrastructure(ctx)

	if err := c.initStore(); err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.PushService = services.NewWebSocketPushService(logger.Component("push"))
	events := c.initEvents()

	var recorder services.RelayAttemptRecorder = services.NoopRecorder{}
	if c.RelayAttempts != nil {
		recorder = services.NewRepositoryRecorder(c.RelayAttempts, logger.Component("relay-audit"))
	}

	c.RelayService = services.NewRelayService(services.RelayOptions{
		DefaultChainID:      cfg.Relay.DefaultChainID,
		ConfirmationTimeout: time.Duration(cfg.Relay.ConfirmationTimeout) * time.Second,
		PollInterval:        time.Duration(cfg.Relay.PollInterval) * time.Millisecond,
		GasPriceBumpPercent: cfg.Relay.GasPriceBumpPercent,
		GasLimitOverhead:    cfg.Relay.GasLimitOverhead,
	}, services.NewPreflightValidator(logger.Component("preflight")), recorder, events, telemetry.Tracer(), logger.Component("relay"))

	if err := c.initChains(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}

	var cache services.ResultCache
	if c.Redis != nil {
		cache = c.Redis
	}
	c.GameResults = services.NewGameResultService(c.Store, cache, events, cfg.GolemDB.BTL, logger.Component("game-results"))
	c.AdminAuth = handlers.NewAdminAuthHandler(cfg.Admin, logger.Component("admin-auth"))

	log.Info("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) initInfrastructure(ctx context.Context) {
	log := logger.Component("container")
	cfg := c.Config

	if cfg.Database.DSN != "" {
		gdb, err := db.Open(cfg.Database.DSN, logger.Component("db"))
		if err != nil {
			log.WithError(err).Warn("⚠️  Relay audit log disabled")
		} else {
			c.DB = gdb
			c.RelayAttempts = repository.NewRelayAttemptRepository(gdb)
		}
	}

	if cfg.Redis.Host != "" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		cache, err := clients.NewRedisCache(ctx, addr, cfg.Redis.Password, cfg.Redis.DB, time.Duration(cfg.Redis.CacheTTL)*time.Second)
		if err != nil {
			log.WithError(err).Warn("⚠️  Leaderboard cache disabled")
		} else {
			c.Redis = cache
			log.WithField("addr", addr).Info("✅ Redis cache connected")
		}
	}

	if cfg.NATS.URL != "" {
		nc, err := clients.NewNATSClient(clients.NATSOptions{
			URL:           cfg.NATS.URL,
			Timeout:       time.Duration(cfg.NATS.Timeout) * time.Second,
			ReconnectWait: time.Duration(cfg.NATS.ReconnectWait) * time.Second,
			MaxReconnects: cfg.NATS.MaxReconnects,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, logger.Component("nats"))
		if err != nil {
			log.WithError(err).Warn("⚠️  NATS events disabled")
		} else {
			c.NATS = nc
		}
	}
}

func (c *ServiceContainer) initStore() error {
	store, err := NewEntityStore(c.Config)
	if err != nil {
		return err
	}
	c.Store = store
	return nil
}

// NewEntityStore returns the store selected by golemdb.backend. In development
// an rpc backend without a key falls back to the in-memory store.
func NewEntityStore(cfg *config.Config) (clients.EntityStore, error) {
	log := logger.Component("container")
	golem := cfg.GolemDB
	switch strings.ToLower(golem.Backend) {
	case "", "memory":
		owner := common.Address{}
		if golem.PrivateKey != "" {
			if key, err := crypto.HexToECDSA(strings.TrimPrefix(golem.PrivateKey, "0x")); err == nil {
				owner = crypto.PubkeyToAddress(key.PublicKey)
			}
		}
		log.Info("📦 Using in-memory entity store")
		return clients.NewMemoryEntityStore(owner), nil
	case "rpc":
		if golem.PrivateKey == "" {
			if cfg.IsDevelopment() {
				log.Warn("⚠️  GOLEM_PRIVATE_KEY not set, falling back to in-memory entity store")
				return clients.NewMemoryEntityStore(common.Address{}), nil
			}
			return nil, fmt.Errorf("golemdb: private key is required for the rpc backend")
		}
		if !common.IsHexAddress(golem.StorageAddress) {
			return nil, fmt.Errorf("golemdb: invalid storage address %q", golem.StorageAddress)
		}
		return clients.NewGolemDBClient(clients.GolemDBOptions{
			RPCURL:         golem.RPCURL,
			ChainID:        golem.ChainID,
			PrivateKey:     golem.PrivateKey,
			StorageAddress: common.HexToAddress(golem.StorageAddress),
			Timeout:        time.Duration(golem.Timeout) * time.Second,
		}, logger.Component("golemdb")), nil
	default:
		return nil, fmt.Errorf("golemdb: unknown backend %q", golem.Backend)
	}
}

// initEvents returns the publisher services write to. With NATS, events go out
// over NATS and come back through a subscription into the live feed; without it
// they go to the live feed directly.
func (c *ServiceContainer) initEvents() services.EventPublisher {
	if c.NATS == nil {
		return c.PushService
	}
	if err := c.NATS.SubscribeAll(c.PushService.PublishRaw); err != nil {
		logger.Component("nats").WithError(err).Warn("⚠️  Live feed subscription failed, pushing directly")
		return fanout{c.NATS, c.PushService}
	}
	return c.NATS
}

func (c *ServiceContainer) initChains(ctx context.Context) error {
	log := logger.Component("container")
	for name, network := range c.Config.Networks {
		if !network.Enabled {
			continue
		}
		entry := log.WithField("network", name)

		forwarder, ok := c.Contracts.ForwarderAddress(network.ChainID)
		if !ok {
			entry.Warn("⚠️  No forwarder configured, relay disabled for network")
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		client, err := clients.DialChain(dialCtx, network.ChainID, network.RPCEndpoints, entry)
		cancel()
		if err != nil {
			entry.WithError(err).Warn("⚠️  Chain unreachable, relay disabled for network")
			continue
		}
		c.ChainClients[network.ChainID] = client

		chainID := big.NewInt(network.ChainID)
		contracts, _ := c.Contracts.Contracts(network.ChainID)
		chain := &services.ChainRelay{
			ChainID:   chainID,
			Backend:   client,
			Forwarder: clients.NewForwarderClient(client, forwarder, chainID),
			Contracts: contracts,
			Decoders:  c.decoders(network.ChainID, contracts),
		}
		if key := c.Config.RelayerKey(network); key != "" {
			signer, err := services.NewPrivateKeySigningStrategy(key)
			if err != nil {
				return fmt.Errorf("network %s: %w", name, err)
			}
			chain.Relayer = signer
		} else {
			entry.Warn("⚠️  RELAYER_PRIVATE_KEY not set, relay requests will fail")
		}

		c.RelayService.RegisterChain(chain)
		entry.WithField("forwarder", forwarder.Hex()).Info("✅ Relay chain registered")
	}

	if len(c.RelayService.ChainIDs()) == 0 {
		log.Warn("⚠️  No relay chains available")
	}
	return nil
}

// decoders builds revert decoder chains for the known targets, preferring a
// configured ABI file over the built-in minimal ABI.
func (c *ServiceContainer) decoders(chainID int64, contracts config.ResolvedContracts) map[common.Address]services.RevertDecoderChain {
	out := make(map[common.Address]services.RevertDecoderChain)
	targets := []struct {
		name     string
		address  common.Address
		fallback abi.ABI
	}{
		{"game_engine", contracts.GameEngine, clients.GameEngineContractABI()},
		{"registrar", contracts.Registrar, clients.RegistrarContractABI()},
	}
	for _, t := range targets {
		if t.address == (common.Address{}) {
			continue
		}
		parsed := t.fallback
		if doc, err := c.Contracts.ABI(chainID, t.name); err != nil {
			logger.Component("container").WithError(err).Warn("⚠️  ABI reference unreadable, using built-in ABI")
		} else if doc != "" {
			if p, err := abi.JSON(strings.NewReader(doc)); err == nil {
				parsed = p
			}
		}
		out[t.address] = services.NewRevertDecoderChain(&parsed)
	}
	return out
}

// Router builds the HTTP surface over the container's services.
func (c *ServiceContainer) Router() *gin.Engine {
	cfg := c.Config
	devMode := cfg.IsDevelopment()
	return router.SetupRouter(router.Dependencies{
		CORS:         cfg.CORS,
		AllowedIPs:   cfg.Admin.AllowedIPs,
		Relay:        handlers.NewRelayHandler(c.RelayService, c.Contracts, cfg.Relay.GasCeilings, cfg.Relay.DefaultGas, devMode, logger.Component("relay-handler")),
		GameResults:  handlers.NewGameResultHandler(c.GameResults, devMode, logger.Component("game-results-handler")),
		AdminAuth:    c.AdminAuth,
		Admin:        handlers.NewAdminHandler(c.RelayAttempts, logger.Component("admin")),
		WebSocket:    handlers.NewWebSocketHandler(c.PushService),
		HealthChecks: c.healthChecks(),
		Logger:       logger.Component("http"),
	})
}

func (c *ServiceContainer) healthChecks() []handlers.HealthCheck {
	checks := []handlers.HealthCheck{{
		Name:     "entity_store",
		Required: true,
		Check:    c.Store.Connect,
	}}
	if c.DB != nil {
		gdb := c.DB
		checks = append(checks, handlers.HealthCheck{Name: "database", Check: func(ctx context.Context) error { return db.Ping(ctx, gdb) }})
	}
	if c.Redis != nil {
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: c.Redis.Ping})
	}
	for id, client := range c.ChainClients {
		client := client
		checks = append(checks, handlers.HealthCheck{
			Name: fmt.Sprintf("chain_%d", id),
			Check: func(ctx context.Context) error {
				_, err := client.BlockNumber(ctx)
				return err
			},
		})
	}
	return checks
}

// Close releases every handle. Safe to call on a partially built container.
func (c *ServiceContainer) Close(ctx context.Context) {
	log := logger.Component("container")
	if c.PushService != nil {
		c.PushService.Stop()
	}
	if c.NATS != nil {
		c.NATS.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.WithError(err).Warn("⚠️  Redis close failed")
		}
	}
	if c.Store != nil {
		c.Store.Close()
	}
	for _, client := range c.ChainClients {
		client.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if c.shutdownTracing != nil {
		if err := c.shutdownTracing(ctx); err != nil {
			log.WithError(err).Warn("⚠️  Tracing shutdown failed")
		}
	}
}

// fanout publishes to every publisher and returns the first error.
type fanout []services.EventPublisher

func (f fanout) Publish(subject string, payload interface{}) error {
	var first error
	for _, p := range f {
		if err := p.Publish(subject, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
