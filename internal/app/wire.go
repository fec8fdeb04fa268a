package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/amongfriends/internal/blob/s3"
	"github.com/alanyoungcy/amongfriends/internal/cache/redis"
	"github.com/alanyoungcy/amongfriends/internal/chain"
	"github.com/alanyoungcy/amongfriends/internal/config"
	"github.com/alanyoungcy/amongfriends/internal/crypto"
	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/notify"
	"github.com/alanyoungcy/amongfriends/internal/orchestrator"
	"github.com/alanyoungcy/amongfriends/internal/platform/pinata"
	"github.com/alanyoungcy/amongfriends/internal/server/handler"
	"github.com/alanyoungcy/amongfriends/internal/service"
	"github.com/alanyoungcy/amongfriends/internal/store/postgres"
)

// Dependencies bundles every collaborator that the application modes need
// to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Chain
	Network  chain.Network
	Gateway  *chain.Gateway
	Contract *chain.BetContract

	// Stores
	BetIndex domain.BetIndexStore
	Audit    domain.AuditStore
	Lookup   domain.LookupStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Preferences domain.PreferenceStore

	// Blob storage; nil when s3.enabled is false.
	AuditArchiver *s3blob.AuditArchiver

	// Services
	Snapshots  *service.SnapshotService
	Allowances *service.AllowanceService
	Metadata   *service.MetadataService
	Lookups    *service.LookupService

	// Orchestration
	Flows *orchestrator.Registry

	// Sessions
	Sessions *crypto.SessionIssuer

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probe the backing services for /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Network and wallet ---
	overrides, err := cfg.Chain.ContractOverrides()
	if err != nil {
		return fail("chain contracts", err)
	}
	networks, err := chain.NewRegistry(overrides, cfg.Chain.Testnets)
	if err != nil {
		return fail("chain registry", err)
	}
	deps.Network, err = networks.Lookup(cfg.Chain.ChainID)
	if err != nil {
		return fail("chain network", err)
	}

	// A nil *Signer must not reach the gateway as a non-nil interface.
	var signer chain.TxSigner
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if keyCfg.Configured() {
		s, err := crypto.LoadSigner(keyCfg, cfg.Chain.ChainID)
		if err != nil {
			return fail("wallet", err)
		}
		signer = s
	} else {
		logger.WarnContext(ctx, "no wallet key configured, running read-only")
	}

	deps.Gateway, err = chain.Dial(ctx, chain.GatewayConfig{
		RPCURL:       cfg.Chain.RPCURL,
		ChainID:      cfg.Chain.ChainID,
		PollInterval: cfg.Chain.PollInterval.Duration,
		GasMarginPct: cfg.Chain.GasMarginPct,
	}, signer, logger)
	if err != nil {
		return fail("chain gateway", err)
	}
	closers = append(closers, deps.Gateway.Close)

	deps.Contract, err = chain.NewBetContract(deps.Gateway, deps.Network.Contract)
	if err != nil {
		return fail("bet contract", err)
	}
	tokens, err := chain.NewToken(deps.Gateway)
	if err != nil {
		return fail("token binding", err)
	}

	logger.InfoContext(ctx, "chain connected",
		slog.String("network", deps.Network.Name),
		slog.Uint64("chain_id", deps.Network.ChainID),
		slog.String("contract", deps.Network.Contract.Hex()),
		slog.Bool("wallet_connected", deps.Gateway.Connected()),
	)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.BetIndex = postgres.NewBetIndexStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Lookup = postgres.NewLookupStore(pool)
	deps.HealthChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	snapshotCache := redis.NewSnapshotCache(redisClient, deps.Network.ChainID, cfg.Redis.SnapshotTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, 3, time.Second)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Preferences = redis.NewPreferenceStore(redisClient, cfg.Server.SessionMaxAge.Duration)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	var (
		mirror domain.BlobWriter
		reader domain.BlobReader
	)
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		writer := s3blob.NewWriter(s3Client)
		mirror = writer
		reader = s3blob.NewReader(s3Client)
		deps.AuditArchiver = s3blob.NewAuditArchiver(writer, deps.Audit)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	pinner := pinata.NewClient(pinata.ClientConfig{
		Endpoint:   cfg.Pinning.Endpoint,
		GatewayURL: cfg.Pinning.GatewayURL,
		APIKey:     cfg.Pinning.APIKey,
		APISecret:  cfg.Pinning.APISecret,
		Timeout:    cfg.Pinning.Timeout.Duration,
	}, deps.RateLimiter)

	deps.Snapshots = service.NewSnapshotService(deps.Contract, snapshotCache, logger)
	deps.Allowances = service.NewAllowanceService(tokens, service.ApprovalPolicy(strings.ToLower(cfg.Approval.Policy)), logger)
	deps.Metadata = service.NewMetadataService(pinner, mirror, reader, logger)
	deps.Lookups = service.NewLookupService(deps.Lookup)

	// --- Orchestration ---
	flowDeps := &orchestrator.Deps{
		Wallet:     deps.Gateway,
		Contract:   deps.Contract,
		Allowances: deps.Allowances,
		Snapshots:  deps.Snapshots,
		Publisher:  deps.Metadata,
		Index:      deps.BetIndex,
		Reporter:   orchestrator.NewReporter(deps.SignalBus, deps.Notifier, deps.Audit, logger),
		ChainID:    deps.Network.ChainID,
		Logger:     logger,
	}
	deps.Flows = orchestrator.NewRegistry(flowDeps, deps.LockManager, cfg.Redis.LockTTL.Duration, logger)
	closers = append(closers, deps.Flows.Close)

	deps.Sessions = crypto.NewSessionIssuer(cfg.Server.SessionSecret, cfg.Server.SessionMaxAge.Duration)

	return deps, cleanup, nil
}
