package factory

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"verify-service/internal/audit"
	"verify-service/internal/bucketing"
	"verify-service/internal/client"
	"verify-service/internal/config"
	"verify-service/internal/credential"
	"verify-service/internal/directory"
	"verify-service/internal/hashing"
	"verify-service/internal/matcher"
	redisrepo "verify-service/internal/repository/redis"
	"verify-service/internal/repository/scylla"
	"verify-service/internal/service"
	"verify-service/internal/session"
	"verify-service/internal/util"
	"verify-service/internal/vault"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher           *hashing.Hasher
	templateVault    *vault.TemplateVault
	bucketingManager *bucketing.BucketingManager

	// Application wiring
	trail               *audit.Trail
	credentialStore     *credential.Store
	candidateDirectory  *directory.Directory
	sessionEngine       *session.Engine
	verificationService *service.VerificationService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.String("matcher_mode", cfg.Matcher.Mode),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is a side channel; run without it rather than refuse to start.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch backs name search only; degrade without it.
	if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - name search disabled", util.ErrorField(err))
	} else {
		f.esClient = es
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse analytics mirror; degrade without it.
	if chc, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without analytics", util.ErrorField(err))
	} else {
		f.clickhouseClient = chc
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse health check failed", util.ErrorField(err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, the template vault, and bucketing
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(hashing.DefaultParams())
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	key, err := f.resolveVaultKey()
	if err != nil {
		return fmt.Errorf("vault key: %w", err)
	}

	tv, err := vault.New(key, util.Get())
	if err != nil {
		return fmt.Errorf("template vault: %w", err)
	}
	f.templateVault = tv

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("vault_initialized", f.templateVault != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)

	return nil
}

// resolveVaultKey obtains the 32-byte template key: KMS-unwrapped when
// KMS is enabled, otherwise from the hex-encoded environment key.
func (f *Factory) resolveVaultKey() ([]byte, error) {
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		kmsClient, err := client.NewKMSClient(ctx, f.config, util.Get())
		if err != nil {
			return nil, fmt.Errorf("kms client: %w", err)
		}
		key, err := kmsClient.DecryptDataKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("decrypt data key: %w", err)
		}
		util.Info("Vault key unwrapped via KMS", util.String("key_id", f.config.KMS.KeyID))
		return key, nil
	}

	if f.config.Vault.KeyHex == "" {
		return nil, fmt.Errorf("no vault key configured")
	}
	key, err := hex.DecodeString(f.config.Vault.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	return key, nil
}

// initializeServices wires repositories and domain services together
func (f *Factory) initializeServices() {
	verifierRepo := scylla.NewVerifierRepository(f.scyllaClient)
	candidateRepo := scylla.NewCandidateRepository(f.scyllaClient, f.bucketingManager)
	resultRepo := scylla.NewResultRepository(f.scyllaClient)
	auditRepo := scylla.NewAuditRepository(f.scyllaClient)

	var publisher audit.Publisher
	if f.kafkaProducer != nil {
		publisher = f.kafkaProducer
	}
	var analytics audit.BatchInserter
	if f.clickhouseClient != nil {
		analytics = f.clickhouseClient
	}
	f.trail = audit.NewTrail(auditRepo, publisher, analytics, f.bucketingManager, &f.config.Kafka)

	lockouts := redisrepo.NewLockoutCache(f.redisClient, f.config.Security.LockoutDuration)
	f.credentialStore = credential.NewStore(verifierRepo, lockouts, f.hasher, f.trail, f.config.Security)

	f.candidateDirectory = directory.New(candidateRepo, f.templateVault, f.esClient,
		f.trail, f.config.Elasticsearch, f.config.Import)

	f.sessionEngine = session.NewEngine(f.candidateDirectory, matcher.New(f.config.Matcher),
		resultRepo, f.trail, f.config.Matcher)

	f.verificationService = service.NewVerificationService(f.credentialStore, verifierRepo,
		f.candidateDirectory, f.sessionEngine, resultRepo, f.trail)
}

// HealthCheck reports per-dependency status for the health endpoint.
func (f *Factory) HealthCheck(ctx context.Context) map[string]string {
	status := make(map[string]string)

	report := func(name string, err error) {
		if err != nil {
			status[name] = err.Error()
		} else {
			status[name] = "healthy"
		}
	}

	if f.redisClient != nil {
		report("redis", f.redisClient.HealthCheck(ctx))
	} else {
		status["redis"] = "not initialized"
	}

	if f.scyllaClient != nil {
		report("scylla", f.scyllaClient.HealthCheck())
	} else {
		status["scylla"] = "not initialized"
	}

	if f.kafkaProducer != nil {
		report("kafka", f.kafkaProducer.HealthCheck(ctx))
	}
	if f.esClient != nil {
		report("elasticsearch", f.esClient.HealthCheck())
	}
	if f.clickhouseClient != nil {
		report("clickhouse", f.clickhouseClient.HealthCheck(ctx))
	}

	return status
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.trail != nil {
			f.trail.Close()
			util.Info("Audit trail flushed")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) VerificationService() *service.VerificationService {
	return f.verificationService
}
