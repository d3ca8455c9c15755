package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/softdialer/internal/api/handlers"
	"github.com/acme/softdialer/internal/config"
	"github.com/acme/softdialer/internal/dialer"
	"github.com/acme/softdialer/internal/infra/db"
	"github.com/acme/softdialer/internal/infra/redis"
	"github.com/acme/softdialer/internal/queue"
	"github.com/acme/softdialer/internal/rating"
	"github.com/acme/softdialer/internal/repository"
	pgrepo "github.com/acme/softdialer/internal/repository/postgres"
	scyllarepo "github.com/acme/softdialer/internal/repository/scylla"
	callsvc "github.com/acme/softdialer/internal/service/call"
	transcriptsvc "github.com/acme/softdialer/internal/service/transcript"
	"github.com/acme/softdialer/internal/speech"
	"github.com/acme/softdialer/internal/telephony"
	telephonyMock "github.com/acme/softdialer/internal/telephony/mock"
	"github.com/acme/softdialer/internal/telephony/twilio"
	"github.com/acme/softdialer/pkg/logger"
)

const (
	eventTopicPartitions = 12
	eventTopicReplicas   = 1
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		err          error
		repositories *Repositories
		providers    *Providers
		publisher    *queue.EventPublisher
		orchestrator *dialer.Orchestrator
		services     *Services
	}
}

// Repositories groups the persistence adapters.
type Repositories struct {
	Agents      repository.AgentRepository
	CallRecords repository.CallRecordRepository
	CallEvents  repository.CallEventStore
}

// Providers groups the external service clients.
type Providers struct {
	Telephony   telephony.Provider
	Tokens      *twilio.TokenIssuer
	Transcriber speech.Transcriber
	Rater       rating.Rater
}

// Services groups the application services.
type Services struct {
	Call       *callsvc.Service
	Transcript *transcriptsvc.Service
}

// Build constructs a container for the given configuration path and prepares
// the storage schemas.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, Logger: lg}

	if c.Postgres, err = db.NewPostgres(ctx, cfg.Postgres); err != nil {
		return nil, c.abort(fmt.Errorf("bootstrap postgres: %w", err))
	}
	if cfg.Postgres.AutoMigrate {
		if err := pgrepo.Migrate(ctx, c.Postgres.DB()); err != nil {
			return nil, c.abort(fmt.Errorf("bootstrap postgres: %w", err))
		}
	}

	if c.Scylla, err = db.NewScylla(cfg.Scylla); err != nil {
		return nil, c.abort(fmt.Errorf("bootstrap scylla: %w", err))
	}
	if !cfg.Scylla.DisableInitSchema {
		if err := scyllarepo.NewCallEventStore(c.Scylla.Session()).InitSchema(ctx); err != nil {
			return nil, c.abort(fmt.Errorf("bootstrap scylla: %w", err))
		}
	}

	if c.Redis, err = redis.NewClient(ctx, cfg.Redis); err != nil {
		return nil, c.abort(fmt.Errorf("bootstrap redis: %w", err))
	}

	if c.Kafka, err = queue.NewKafka(cfg.Kafka); err != nil {
		return nil, c.abort(fmt.Errorf("bootstrap kafka: %w", err))
	}

	return c, nil
}

func (c *Container) abort(err error) error {
	if cerr := c.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config

		repos := &Repositories{
			Agents:      pgrepo.NewAgentRepository(c.Postgres.DB()),
			CallRecords: pgrepo.NewCallRecordRepository(c.Postgres.DB()),
			CallEvents:  scyllarepo.NewCallEventStore(c.Scylla.Session()),
		}

		providers, err := c.buildProviders()
		if err != nil {
			c.components.err = err
			return
		}

		publisher := queue.NewEventPublisher(c.Kafka, cfg.Kafka.EventTopic)

		orchestrator := dialer.NewOrchestrator(
			dialer.SettingsFromConfig(cfg.Telephony, cfg.Dialer),
			dialer.NewRegistry(),
			dialer.NewCallStore(cfg.Dialer.MetadataRetention, cfg.Dialer.MetadataMaxAge),
			dialer.NewConferenceNamer(cfg.Dialer.OutboundPrefix, cfg.Dialer.InboundPrefix),
			providers.Telephony,
			publisher,
			c.Logger,
		)

		services := &Services{
			Call: callsvc.NewService(repos.CallRecords, repos.Agents, repos.CallEvents, orchestrator),
			Transcript: transcriptsvc.NewService(
				providers.Telephony,
				providers.Transcriber,
				c.Redis,
				cfg.Speech.CacheTTL,
				providers.Rater,
				c.Logger,
			),
		}

		c.components.repositories = repos
		c.components.providers = providers
		c.components.publisher = publisher
		c.components.orchestrator = orchestrator
		c.components.services = services
	})
}

func (c *Container) buildProviders() (*Providers, error) {
	cfg := c.Config
	p := &Providers{}

	switch cfg.Telephony.Provider {
	case "mock":
		p.Telephony = telephonyMock.NewProvider()
	case "", "twilio":
		client, err := twilio.NewClient(cfg.Telephony, nil)
		if err != nil {
			return nil, fmt.Errorf("bootstrap telephony: %w", err)
		}
		p.Telephony = client
	default:
		return nil, fmt.Errorf("bootstrap telephony: unknown provider %q", cfg.Telephony.Provider)
	}

	tokens, err := twilio.NewTokenIssuer(cfg.Telephony, cfg.Dialer.TokenTTL)
	if err != nil {
		c.Logger.Warn("softphone tokens disabled", zap.Error(err))
	} else {
		p.Tokens = tokens
	}

	p.Transcriber = speech.NewGoogleTranscriber(cfg.Speech, p.Telephony, &http.Client{Timeout: cfg.Speech.RequestTimeout})
	p.Rater = rating.NewGeminiRater(cfg.Rating, &http.Client{Timeout: cfg.Rating.RequestTimeout})
	return p, nil
}

func (c *Container) ready() error {
	c.initComponents()
	return c.components.err
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() (*Repositories, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.components.repositories, nil
}

// Providers exposes external providers.
func (c *Container) Providers() (*Providers, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.components.providers, nil
}

// Orchestrator exposes the call router.
func (c *Container) Orchestrator() (*dialer.Orchestrator, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.components.orchestrator, nil
}

// Services exposes initialized services.
func (c *Container) Services() (*Services, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.components.services, nil
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() (*handlers.HandlerSet, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	deps := handlers.Dependencies{
		Orchestrator: c.components.orchestrator,
		Calls:        c.components.services.Call,
		Transcripts:  c.components.services.Transcript,
		PrivateKey:   c.Config.Dialer.PrivateKey,
		Health: map[string]handlers.HealthCheck{
			"postgres": c.Postgres.Ping,
			"scylla":   c.Scylla.Ping,
			"redis":    c.Redis.Ping,
		},
		Logger: c.Logger,
	}
	// A nil *TokenIssuer must stay a nil interface.
	if c.components.providers.Tokens != nil {
		deps.Tokens = c.components.providers.Tokens
	}
	return handlers.NewHandlerSet(deps), nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.EventTopic}, eventTopicPartitions, eventTopicReplicas)
}

// Close releases all held resources.
func (c *Container) Close() error {
	var errs []error
	if p := c.components.publisher; p != nil {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
