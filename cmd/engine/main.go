// Command engine wires the Coaching Session Engine's collaborators
// (provider adapters, durable stores, the topic catalog) and exposes the
// resulting *orchestrator.Orchestrator to whatever transport the deploying
// service layers on top (HTTP routing, authentication, and administrative
// CRUD endpoints are out of scope here, per spec.md section 1).
//
// # Configuration
//
// A YAML bootstrap file seeds the Model Registry and default Runtime Topic
// Configuration. Connection strings and provider credentials come from
// environment variables:
//
//	ENGINE_BOOTSTRAP_FILE   - path to the bootstrap YAML file (default: "bootstrap.yaml")
//	MONGO_URI               - MongoDB connection string (default: "mongodb://localhost:27017")
//	MONGO_DATABASE          - MongoDB database name (default: "coaching_engine")
//	REDIS_ADDR              - Redis address for the template cache (default: "localhost:6379")
//	S3_BUCKET               - bucket holding prompt markdown files
//	AWS_REGION              - AWS region for S3 and Bedrock (default: "us-east-1")
//	AWS_ACCESS_KEY_ID       - static AWS credentials (optional; when unset, no credentials are configured)
//	AWS_SECRET_ACCESS_KEY   - static AWS credentials (optional; read only when AWS_ACCESS_KEY_ID is set)
//	ANTHROPIC_API_KEY       - Anthropic provider credential
//	OPENAI_API_KEY          - OpenAI provider credential
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gopkg.in/yaml.v3"

	"github.com/mottych/purposepath-ai/agent/extraction"
	"github.com/mottych/purposepath-ai/agent/model"
	"github.com/mottych/purposepath-ai/agent/modelregistry"
	"github.com/mottych/purposepath-ai/agent/orchestrator"
	"github.com/mottych/purposepath-ai/agent/provider"
	"github.com/mottych/purposepath-ai/agent/provider/anthropic"
	"github.com/mottych/purposepath-ai/agent/provider/bedrock"
	"github.com/mottych/purposepath-ai/agent/provider/openai"
	"github.com/mottych/purposepath-ai/agent/runtimeconfig"
	runtimeconfigmongo "github.com/mottych/purposepath-ai/agent/runtimeconfig/mongo"
	sessionmongoclient "github.com/mottych/purposepath-ai/agent/session/mongo/clients/mongo"
	sessionmongo "github.com/mottych/purposepath-ai/agent/session/mongo"
	"github.com/mottych/purposepath-ai/agent/telemetry"
	"github.com/mottych/purposepath-ai/agent/template"
	"github.com/mottych/purposepath-ai/agent/template/s3store"
	"github.com/mottych/purposepath-ai/agent/topic"
)

// bootstrapConfig is the YAML-sourced seed for the Model Registry and the
// default Runtime Topic Configuration records, each applied to the
// (tenant, topic) pair it names unless a record for that pair already
// exists (spec.md 4.2).
type bootstrapConfig struct {
	Models []struct {
		Code               string  `yaml:"code"`
		Provider           string  `yaml:"provider"`
		ProviderModelID    string  `yaml:"provider_model_id"`
		Active             bool    `yaml:"active"`
		MinTemperature     float64 `yaml:"min_temperature"`
		MaxTemperature     float64 `yaml:"max_temperature"`
		CostPerInputToken  float64 `yaml:"cost_per_input_token"`
		CostPerOutputToken float64 `yaml:"cost_per_output_token"`
	} `yaml:"models"`

	DefaultRuntimeConfig []struct {
		TenantID            string  `yaml:"tenant_id"`
		TopicID             string  `yaml:"topic_id"`
		ModelCode           string  `yaml:"model_code"`
		Temperature         float64 `yaml:"temperature"`
		MaxTokens           int     `yaml:"max_tokens"`
		MaxTurns            int     `yaml:"max_turns"`
		SessionTTLHours     int     `yaml:"session_ttl_hours"`
		IdleTimeoutMinutes  int     `yaml:"idle_timeout_minutes"`
		ExtractionModelCode string  `yaml:"extraction_model_code"`
		FallbackModelCode   string  `yaml:"fallback_model_code"`
		Active              bool    `yaml:"active"`
	} `yaml:"default_runtime_config"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	bootstrapPath := envOr("ENGINE_BOOTSTRAP_FILE", "bootstrap.yaml")
	cfg, err := loadBootstrapConfig(bootstrapPath)
	if err != nil {
		return fmt.Errorf("load bootstrap config: %w", err)
	}

	modelRegistry := modelregistry.New()
	for _, m := range cfg.Models {
		if err := modelRegistry.Put(modelregistry.Entry{
			Code:               m.Code,
			Provider:           m.Provider,
			ProviderModelID:    m.ProviderModelID,
			Active:             m.Active,
			MinTemperature:     m.MinTemperature,
			MaxTemperature:     m.MaxTemperature,
			CostPerInputToken:  m.CostPerInputToken,
			CostPerOutputToken: m.CostPerOutputToken,
			Capabilities:       []modelregistry.Capability{modelregistry.CapabilityChat},
		}); err != nil {
			return fmt.Errorf("seed model registry entry %s: %w", m.Code, err)
		}
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	awsCfg := awsConfig()

	mongoClient, err := mongodriver.Connect(ctx, options.Client().ApplyURI(envOr("MONGO_URI", "mongodb://localhost:27017")))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf("disconnect mongo: %v", err)
		}
	}()
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	database := envOr("MONGO_DATABASE", "coaching_engine")

	sessionClient, err := sessionmongoclient.New(sessionmongoclient.Options{
		Client:   mongoClient,
		Database: database,
	})
	if err != nil {
		return fmt.Errorf("build session mongo client: %w", err)
	}
	sessionStore, err := sessionmongo.NewStore(sessionClient)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	configStore, err := runtimeconfigmongo.New(runtimeconfigmongo.Options{
		Client:   mongoClient,
		Database: database,
	}, modelRegistry)
	if err != nil {
		return fmt.Errorf("build runtime config store: %w", err)
	}
	if err := seedRuntimeConfig(ctx, configStore, cfg); err != nil {
		return fmt.Errorf("seed runtime config: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: envOr("REDIS_ADDR", "localhost:6379")})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}()

	s3Client := s3.NewFromConfig(awsCfg)
	objectLoader := s3store.New(s3Client, mustEnv("S3_BUCKET"))
	cachedLoader := template.NewRedisCachedLoader(objectLoader, redisClient, 5*time.Minute)
	renderer := template.NewRenderer(cachedLoader)

	topicRegistry := topic.NewRegistry()
	if err := registerTopics(topicRegistry, renderer); err != nil {
		return fmt.Errorf("register topics: %w", err)
	}

	adapters, err := buildProviderAdapters(awsCfg)
	if err != nil {
		return fmt.Errorf("build provider adapters: %w", err)
	}
	concurrency := map[string]int64{"anthropic": 16, "openai": 16, "bedrock": 8}
	gateway := provider.NewGateway(modelRegistry, adapters, concurrency, gatewayLoggerAdapter{logger})

	extractor := extraction.NewExtractor(gatewayDispatcherAdapter{gateway})

	eng := orchestrator.New(topicRegistry, configStore, sessionStore, gatewayAdapter{gateway}, renderer, extractor,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
	)

	log.Printf("coaching session engine ready: %d models, %d topics", len(modelRegistry.List()), len(topicRegistry.ListConversationTopics())+len(topicRegistry.ListSingleShotTopics()))
	_ = eng // wired for whatever transport layers on top; none is in scope here.

	return nil
}

// gatewayAdapter satisfies orchestrator.Gateway. It exists only because
// *provider.Gateway already implements the exact method the orchestrator
// needs; a named type keeps the orchestrator package free of a direct
// compile-time dependency on *provider.Gateway's concrete type.
type gatewayAdapter struct{ gw *provider.Gateway }

func (a gatewayAdapter) Dispatch(ctx context.Context, req provider.DispatchRequest) (*model.Response, error) {
	return a.gw.Dispatch(ctx, req)
}

// gatewayDispatcherAdapter satisfies extraction.Dispatcher by translating
// its locally declared DispatchRequest into provider.DispatchRequest.
type gatewayDispatcherAdapter struct{ gw *provider.Gateway }

func (a gatewayDispatcherAdapter) Dispatch(ctx context.Context, req extraction.DispatchRequest) (*model.Response, error) {
	return a.gw.Dispatch(ctx, provider.DispatchRequest{
		CorrelationID:     req.CorrelationID,
		PrimaryModelCode:  req.PrimaryModelCode,
		FallbackModelCode: req.FallbackModelCode,
		Messages:          req.Messages,
		Temperature:       req.Temperature,
		MaxTokens:         req.MaxTokens,
	})
}

// gatewayLoggerAdapter satisfies provider.Logger using the telemetry port.
type gatewayLoggerAdapter struct{ logger telemetry.Logger }

func (a gatewayLoggerAdapter) Info(ctx context.Context, msg string, keyvals ...any) {
	a.logger.Info(ctx, msg, keyvals...)
}

func (a gatewayLoggerAdapter) Warn(ctx context.Context, msg string, keyvals ...any) {
	a.logger.Warn(ctx, msg, keyvals...)
}

func buildProviderAdapters(awsCfg awssdk.Config) (map[string]model.Client, error) {
	adapters := make(map[string]model.Client)

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		client, err := anthropic.NewFromAPIKey(apiKey, anthropic.Options{MaxTokens: 1024, Temperature: 0.7})
		if err != nil {
			return nil, fmt.Errorf("build anthropic client: %w", err)
		}
		adapters["anthropic"] = client
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		client, err := openai.NewFromAPIKey(apiKey, openai.Options{MaxTokens: 1024, Temperature: 0.7})
		if err != nil {
			return nil, fmt.Errorf("build openai client: %w", err)
		}
		adapters["openai"] = client
	}

	brRuntime := bedrockruntime.NewFromConfig(awsCfg)
	brClient, err := bedrock.New(brRuntime, bedrock.Options{MaxTokens: 1024, Temperature: 0.7})
	if err != nil {
		return nil, fmt.Errorf("build bedrock client: %w", err)
	}
	adapters["bedrock"] = brClient

	return adapters, nil
}

// awsConfig builds an aws.Config from explicit environment variables,
// avoiding a dependency on the separate aws-sdk-go-v2/config module: ambient
// credential/region resolution is not required here since the engine's
// deployment always runs with explicit static credentials or an assumed
// role surfaced through these variables.
func awsConfig() awssdk.Config {
	cfg := awssdk.Config{Region: envOr("AWS_REGION", "us-east-1")}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(key, os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"))
	}
	return cfg
}

func loadBootstrapConfig(path string) (*bootstrapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg bootstrapConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func seedRuntimeConfig(ctx context.Context, store runtimeconfig.Store, cfg *bootstrapConfig) error {
	for _, rc := range cfg.DefaultRuntimeConfig {
		if _, err := store.Get(ctx, rc.TenantID, rc.TopicID); err == nil {
			continue // an administrative override already exists; bootstrap never clobbers it.
		}
		if err := store.Put(ctx, &runtimeconfig.Record{
			TenantID:            rc.TenantID,
			TopicID:             rc.TopicID,
			ModelCode:           rc.ModelCode,
			Temperature:         rc.Temperature,
			MaxTokens:           rc.MaxTokens,
			MaxTurns:            rc.MaxTurns,
			SessionTTLHours:     rc.SessionTTLHours,
			IdleTimeoutMinutes:  rc.IdleTimeoutMinutes,
			ExtractionModelCode: rc.ExtractionModelCode,
			FallbackModelCode:   rc.FallbackModelCode,
			Active:              rc.Active,
		}); err != nil {
			return fmt.Errorf("seed runtime config %s/%s: %w", rc.TenantID, rc.TopicID, err)
		}
	}
	return nil
}

// registerTopics registers the engine's topic catalog. Topic identity and
// shape are code, not data (spec.md 4.1): this is the single place new
// topics are added as the coaching product grows.
func registerTopics(reg *topic.Registry, renderer *template.Renderer) error {
	coreValues := topic.Definition{
		ID:   "COACHING:core_values",
		Kind: topic.KindConversation,
		Parameters: []topic.ParameterDescriptor{
			{Name: "business_context", Kind: topic.ValueKindString, Required: true},
		},
		Templates: map[topic.TemplateRole]topic.TemplateRef{
			topic.RoleSystem:     {Ref: "coaching/core_values/system.md"},
			topic.RoleInitiation: {Ref: "coaching/core_values/initiation.md"},
			topic.RoleResume:     {Ref: "coaching/core_values/resume.md"},
			topic.RoleExtraction: {Ref: "coaching/core_values/extraction.md"},
		},
		Schema: &topic.ResultSchema{
			ID: "CoreValuesResult",
			Fields: []topic.SchemaField{
				{
					Name: "values", Kind: topic.ValueKindArray, Required: true,
					Items: &topic.SchemaField{
						Kind: topic.ValueKindObject,
						Fields: []topic.SchemaField{
							{Name: "name", Kind: topic.ValueKindString, Required: true},
							{Name: "importance_rank", Kind: topic.ValueKindNumber, Required: true},
						},
					},
				},
			},
		},
		CompletionMarker: "[[COACHING_COMPLETE]]",
	}

	loadTemplate := func(ref topic.TemplateRef) (string, error) {
		return renderer.Load(context.Background(), ref)
	}
	return reg.Register(coreValues, loadTemplate, template.ExtractPlaceholders)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s is required", key)
	}
	return v
}
