// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
	"time"
)

// StageTimeouts bounds each external call made by a pipeline stage.
// The timeout applies per attempt, not across retries.
type StageTimeouts struct {
	Classify time.Duration `json:"classify" yaml:"classify" mapstructure:"classify"`
	Tag      time.Duration `json:"tag" yaml:"tag" mapstructure:"tag"`
	Embed    time.Duration `json:"embed" yaml:"embed" mapstructure:"embed"`
	Store    time.Duration `json:"store" yaml:"store" mapstructure:"store"`
	Search   time.Duration `json:"search" yaml:"search" mapstructure:"search"`
	Summary  time.Duration `json:"summary" yaml:"summary" mapstructure:"summary"`
}

// RetryConfig holds the retry counts and base backoff delays.
type RetryConfig struct {
	// CapabilityRetries is the number of retries for classification,
	// tagging, embedding, and summary calls (default 2).
	CapabilityRetries int `json:"capability_retries" yaml:"capability_retries" mapstructure:"capability_retries"`

	// CapabilityBackoff is the first backoff delay; it doubles per retry (default 1s).
	CapabilityBackoff time.Duration `json:"capability_backoff" yaml:"capability_backoff" mapstructure:"capability_backoff"`

	// StoreRetries is the number of retries for vector store operations (default 1).
	StoreRetries int `json:"store_retries" yaml:"store_retries" mapstructure:"store_retries"`

	// StoreBackoff is the delay before a vector store retry (default 500ms).
	StoreBackoff time.Duration `json:"store_backoff" yaml:"store_backoff" mapstructure:"store_backoff"`
}

// RoomThresholds overrides the global thresholds for one room. Zero
// values fall back to the global setting.
type RoomThresholds struct {
	SimilarityThreshold     float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	ClassificationThreshold float64 `json:"classification_threshold" yaml:"classification_threshold" mapstructure:"classification_threshold"`
}

// PipelineConfig is loaded once at startup and is read-only afterwards.
type PipelineConfig struct {
	// TargetRoom is the only room the pipeline processes.
	TargetRoom string `json:"target_room" yaml:"target_room" mapstructure:"target_room"`

	// SimilarityThreshold is the minimum similarity for a search result (default 0.75).
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`

	// MaxSearchResults is the maximum number of results kept per search (default 5).
	MaxSearchResults int `json:"max_search_results" yaml:"max_search_results" mapstructure:"max_search_results"`

	// SearchFetchFactor multiplies MaxSearchResults to size the vector
	// store fetch, leaving room for threshold filtering (default 3).
	SearchFetchFactor int `json:"search_fetch_factor" yaml:"search_fetch_factor" mapstructure:"search_fetch_factor"`

	// ClassificationThreshold gates the question path (default 0.7).
	ClassificationThreshold float64 `json:"classification_threshold" yaml:"classification_threshold" mapstructure:"classification_threshold"`

	// MaxSummarySources caps the sources passed to the summary step (default 5).
	MaxSummarySources int `json:"max_summary_sources" yaml:"max_summary_sources" mapstructure:"max_summary_sources"`

	// AnswerTypeFallback re-runs a search without the ANSWER type filter
	// when the answer-only search finds nothing (default true).
	AnswerTypeFallback bool `json:"answer_type_fallback" yaml:"answer_type_fallback" mapstructure:"answer_type_fallback"`

	Timeouts StageTimeouts `json:"timeouts" yaml:"timeouts" mapstructure:"timeouts"`
	Retries  RetryConfig   `json:"retries" yaml:"retries" mapstructure:"retries"`

	// RoomOverrides maps a room name to per-room thresholds.
	RoomOverrides map[string]RoomThresholds `json:"room_overrides,omitempty" yaml:"room_overrides,omitempty" mapstructure:"room_overrides"`
}

// DefaultPipelineConfig returns the documented defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TargetRoom:              "Techline",
		SimilarityThreshold:     0.75,
		MaxSearchResults:        5,
		SearchFetchFactor:       3,
		ClassificationThreshold: 0.7,
		MaxSummarySources:       5,
		AnswerTypeFallback:      true,
		Timeouts: StageTimeouts{
			Classify: 3 * time.Second,
			Tag:      3 * time.Second,
			Embed:    2 * time.Second,
			Store:    2 * time.Second,
			Search:   2 * time.Second,
			Summary:  5 * time.Second,
		},
		Retries: RetryConfig{
			CapabilityRetries: 2,
			CapabilityBackoff: time.Second,
			StoreRetries:      1,
			StoreBackoff:      500 * time.Millisecond,
		},
	}
}

// Validate reports the first invalid setting.
func (c PipelineConfig) Validate() error {
	if strings.TrimSpace(c.TargetRoom) == "" {
		return fmt.Errorf("target_room is required")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold %f out of range [0,1]", c.SimilarityThreshold)
	}
	if c.ClassificationThreshold < 0 || c.ClassificationThreshold > 1 {
		return fmt.Errorf("classification_threshold %f out of range [0,1]", c.ClassificationThreshold)
	}
	if c.MaxSearchResults <= 0 {
		return fmt.Errorf("max_search_results must be positive")
	}
	if c.MaxSummarySources <= 0 {
		return fmt.Errorf("max_summary_sources must be positive")
	}
	if c.Retries.CapabilityRetries < 0 || c.Retries.StoreRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	for room, o := range c.RoomOverrides {
		if o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 ||
			o.ClassificationThreshold < 0 || o.ClassificationThreshold > 1 {
			return fmt.Errorf("room_overrides[%s]: thresholds out of range [0,1]", room)
		}
	}
	return nil
}

// FetchSize is the number of candidates to request from the vector store
// for limit results. A factor below 1 counts as 1.
func FetchSize(limit, factor int) int {
	if factor < 1 {
		factor = 1
	}
	return limit * factor
}

// SimilarityFor returns the similarity threshold that applies to room.
func (c PipelineConfig) SimilarityFor(room string) float64 {
	if o, ok := c.override(room); ok && o.SimilarityThreshold > 0 {
		return o.SimilarityThreshold
	}
	return c.SimilarityThreshold
}

// ClassificationFor returns the classification threshold that applies to room.
func (c PipelineConfig) ClassificationFor(room string) float64 {
	if o, ok := c.override(room); ok && o.ClassificationThreshold > 0 {
		return o.ClassificationThreshold
	}
	return c.ClassificationThreshold
}

// override finds the thresholds for room. Config loaders may lowercase map
// keys, so an exact match is tried first and then a case-insensitive one.
func (c PipelineConfig) override(room string) (RoomThresholds, bool) {
	if o, ok := c.RoomOverrides[room]; ok {
		return o, true
	}
	for name, o := range c.RoomOverrides {
		if strings.EqualFold(name, room) {
			return o, true
		}
	}
	return RoomThresholds{}, false
}

// VectorBackend selects the VectorStore implementation.
type VectorBackend string

const (
	BackendSQLite VectorBackend = "sqlite"
	BackendQdrant VectorBackend = "qdrant"
	BackendMongo  VectorBackend = "mongo"
)

// VectorStoreConfig holds connection settings for the vector store.
type VectorStoreConfig struct {
	Backend VectorBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Dimension is the embedding size shared by every stored vector.
	Dimension int `json:"dimension" yaml:"dimension" mapstructure:"dimension"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path" mapstructure:"sqlite_path"`

	QdrantURL        string `json:"qdrant_url" yaml:"qdrant_url" mapstructure:"qdrant_url"`
	QdrantCollection string `json:"qdrant_collection" yaml:"qdrant_collection" mapstructure:"qdrant_collection"`
	QdrantAPIKey     string `json:"qdrant_api_key,omitempty" yaml:"qdrant_api_key,omitempty" mapstructure:"qdrant_api_key"`

	MongoURI         string `json:"mongo_uri" yaml:"mongo_uri" mapstructure:"mongo_uri"`
	MongoDatabase    string `json:"mongo_database" yaml:"mongo_database" mapstructure:"mongo_database"`
	MongoCollection  string `json:"mongo_collection" yaml:"mongo_collection" mapstructure:"mongo_collection"`
	MongoVectorIndex string `json:"mongo_vector_index" yaml:"mongo_vector_index" mapstructure:"mongo_vector_index"`
}

// AIProvider names an external text capability.
type AIProvider string

const (
	ProviderClaude AIProvider = "claude"
	ProviderOpenAI AIProvider = "openai"
	ProviderVertex AIProvider = "vertex"
)

// AIConfig holds settings for the classification, generation, and
// embedding capabilities.
type AIConfig struct {
	// Provider serves classification, tagging, and summary generation.
	Provider AIProvider `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the generation model identifier.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// EmbedProvider serves embeddings (openai or vertex).
	EmbedProvider AIProvider `json:"embed_provider" yaml:"embed_provider" mapstructure:"embed_provider"`

	// EmbedModel is the embedding model identifier.
	EmbedModel string `json:"embed_model" yaml:"embed_model" mapstructure:"embed_model"`

	AnthropicAPIKey string `json:"anthropic_api_key,omitempty" yaml:"anthropic_api_key,omitempty" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key,omitempty" yaml:"openai_api_key,omitempty" mapstructure:"openai_api_key"`
	OpenAIBaseURL   string `json:"openai_base_url,omitempty" yaml:"openai_base_url,omitempty" mapstructure:"openai_base_url"`

	// GCP settings for the vertex provider.
	ProjectID       string `json:"project_id,omitempty" yaml:"project_id,omitempty" mapstructure:"project_id"`
	Location        string `json:"location,omitempty" yaml:"location,omitempty" mapstructure:"location"`
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty" mapstructure:"credentials_file"`
}

// CacheConfig configures the optional embedding cache. An empty
// RedisAddr disables caching.
type CacheConfig struct {
	RedisAddr string        `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`
	TTL       time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// IndexerConfig holds settings for historical backfills.
type IndexerConfig struct {
	// Workers bounds concurrent messages in flight (default 4).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// BatchSize is the number of messages between progress reports (default 25).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// BacklogLimit keeps only the most recent N target-room messages (default 500).
	BacklogLimit int `json:"backlog_limit" yaml:"backlog_limit" mapstructure:"backlog_limit"`
}

// ServerConfig holds settings for the HTTP transport adapter.
type ServerConfig struct {
	Addr         string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
}

// Config groups every setting the recall binary needs.
type Config struct {
	Pipeline PipelineConfig    `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Store    VectorStoreConfig `json:"store" yaml:"store" mapstructure:"store"`
	AI       AIConfig          `json:"ai" yaml:"ai" mapstructure:"ai"`
	Cache    CacheConfig       `json:"cache" yaml:"cache" mapstructure:"cache"`
	Indexer  IndexerConfig     `json:"indexer" yaml:"indexer" mapstructure:"indexer"`
	Server   ServerConfig      `json:"server" yaml:"server" mapstructure:"server"`
	LogMode  string            `json:"log_mode" yaml:"log_mode" mapstructure:"log_mode"`
}

// DefaultConfig returns a Config populated with defaults for every section.
func DefaultConfig() Config {
	return Config{
		Pipeline: DefaultPipelineConfig(),
		Store: VectorStoreConfig{
			Backend:          BackendSQLite,
			Dimension:        1536,
			SQLitePath:       "data/recall.db",
			QdrantCollection: "recall_messages",
			MongoDatabase:    "recall",
			MongoCollection:  "messages",
			MongoVectorIndex: "message_embedding_index",
		},
		AI: AIConfig{
			Provider:      ProviderClaude,
			Model:         "claude-sonnet-4-5-20250929",
			EmbedProvider: ProviderOpenAI,
			EmbedModel:    "text-embedding-3-small",
			Location:      "us-central1",
		},
		Cache: CacheConfig{TTL: 24 * time.Hour},
		Indexer: IndexerConfig{
			Workers:      4,
			BatchSize:    25,
			BacklogLimit: 500,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		LogMode: "dev",
	}
}
