package domain

import (
	"context"
)

// KnowledgeBaseProvider hands out the current knowledge base snapshot.
// Each inference call reads exactly one snapshot.
type KnowledgeBaseProvider interface {
	Current() *KnowledgeBase
}

// DiagnosisEngine runs the filter -> infer -> rank pipeline for a boundary layer
type DiagnosisEngine interface {
	Diagnose(ctx context.Context, req *DiagnosisRequest) (*DiagnosisResponse, error)
	KnowledgeBase() *KnowledgeBase
}

// ResultCache stores derived diagnosis responses. Implementations must
// treat a miss as (nil, false, nil).
type ResultCache interface {
	Get(ctx context.Context, key string) (*DiagnosisResponse, bool, error)
	Set(ctx context.Context, key string, resp *DiagnosisResponse) error
}

// KnowledgeBaseStore persists named knowledge-base snapshots
type KnowledgeBaseStore interface {
	Save(ctx context.Context, name string, kb *KnowledgeBase) error
	Load(ctx context.Context, name string) (*KnowledgeBase, error)
	Close() error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetKnowledgeBaseConfig() *KnowledgeBaseConfig
	GetInferenceConfig() *InferenceConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
