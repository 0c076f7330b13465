// Package config loads and validates the three configuration structures the
// graph engine and its collaborators depend on: GraphConfig, LLMConfig, and
// ContextConfig (spec.md §9). It mirrors the teacher's config.Load pattern —
// JSON files decoded with jsoniter, validated eagerly, with a defaulted
// constructor per structure.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Provider identifies which remote chat-completion vendor an LLMConfig
// targets.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAzure     Provider = "azure"
	ProviderAnthropic Provider = "anthropic"
)

// ReasoningEffort is the optional hint passed to reasoning-capable models.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// GraphConfig bounds one run of the Graph Engine.
type GraphConfig struct {
	// MaxIterations caps LLM<->Tool round trips within a single run.
	MaxIterations int `json:"max_iterations"`
	// ExecutionTimeoutMs is the total wall-clock deadline for a run.
	ExecutionTimeoutMs int `json:"execution_timeout_ms"`
	// EnableCancellation allows a dropped consumer to terminate the run early.
	EnableCancellation bool `json:"enable_cancellation"`
}

// ExecutionTimeout returns ExecutionTimeoutMs as a time.Duration.
func (c GraphConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutMs) * time.Millisecond
}

// DefaultGraphConfig returns the spec-mandated defaults (50 iterations, 300s).
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		MaxIterations:      50,
		ExecutionTimeoutMs: 300_000,
		EnableCancellation: true,
	}
}

// Validate rejects a GraphConfig that would make no forward progress.
func (c GraphConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("graph config: max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.ExecutionTimeoutMs <= 0 {
		return fmt.Errorf("graph config: execution_timeout_ms must be > 0, got %d", c.ExecutionTimeoutMs)
	}
	return nil
}

// LLMConfig selects the model and per-request sampling parameters for one run.
type LLMConfig struct {
	Model           string           `json:"model"`
	Provider        Provider         `json:"provider"`
	Temperature     *float32         `json:"temperature,omitempty"`
	MaxTokens       *uint32          `json:"max_tokens,omitempty"`
	ReasoningEffort *ReasoningEffort `json:"reasoning_effort,omitempty"`
}

// Validate ensures the minimal fields required to dispatch a request are set.
func (c LLMConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("llm config: model is required")
	}
	switch c.Provider {
	case ProviderOpenAI, ProviderAzure, ProviderAnthropic, "":
	default:
		return fmt.Errorf("llm config: unknown provider %q", c.Provider)
	}
	return nil
}

// WithDefaultProvider returns a copy with Provider defaulted to openai.
func (c LLMConfig) WithDefaultProvider() LLMConfig {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	return c
}

// ContextConfig bounds the prompt the Context Builder assembles.
type ContextConfig struct {
	MaxTokens           int    `json:"max_tokens"`
	SummarisationModel  string `json:"summarisation_model"`
	PromptTemplate      string `json:"prompt_template"`
	// ReasoningModelPrefixes resolves spec.md §9's flagged ambiguity: the
	// source hardcodes "gpt-5"/"o" prefixes, this repo makes them
	// configurable instead of guessing intent.
	ReasoningModelPrefixes []string `json:"reasoning_model_prefixes,omitempty"`
}

// SummaryPlaceholder is the token substituted with the live summary text.
const SummaryPlaceholder = "<summary>"

// NoSummaryMarker is substituted when no summary exists yet.
const NoSummaryMarker = "no summary available"

// DefaultContextConfig returns sane defaults for the prompt template and a
// generous token budget.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxTokens:              8000,
		SummarisationModel:     "gpt-4o-mini",
		PromptTemplate:         "You are a helpful assistant.\n\n[CONVERSATION SUMMARY]\n" + SummaryPlaceholder,
		ReasoningModelPrefixes: []string{"gpt-5", "o1", "o3", "o4"},
	}
}

// Validate ensures the token budget and template are usable.
func (c ContextConfig) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("context config: max_tokens must be > 0, got %d", c.MaxTokens)
	}
	return nil
}

// IsReasoningModel reports whether model matches one of the configured
// reasoning-family prefixes (spec.md §4.5 ¶1, §9 Open Question #2).
func (c ContextConfig) IsReasoningModel(model string) bool {
	for _, prefix := range c.ReasoningModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// TracingConfig selects whether and where Graph Engine runs are exported to
// Langfuse (SPEC_FULL.md's DOMAIN STACK tracing supplement, grounded on
// praxis-observability/src/langfuse). Host/PublicKey/SecretKey are read from
// the environment by LoadTracingConfigFromEnv, not the JSON bundle, matching
// how cmd/forged already sources OPENAI_API_KEY/GEMINI_API_KEY.
type TracingConfig struct {
	Enabled   bool
	Host      string
	PublicKey string
	SecretKey string
}

// LoadTracingConfigFromEnv builds a TracingConfig from LANGFUSE_HOST,
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY. Tracing is enabled only when
// both keys are present; a missing host falls back to Langfuse Cloud.
func LoadTracingConfigFromEnv() TracingConfig {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = "https://cloud.langfuse.com"
	}
	return TracingConfig{
		Enabled:   publicKey != "" && secretKey != "",
		Host:      strings.TrimRight(host, "/"),
		PublicKey: publicKey,
		SecretKey: secretKey,
	}
}

// Bundle groups the three configuration structures loaded together, mirroring
// the teacher's (Config, SystemConfig) pair returned from config.Load.
type Bundle struct {
	Graph   GraphConfig   `json:"graph"`
	Context ContextConfig `json:"context"`
}

// DefaultBundle returns all defaults composed together.
func DefaultBundle() Bundle {
	return Bundle{Graph: DefaultGraphConfig(), Context: DefaultContextConfig()}
}

// Validate validates every nested structure.
func (b Bundle) Validate() error {
	if err := b.Graph.Validate(); err != nil {
		return err
	}
	if err := b.Context.Validate(); err != nil {
		return err
	}
	return nil
}

// Load reads and parses a JSON bundle file. A missing file yields
// DefaultBundle(); fields absent from the file keep their defaults, while
// fields present in it (explicit zeros included) replace them and are then
// validated. Modeled on genesis/pkg/config/config.Load's read-then-validate
// flow.
func Load(path string) (Bundle, error) {
	b := DefaultBundle()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return Bundle{}, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	if err := json.Unmarshal(file, &b); err != nil {
		return Bundle{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	if err := b.Validate(); err != nil {
		return Bundle{}, err
	}

	return b, nil
}
