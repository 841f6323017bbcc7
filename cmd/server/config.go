package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/events"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/services"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/transcript"
	"gopkg.in/yaml.v3"
)

// sourceConfig builds the agent the chat sessions talk to. storePath is where local graphs keep their
// threads; the returned close function releases whatever the source holds open.
type sourceConfig interface {
	source(storePath string, classifier events.Classifier, logger *slog.Logger) (transcript.Source, func() error, error)
}

// llmConfig is implemented by the providers that run the graph in-process on top of a chat model.
type llmConfig interface {
	llm(logger *slog.Logger) (services.LLM, error)
}

// BaseSourceConfig contains the common fields for all source configurations.
type BaseSourceConfig struct {
	Provider string `yaml:"provider"`
}

// BaseLLMConfig contains the common fields for the in-process providers.
type BaseLLMConfig struct {
	BaseSourceConfig `yaml:",inline"`
	Model            string `yaml:"model"`
	SystemPrompt     string `yaml:"systemPrompt"`
}

type config struct {
	Port       string
	LogLevel   slog.Level
	SessionTTL time.Duration
	Source     sourceConfig
	Graph      graphConfig
}

type graphConfig struct {
	EventTag       string `yaml:"eventTag"`
	GenerationNode string `yaml:"generationNode"`
	OutputKey      string `yaml:"outputKey"`
	FinalPolicy    string `yaml:"finalPolicy"`
}

type langgraphConfig struct {
	BaseSourceConfig `yaml:",inline"`
	URL              string `yaml:"url"`
	AssistantID      string `yaml:"assistantID"`
	InputKey         string `yaml:"inputKey"`
	APIKey           string `yaml:"apiKey"`
	// MaxEventSize caps one server-sent event of a run, in bytes.
	MaxEventSize     int    `yaml:"maxEventSize"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openaiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

const (
	defaultPort        = "8080"
	defaultAssistantID = "graph"
	defaultInputKey    = "question"
	defaultSessionTTL  = 30 * time.Minute
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port       string         `yaml:"port"`
		LogLevel   string         `yaml:"logLevel"`
		SessionTTL string         `yaml:"sessionTTL"`
		Source     map[string]any `yaml:"source"`
		Graph      graphConfig    `yaml:"graph"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}

	if rawConfig.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(rawConfig.LogLevel)); err != nil {
			return fmt.Errorf("invalid logLevel: %w", err)
		}
	}

	c.SessionTTL = defaultSessionTTL
	if rawConfig.SessionTTL != "" {
		ttl, err := time.ParseDuration(rawConfig.SessionTTL)
		if err != nil {
			return fmt.Errorf("invalid sessionTTL: %w", err)
		}
		c.SessionTTL = ttl
	}

	// The langgraph provider is the default, so a bare source block only needs the URL.
	provider, _ := rawConfig.Source["provider"].(string)
	if provider == "" {
		provider = "langgraph"
	}

	sourceRawYAML, err := yaml.Marshal(rawConfig.Source)
	if err != nil {
		return err
	}

	var src sourceConfig
	switch provider {
	case "langgraph":
		src = &langgraphConfig{}
	case "ollama":
		src = &ollamaConfig{}
	case "openai":
		src = &openaiConfig{}
	case "anthropic":
		src = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown source provider: %s", provider)
	}

	if err := yaml.Unmarshal(sourceRawYAML, src); err != nil {
		return err
	}

	if _, err := rawConfig.Graph.finalPolicy(); err != nil {
		return err
	}

	c.Source = src
	c.Graph = rawConfig.Graph

	return nil
}

func (g graphConfig) classifier() events.Classifier {
	return events.Classifier{
		EventTag:       g.EventTag,
		GenerationNode: g.GenerationNode,
		OutputKey:      g.OutputKey,
	}
}

func (g graphConfig) finalPolicy() (transcript.FinalPolicy, error) {
	switch g.FinalPolicy {
	case "", "ignoreAfterDelta":
		return transcript.FinalIgnoreAfterDelta, nil
	case "replace":
		return transcript.FinalReplace, nil
	default:
		return 0, fmt.Errorf("unknown graph finalPolicy: %s", g.FinalPolicy)
	}
}

func (l langgraphConfig) source(_ string, _ events.Classifier, logger *slog.Logger) (transcript.Source, func() error, error) {
	if l.URL == "" {
		return nil, nil, fmt.Errorf("url is required")
	}

	assistantID := l.AssistantID
	if assistantID == "" {
		assistantID = defaultAssistantID
	}
	inputKey := l.InputKey
	if inputKey == "" {
		inputKey = defaultInputKey
	}
	apiKey := l.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("LANGGRAPH_API_KEY")
	}

	lg := services.NewLangGraph(l.URL, assistantID, inputKey, apiKey, l.MaxEventSize, logger)
	return lg, func() error { return nil }, nil
}

// localSource wraps a chat model into an in-process graph whose threads live in a BoltDB file.
func localSource(
	cfg llmConfig,
	storePath string,
	classifier events.Classifier,
	logger *slog.Logger,
) (transcript.Source, func() error, error) {
	llm, err := cfg.llm(logger)
	if err != nil {
		return nil, nil, err
	}

	boltDB, err := services.NewBoltDB(storePath)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening thread store: %w", err)
	}

	return services.NewGraph(llm, boltDB, classifier, logger), boltDB.Close, nil
}

func (o ollamaConfig) llm(_ *slog.Logger) (services.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, o.SystemPrompt)
}

func (o ollamaConfig) source(storePath string, classifier events.Classifier, logger *slog.Logger) (transcript.Source, func() error, error) {
	return localSource(o, storePath, classifier, logger)
}

func (o openaiConfig) llm(logger *slog.Logger) (services.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, o.SystemPrompt, logger), nil
}

func (o openaiConfig) source(storePath string, classifier events.Classifier, logger *slog.Logger) (transcript.Source, func() error, error) {
	return localSource(o, storePath, classifier, logger)
}

func (a anthropicConfig) llm(_ *slog.Logger) (services.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, a.SystemPrompt, a.MaxTokens), nil
}

func (a anthropicConfig) source(storePath string, classifier events.Classifier, logger *slog.Logger) (transcript.Source, func() error, error) {
	return localSource(a, storePath, classifier, logger)
}
