package embeddings

import (
	"fmt"
	"net/http"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/lexcounsel/memengine/internal/logging"
)

const (
	DefaultOpenAIModel     = "text-embedding-3-small"
	DefaultOpenAIDimension = 1536
)

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	// Provider is "openai" (default), "tei" or "ollama".
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
	// RPS paces requests; 0 means unlimited.
	RPS     float64
	Timeout time.Duration
}

// knownDimensions maps common models to their vector length.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"BAAI/bge-small-en-v1.5": 384,
	"BAAI/bge-base-en-v1.5":  768,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" && c.Provider == "openai" {
		c.Model = DefaultOpenAIModel
	}
	if c.Dimension == 0 {
		c.Dimension = knownDimensions[c.Model]
	}
	return c
}

// NewProvider builds an Adapter for cfg. Missing credentials or an unknown
// provider yield ErrEmbeddingUnavailable.
func NewProvider(cfg ProviderConfig, logger *logging.Logger) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: unknown dimension for model %q, set embeddings.dimension", ErrEmbeddingUnavailable, cfg.Model)
	}

	inner, err := newLangchainEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	return NewAdapter(inner, cfg.Provider, cfg.Model, cfg.Dimension,
		WithLogger(logger),
		WithRateLimit(cfg.RPS),
	)
}

func newLangchainEmbedder(cfg ProviderConfig) (lcembeddings.Embedder, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: OpenAI API key is not configured", ErrEmbeddingUnavailable)
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openAIEmbedder(opts)

	case "tei":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: TEI base URL is not configured", ErrEmbeddingUnavailable)
		}
		// TEI ignores the token but langchaingo requires one.
		token := cfg.APIKey
		if token == "" {
			token = "unused"
		}
		return openAIEmbedder([]openai.Option{
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(token),
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		})

	case "ollama":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: Ollama server URL is not configured", ErrEmbeddingUnavailable)
		}
		llm, err := ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: creating Ollama client: %v", ErrEmbeddingUnavailable, err)
		}
		emb, err := lcembeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("%w: creating embedder: %v", ErrEmbeddingUnavailable, err)
		}
		return emb, nil

	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrEmbeddingUnavailable, cfg.Provider)
	}
}

func openAIEmbedder(opts []openai.Option) (lcembeddings.Embedder, error) {
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating OpenAI client: %v", ErrEmbeddingUnavailable, err)
	}
	emb, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", ErrEmbeddingUnavailable, err)
	}
	return emb, nil
}
