package embedding

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/axcore/pkg/logging"
)

const (
	// DefaultOpenAIModel is the embedding model used when none is configured.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultMaxInputTokens is the per-input token limit of OpenAI embedding models.
	DefaultMaxInputTokens = 8191

	tokenEncoding = "cl100k_base"

	// runesPerToken approximates the truncation limit when no tokenizer is available.
	runesPerToken = 3
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Dimensions     int
	MaxInputTokens int
}

// OpenAI embeds texts through an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client    openai.Client
	model     string
	reqDims   int // sent with each request only when configured
	dims      int // vector size observed by the probe
	maxTokens int
	enc       *tiktoken.Tiktoken
	logger    *logging.Logger
}

// NewOpenAI creates the provider and sends a probe request so that a bad key
// or unreachable endpoint surfaces as an initialisation failure.
//
// If cfg.APIKey is empty, OPENAI_API_KEY is used.
func NewOpenAI(ctx context.Context, cfg OpenAIConfig, logger *logging.Logger) (*OpenAI, error) {
	if logger == nil {
		logger = logging.Discard("embedding.openai")
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set embedding.api_key or OPENAI_API_KEY)")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	o := &OpenAI{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		reqDims:   cfg.Dimensions,
		maxTokens: cfg.MaxInputTokens,
		logger:    logger,
	}
	if o.model == "" {
		o.model = DefaultOpenAIModel
	}
	if o.maxTokens <= 0 {
		o.maxTokens = DefaultMaxInputTokens
	}

	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		logger.Warnf("Tokenizer %s unavailable, truncating by rune count: %v", tokenEncoding, err)
	} else {
		o.enc = enc
	}

	probe, err := o.Embed(ctx, []string{"probe"})
	if err != nil {
		return nil, fmt.Errorf("embedding probe failed: %w", err)
	}
	if len(probe) != 1 || len(probe[0]) == 0 {
		return nil, fmt.Errorf("embedding probe returned no vector")
	}
	o.dims = len(probe[0])
	return o, nil
}

// Name returns the provider name.
func (o *OpenAI) Name() string { return "openai:" + o.model }

// Dimensions returns the vector size reported by the endpoint.
func (o *OpenAI) Dimensions() int { return o.dims }

// Embed sends one request for all texts. Vectors are placed by the index the
// endpoint reports, so out-of-order responses are handled.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = o.truncate(t)
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: openai.EmbeddingModel(o.model),
	}
	if o.reqDims > 0 {
		params.Dimensions = openai.Int(int64(o.reqDims))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embeddings response has out-of-range index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		out[d.Index] = v
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embeddings response is missing index %d", i)
		}
	}
	return out, nil
}

func (o *OpenAI) truncate(text string) string {
	if o.enc == nil {
		limit := o.maxTokens * runesPerToken
		if r := []rune(text); len(r) > limit {
			return string(r[:limit])
		}
		return text
	}
	tokens := o.enc.Encode(text, nil, nil)
	if len(tokens) <= o.maxTokens {
		return text
	}
	o.logger.Debugf("Truncating embedding input from %d to %d tokens", len(tokens), o.maxTokens)
	return o.enc.Decode(tokens[:o.maxTokens])
}
