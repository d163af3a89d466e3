package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/neofeed/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	summaryInputLimit  = 3000
	classifyInputLimit = 2000
)

type GPTConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxKeywords       int
}

// GPTClassifier runs the summary, category and keyword prompts against a chat-completion API.
type GPTClassifier struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	maxKeywords int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewGPTClassifier(cfg GPTConfig, logger *zap.Logger) *GPTClassifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond*2)+1)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 8
	}

	return &GPTClassifier{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxKeywords: cfg.MaxKeywords,
		limiter:     limiter,
		logger:      logger,
	}
}

func (c *GPTClassifier) Model() string {
	return c.model
}

func (c *GPTClassifier) Summarize(ctx context.Context, content string) (string, error) {
	prompt := fmt.Sprintf(`Summarize the core points of the following content in 3 sentences:

%s

Requirements:
1. First sentence: overall summary
2. Second sentence: key argument
3. Third sentence: takeaway or conclusion

Return only the summary.`, truncate(content, summaryInputLimit))

	return c.complete(ctx, "You are a professional content summarization assistant.", prompt, 0.7, 300)
}

func (c *GPTClassifier) Classify(ctx context.Context, content string) (string, error) {
	prompt := fmt.Sprintf(`Classify the following content into exactly one of these topics:
%s

Content:
%s

Return only the topic name.`, strings.Join(Categories, ", "), truncate(content, classifyInputLimit))

	answer, err := c.complete(ctx, "You are a professional content classification assistant.", prompt, 0.3, 20)
	if err != nil {
		return "", err
	}

	category := MatchCategory(answer)
	if category == CategoryOther && !strings.EqualFold(strings.TrimSpace(answer), CategoryOther) {
		c.logger.Debug("Model answered outside the category vocabulary",
			zap.String("answer", answer))
	}
	return category, nil
}

func (c *GPTClassifier) ExtractKeywords(ctx context.Context, content string) ([]string, error) {
	prompt := fmt.Sprintf(`Extract 5-8 keywords from the following content:

%s

Return only the keywords, separated by commas.

Example: AI,product design,user experience,growth,data analysis`, truncate(content, classifyInputLimit))

	answer, err := c.complete(ctx, "You are a professional keyword extraction assistant.", prompt, 0.3, 100)
	if err != nil {
		return nil, err
	}
	return SplitKeywords(answer, c.maxKeywords), nil
}

// complete issues one chat completion bounded by the configured timeout.
func (c *GPTClassifier) complete(ctx context.Context, system, prompt string, temperature float32, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", models.ErrExternalService, err)
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: system,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", models.ErrExternalService, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", models.ErrExternalService)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
