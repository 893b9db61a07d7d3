package openai

import (
	"context"
	"fmt"

	"github.com/mikey/phish-filter/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClassifier implements core.Classifier with an OpenAI chat model
type OpenAIClassifier struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	threshold     float64
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIClassifier creates a new OpenAI classifier
func NewOpenAIClassifier(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	threshold float64,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClassifier {
	return &OpenAIClassifier{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		threshold:     threshold,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Classify asks the model for a phishing verdict
func (c *OpenAIClassifier) Classify(ctx context.Context, subject, body string) (bool, error) {
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: utils.PhishingSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: c.textProcessor.BuildPhishingPrompt(subject, body, c.maxBodySize),
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return false, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("empty response from OpenAI")
	}

	verdict, err := utils.ParseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return false, err
	}

	c.logger.Debug("OpenAI verdict",
		zap.String("model", c.modelName),
		zap.String("request_id", resp.ID),
		zap.Bool("is_phishing", verdict.IsPhishing),
		zap.Float64("score", verdict.Score),
		zap.String("explanation", verdict.Explanation))

	return verdict.Phishing(c.threshold), nil
}
