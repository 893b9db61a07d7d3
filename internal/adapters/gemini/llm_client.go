package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/phish-filter/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiClassifier implements core.Classifier with Google Gemini
type GeminiClassifier struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	threshold     float64
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewGeminiClassifier creates a new Gemini classifier
func NewGeminiClassifier(
	ctx context.Context,
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	threshold float64,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(utils.PhishingSystemPrompt))

	return &GeminiClassifier{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		threshold:     threshold,
		logger:        logger,
		textProcessor: textProcessor,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClassifier) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Classify asks the model for a phishing verdict
func (c *GeminiClassifier) Classify(ctx context.Context, subject, body string) (bool, error) {
	prompt := c.textProcessor.BuildPhishingPrompt(subject, body, c.maxBodySize)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return false, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	text, err := replyText(resp)
	if err != nil {
		return false, err
	}

	verdict, err := utils.ParseVerdict(text)
	if err != nil {
		return false, err
	}

	c.logger.Debug("Gemini verdict",
		zap.String("model", c.modelName),
		zap.Bool("is_phishing", verdict.IsPhishing),
		zap.Float64("score", verdict.Score),
		zap.String("explanation", verdict.Explanation))

	return verdict.Phishing(c.threshold), nil
}

// replyText joins the text parts of the first candidate
func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply.WriteString(string(text))
		}
	}
	return reply.String(), nil
}
