package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/phish-filter/internal/adapters/bedrock"
	"github.com/mikey/phish-filter/internal/adapters/gemini"
	"github.com/mikey/phish-filter/internal/adapters/openai"
	"github.com/mikey/phish-filter/internal/adapters/tfidf"
	"github.com/mikey/phish-filter/internal/config"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/mikey/phish-filter/internal/utils"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ClassifierFactory creates the configured classifier backend
type ClassifierFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: utils.NewTextProcessor(logger),
	}
}

// CreateClassifier creates a classifier based on classifier.provider.
// Every construction failure is a *core.ModelUnavailableError.
func (f *ClassifierFactory) CreateClassifier(ctx context.Context) (core.Classifier, error) {
	classifierCfg := f.cfg.GetClassifier()

	switch strings.ToLower(classifierCfg.Provider) {
	case "", "tfidf":
		c, err := tfidf.Load(classifierCfg.VectorizerPath, classifierCfg.ModelPath, classifierCfg.Threshold, f.logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		return f.createOpenAI(classifierCfg.Threshold)
	case "gemini":
		return f.createGemini(ctx, classifierCfg.Threshold)
	case "bedrock":
		return f.createBedrock(ctx, classifierCfg.Threshold)
	default:
		return nil, &core.ModelUnavailableError{
			Err: fmt.Errorf("unsupported classifier provider: %s", classifierCfg.Provider),
		}
	}
}

func llmThreshold(threshold float64) float64 {
	if threshold <= 0 {
		return tfidf.DefaultThreshold
	}
	return threshold
}

func (f *ClassifierFactory) createOpenAI(threshold float64) (core.Classifier, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" {
		return nil, &core.ModelUnavailableError{Path: "openai", Err: errors.New("openai API key is required")}
	}

	return openai.NewOpenAIClassifier(
		goopenai.NewClient(openaiCfg.APIKey),
		openaiCfg.ModelName,
		openaiCfg.MaxTokens,
		openaiCfg.Temperature,
		openaiCfg.TopP,
		openaiCfg.MaxBodySize,
		llmThreshold(threshold),
		f.logger,
		f.textProcessor,
	), nil
}

func (f *ClassifierFactory) createGemini(ctx context.Context, threshold float64) (core.Classifier, error) {
	geminiCfg := f.cfg.GetGemini()
	if geminiCfg.APIKey == "" {
		return nil, &core.ModelUnavailableError{Path: "gemini", Err: errors.New("gemini API key is required")}
	}

	c, err := gemini.NewGeminiClassifier(
		ctx,
		geminiCfg.APIKey,
		geminiCfg.ModelName,
		geminiCfg.MaxTokens,
		geminiCfg.Temperature,
		geminiCfg.TopP,
		geminiCfg.MaxBodySize,
		llmThreshold(threshold),
		f.logger,
		f.textProcessor,
	)
	if err != nil {
		return nil, &core.ModelUnavailableError{Path: "gemini", Err: err}
	}
	return c, nil
}

func (f *ClassifierFactory) createBedrock(ctx context.Context, threshold float64) (core.Classifier, error) {
	bedrockCfg := f.cfg.GetBedrock()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(bedrockCfg.Region))
	if err != nil {
		return nil, &core.ModelUnavailableError{
			Path: "bedrock",
			Err:  fmt.Errorf("failed to load AWS configuration: %w", err),
		}
	}

	return bedrock.NewBedrockClassifier(
		bedrockruntime.NewFromConfig(awsCfg),
		bedrockCfg.ModelID,
		bedrockCfg.MaxTokens,
		bedrockCfg.Temperature,
		bedrockCfg.TopP,
		bedrockCfg.MaxBodySize,
		llmThreshold(threshold),
		f.logger,
		f.textProcessor,
	), nil
}
