package safetyfilter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

const seed int64 = 420

var ErrPromptRejected = errors.New("prompt rejected by safety filter")

type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// SafetyFilter screens prompts before any image is generated.
type SafetyFilter struct {
	client *openai.Client
	logger *zap.Logger
}

func NewSafetyFilter(apiKey string, logger *zap.Logger, opts ...option.RequestOption) (*SafetyFilter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SafetyFilter{
		client: openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		logger: logger,
	}, nil
}

func (f *SafetyFilter) classify(ctx context.Context, prompt string) (*Classification, error) {
	completion, err := f.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf("Prompt: %s", prompt)),
		}),
		ResponseFormat: openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONObjectParam{
				Type: openai.F(openai.ResponseFormatJSONObjectTypeJSONObject),
			},
		),
		Seed:        openai.F(seed),
		Model:       openai.F(openai.ChatModelGPT4oMini),
		Temperature: openai.F(0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("request to safety model failed: %w", err)
	}

	if len(completion.Choices) == 0 || len(completion.Choices[0].Message.Content) == 0 {
		return nil, fmt.Errorf("could not filter or validate prompt")
	}

	var res Classification
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &res); err != nil {
		return nil, fmt.Errorf("could not parse response: %w", err)
	}

	return &res, nil
}

func (f *SafetyFilter) Evaluate(ctx context.Context, prompt string) (*Verdict, error) {
	res, err := f.classify(ctx, prompt)
	if err != nil {
		return nil, err
	}

	verdict := Judge(res)
	if !verdict.Accepted {
		f.logger.Warn("prompt rejected", zap.String("reason", verdict.Reason))
	}

	return &verdict, nil
}

// Check is Evaluate folded into a single error: nil for accepted prompts and
// ErrPromptRejected (with the reason) otherwise.
func (f *SafetyFilter) Check(ctx context.Context, prompt string) error {
	verdict, err := f.Evaluate(ctx, prompt)
	if err != nil {
		return err
	}
	if !verdict.Accepted {
		return fmt.Errorf("%w: %s", ErrPromptRejected, verdict.Reason)
	}
	return nil
}

func Judge(res *Classification) Verdict {
	switch {
	case res.SexualizeChild || (res.Child && (res.Sexual || res.Nudity)):
		return Verdict{Reason: "contains child sexual content"}
	case res.Child && (res.Violence || res.Disturbing):
		return Verdict{Reason: "contains children and violent or disturbing content"}
	case (res.Sexual || res.Nudity) && len(res.Celebrities) > 0:
		return Verdict{Reason: "contains non-consensual sexual or nude content of a real person"}
	case res.Violence && res.Disturbing:
		return Verdict{Reason: "contains graphic violence"}
	case res.Weapon:
		return Verdict{Reason: "depicts a functional weapon"}
	}

	return Verdict{Accepted: true}
}
