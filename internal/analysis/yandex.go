package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Morwran/yagpt"
)

type YandexGateway struct {
	ya       yagpt.YaGPTFace
	iamToken string
	timeout  time.Duration
}

func NewYandex(oauthToken, folderID string, timeout time.Duration) (*YandexGateway, error) {
	// Create IAM token from OAuth token
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create iam token: %w", err)
	}

	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	return &YandexGateway{
		ya:       ya,
		iamToken: resp.IamToken,
		timeout:  timeout,
	}, nil
}

func (g *YandexGateway) Analyze(ctx context.Context, description, decision string, considerations []string) (Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := []yagpt.Message{
		{Role: "system", Content: systemPrompt()},
		{Role: "user", Content: userPrompt(description, decision, considerations)},
	}

	resp, err := g.ya.CompletionWithCtx(ctx, g.iamToken, messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Analysis{}, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return Analysis{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return Analysis{}, fmt.Errorf("%w: empty yagpt response", ErrMalformed)
	}
	return parseAnalysis(resp.Alternatives[0].Message.Content)
}
