package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/ppiankov/neurorouter"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockConfig configures the Bedrock Claude backend. Empty credentials
// fall back to the default AWS chain.
type BedrockConfig struct {
	Region          string
	Model           string
	AccessKeyID     string
	SecretAccessKey string
	MaxTokens       int
	Timeout         time.Duration
}

type bedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// Bedrock analyzes calls with an Anthropic model hosted on AWS Bedrock.
type Bedrock struct {
	api       bedrockAPI
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewBedrock loads AWS configuration and creates a Bedrock analyzer.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("bedrock: model is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return newBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func newBedrock(api bedrockAPI, cfg BedrockConfig) *Bedrock {
	b := &Bedrock{api: api, model: cfg.Model, maxTokens: cfg.MaxTokens, timeout: cfg.Timeout}
	if b.maxTokens == 0 {
		b.maxTokens = 1024
	}
	if b.timeout == 0 {
		b.timeout = 60 * time.Second
	}
	return b
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
	Temperature      float64         `json:"temperature"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type claudeStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (b *Bedrock) body(system string, req Request) ([]byte, error) {
	return json.Marshal(claudeRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        b.maxTokens,
		System:           system,
		Messages:         []claudeMessage{{Role: "user", Content: render(req)}},
	})
}

// Analyze asks the model for a structured verdict.
func (b *Bedrock) Analyze(ctx context.Context, req Request) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	body, err := b.body(verdictPrompt, req)
	if err != nil {
		return Verdict{}, unavailable(err)
	}
	out, err := b.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return Verdict{}, unavailable(throttled(err))
	}
	var resp claudeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return Verdict{}, unavailable(fmt.Errorf("decode response: %w", err))
	}
	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return Verdict{}, unavailable(fmt.Errorf("empty response from bedrock"))
	}
	v, err := ParseVerdict(text.String())
	if err != nil {
		return Verdict{}, unavailable(err)
	}
	v.Source = b.model
	return v, nil
}

// Stream relays content_block_delta events as narrative chunks.
func (b *Bedrock) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body, err := b.body(narrativePrompt, req)
	if err != nil {
		return nil, unavailable(err)
	}
	out, err := b.api.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, unavailable(throttled(err))
	}
	stream := out.GetStream()
	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer stream.Close()
		for ev := range stream.Events() {
			chunk, ok := ev.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var se claudeStreamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &se); err != nil {
				continue
			}
			if se.Type != "content_block_delta" || se.Delta.Text == "" {
				continue
			}
			select {
			case ch <- Chunk{Text: se.Delta.Text}:
			case <-ctx.Done():
				return
			}
		}
		final := Chunk{Done: true}
		if err := stream.Err(); err != nil {
			final.Err = unavailable(throttled(err))
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func throttled(err error) error {
	var te *types.ThrottlingException
	if errors.As(err, &te) {
		return fmt.Errorf("%w: %w", neurorouter.ErrRateLimited, err)
	}
	return err
}
