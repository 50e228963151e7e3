package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/patienthub/patienthub-go/agent"
)

// BedrockLLM is an adapter for models hosted on AWS Bedrock, using the
// Converse API.
type BedrockLLM struct {
	client  *bedrockruntime.Client
	modelID string
}

// BedrockConfig configures the Bedrock adapter. Credentials fall back to
// the default AWS chain (env, shared profile, instance role).
type BedrockConfig struct {
	ModelID         string
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	EndpointURL     string
}

// NewBedrockLLM creates a new Bedrock adapter.
func NewBedrockLLM(ctx context.Context, cfg BedrockConfig) (*BedrockLLM, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	configOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return &BedrockLLM{
		client:  bedrockruntime.NewFromConfig(awsConfig, clientOpts...),
		modelID: cfg.ModelID,
	}, nil
}

// Model returns the model identifier.
func (b *BedrockLLM) Model() string {
	return b.modelID
}

// Complete generates a completion.
func (b *BedrockLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...CallOption) (*agent.Message, error) {
	options := BuildCallOptions(opts...)

	converted, system := convertBedrockMessages(messages)
	if options.JSONMode {
		system = append(system, &types.SystemContentBlockMemberText{
			Value: "Respond with a single JSON object and nothing else.",
		})
	}

	maxTokens := 4096
	if options.MaxTokens != nil {
		maxTokens = *options.MaxTokens
	}
	inference := &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	if options.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*options.Temperature))
	}
	if options.TopP != nil {
		inference.TopP = aws.Float32(float32(*options.TopP))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(b.modelID),
		Messages:        converted,
		InferenceConfig: inference,
	}
	if len(system) > 0 {
		input.System = system
	}

	output, err := b.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock api error: %w", err)
	}

	var content strings.Builder
	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				content.WriteString(text.Value)
			}
		}
	}

	response := agent.NewMessage(agent.RoleAssistant, content.String())
	response.Metadata["model"] = b.modelID
	if output.Usage != nil {
		response.Metadata["usage"] = Usage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}
	if output.StopReason != "" {
		response.Metadata["stop_reason"] = string(output.StopReason)
	}
	return response, nil
}

func convertBedrockMessages(messages []*agent.Message) ([]types.Message, []types.SystemContentBlock) {
	var out []types.Message
	var system []types.SystemContentBlock
	for _, msg := range messages {
		role := chatRole(msg.Role)
		if role == agent.RoleSystem {
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Content})
			continue
		}
		bedrockRole := types.ConversationRoleAssistant
		if role == agent.RoleUser {
			bedrockRole = types.ConversationRoleUser
		}
		out = append(out, types.Message{
			Role:    bedrockRole,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
		})
	}
	// Converse requires at least one user turn.
	if len(out) == 0 && len(system) > 0 {
		var prompt []string
		for _, block := range system {
			prompt = append(prompt, block.(*types.SystemContentBlockMemberText).Value)
		}
		out = []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: strings.Join(prompt, "\n\n")}},
		}}
		system = nil
	}
	return out, system
}
