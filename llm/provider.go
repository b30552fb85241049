package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

// Provider is a chat-completion backed Client. Both configured
// providers speak the same wire protocol: the chat provider talks to
// its vendor directly, while the generative provider goes through that
// vendor's OpenAI-compatible endpoint, differing only in base URL,
// model name and chunk sizing.
type Provider struct {
	selector
	client          *openai.Client
	model           string
	temperature     float32
	chunkSize       int
	supportsRewrite bool
}

var _ Client = (*Provider)(nil)

// generativeBaseURL is the OpenAI-compatible endpoint of the
// generative-model vendor.
const generativeBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// NewProvider builds the Client selected by llm.provider.
func NewProvider(cfg config.LLMConfig, apiKey string) (*Provider, error) {
	switch cfg.Provider {
	case "chat":
		return newProvider("chat", apiKey, cfg.Chat, cfg.Chat.BaseURL, true), nil
	case "generative":
		var base = cfg.Generative.BaseURL
		if base == "" {
			base = generativeBaseURL
		}
		return newProvider("generative", apiKey, cfg.Generative, base, false), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func newProvider(name, apiKey string, cfg config.ProviderConfig, baseURL string, rewrite bool) *Provider {
	var clientCfg = openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	var p = &Provider{
		client:          openai.NewClientWithConfig(clientCfg),
		model:           cfg.Model,
		temperature:     float32(cfg.Temperature),
		chunkSize:       cfg.ChunkSize,
		supportsRewrite: rewrite,
	}
	p.selector = selector{
		name:      name,
		prompts:   cfg.Prompts,
		complete:  p.completeWithRetry,
		maxTokens: cfg.MaxTokens,
		sleep:     time.Sleep,
	}
	return p
}

// SelectByCategories implements Client.
func (p *Provider) SelectByCategories(ctx context.Context, messages []model.RawMessage, categoryCounts map[string]int, opts SelectOptions) (map[string][]Item, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = p.chunkSize
	}
	return p.selectByCategories(ctx, messages, categoryCounts, opts)
}

// RewriteDigest implements Client.
func (p *Provider) RewriteDigest(ctx context.Context, posts []model.Post, header, footer string) (string, error) {
	if !p.supportsRewrite {
		return "", ErrRewriteUnsupported
	}

	var digest strings.Builder
	digest.WriteString(header)
	digest.WriteString("\n\n")
	for i, post := range posts {
		fmt.Fprintf(&digest, "%d. %s — %s (%s)\n", i+1, post.Title, post.Description, post.SourceLink)
	}
	digest.WriteString("\n")
	digest.WriteString(footer)

	var reqID = newRequestID()
	var system, user = p.buildRewritePrompt(reqID, digest.String())
	var out, err = p.complete(ctx, reqID, system, user)
	if err != nil {
		return "", fmt.Errorf("rewrite digest: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// completeWithRetry issues one chat completion under the retry policy.
func (p *Provider) completeWithRetry(ctx context.Context, reqID, system, user string) (string, error) {
	var started = time.Now()
	var reply, err = withBackoff(ctx, reqID, func() (string, error) {
		var resp, err = p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       p.model,
			Temperature: p.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("empty choices in completion")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"req_id":   reqID,
		"provider": p.selector.name,
		"model":    p.model,
		"took":     time.Since(started).Round(time.Millisecond),
	}).Debug("llm call complete")
	return reply, nil
}
