package vlm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvr/internal/data"
)

// Tier selects how much model effort an enrichment spends.
type Tier string

const (
	// TierSkip produces a template summary without any model call.
	TierSkip Tier = "skip"
	// TierFast uses the cheap local model.
	TierFast Tier = "fast"
	// TierBest uses the strongest configured model.
	TierBest Tier = "best"
)

// TierForSeverity maps initial severity to analysis effort. Low severity
// events are frequent and boring; spending a model call on each would
// drown the provider.
func TierForSeverity(sev data.EventSeverity) Tier {
	switch sev {
	case data.SeverityLow:
		return TierSkip
	case data.SeverityMedium:
		return TierFast
	default:
		return TierBest
	}
}

// Service routes describe and scan calls to the provider a user has
// configured, with a response cache in front. Providers are built lazily
// per settings and reused until the settings change.
type Service struct {
	cache *ResponseCache

	mu        sync.Mutex
	providers map[string]Provider // key: provider name + endpoint
}

func NewService(cache *ResponseCache) *Service {
	return &Service{
		cache:     cache,
		providers: make(map[string]Provider),
	}
}

// providerFor returns the provider and model for a settings/tier pair.
// Fast tier always prefers the local Ollama model when configured; best
// tier uses whatever external provider the user picked, falling back to
// Ollama.
func (s *Service) providerFor(settings data.UserSettings, tier Tier) (Provider, string, error) {
	name := settings.VLMProvider
	if tier == TierFast {
		name = "ollama"
	}

	switch name {
	case "openai":
		if settings.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("openai provider selected but no API key configured")
		}
		model := settings.OpenAIModel
		if model == "" {
			model = "gpt-4o-mini"
		}
		return s.cached("openai|"+settings.OpenAIBaseURL, func() Provider {
			return NewOpenAIProvider(settings.OpenAIBaseURL, settings.OpenAIAPIKey)
		}), model, nil
	case "gemini":
		if settings.GeminiAPIKey == "" {
			return nil, "", fmt.Errorf("gemini provider selected but no API key configured")
		}
		model := settings.GeminiModel
		if model == "" {
			model = "gemini-1.5-flash"
		}
		return s.cached("gemini", func() Provider {
			return NewGeminiProvider("", settings.GeminiAPIKey)
		}), model, nil
	default:
		model := settings.VLMModel
		if model == "" {
			model = "llava"
		}
		return s.cached("ollama|"+settings.VLMURL, func() Provider {
			return NewOllamaProvider(settings.VLMURL)
		}), model, nil
	}
}

func (s *Service) cached(key string, build func() Provider) Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.providers[key]; ok {
		return p
	}
	p := build()
	s.providers[key] = p
	return p
}

// Describe runs frame description at the given tier, consulting the
// response cache first. TierSkip never reaches a provider.
func (s *Service) Describe(ctx context.Context, settings data.UserSettings, tier Tier, frameJPEG []byte, prompt string) (string, error) {
	if tier == TierSkip {
		return "", fmt.Errorf("describe called with skip tier")
	}

	if s.cache != nil {
		if resp, ok := s.cache.Get(frameJPEG, string(tier)); ok {
			log.Printf("[DEBUG] VLM: cache hit for %s tier describe", tier)
			return resp, nil
		}
	}

	provider, model, err := s.providerFor(settings, tier)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := provider.DescribeFrame(ctx, DescribeRequest{
		Model:       model,
		Prompt:      prompt,
		ImageJPEG:   frameJPEG,
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		return "", fmt.Errorf("%s describe: %w", provider.Name(), err)
	}
	log.Printf("[DEBUG] VLM: %s/%s describe took %s", provider.Name(), model, time.Since(start).Round(time.Millisecond))

	if s.cache != nil {
		s.cache.Put(frameJPEG, string(tier), resp)
	}
	return resp, nil
}

// Scan runs the independent safety-scan prompt against the best tier.
// Scan replies are never cached: each scan must be a fresh look.
func (s *Service) Scan(ctx context.Context, settings data.UserSettings, frameJPEG []byte) (ScanVerdict, error) {
	provider, model, err := s.providerFor(settings, TierBest)
	if err != nil {
		return ScanVerdict{}, err
	}

	resp, err := provider.DescribeFrame(ctx, DescribeRequest{
		Model:       model,
		Prompt:      ScanPrompt(),
		ImageJPEG:   frameJPEG,
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		return ScanVerdict{}, fmt.Errorf("%s scan: %w", provider.Name(), err)
	}
	return ParseScanVerdict(resp), nil
}

// HealthCheck probes the provider a user's settings select.
func (s *Service) HealthCheck(ctx context.Context, settings data.UserSettings) error {
	provider, _, err := s.providerFor(settings, TierBest)
	if err != nil {
		return err
	}
	return provider.HealthCheck(ctx)
}
