package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/improvements-api/internal/config"
	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/generation"
	"github.com/phrazzld/improvements-api/internal/platform/logger"
)

// contentGenerator is the subset of *genai.Models the describer calls.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Describer implements generation.Describer using the Gemini API.
type Describer struct {
	models     contentGenerator
	model      string
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

var _ generation.Describer = (*Describer)(nil)

// NewDescriber creates a Gemini-backed describer. It fails with
// generation.ErrInvalidConfig when the API key or model name is missing.
func NewDescriber(ctx context.Context, log *slog.Logger, cfg config.LLMConfig) (*Describer, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %w", generation.ErrInvalidConfig, err)
	}

	return newDescriber(client.Models, log, cfg), nil
}

func validateConfig(cfg config.LLMConfig) error {
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return fmt.Errorf("%w: gemini api key cannot be empty", generation.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ModelName) == "" {
		return fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	return nil
}

func newDescriber(models contentGenerator, log *slog.Logger, cfg config.LLMConfig) *Describer {
	if log == nil {
		log = slog.Default()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	delaySeconds := cfg.RetryDelaySeconds
	if delaySeconds < 1 {
		delaySeconds = 2
	}

	return &Describer{
		models:     models,
		model:      cfg.ModelName,
		maxRetries: maxRetries,
		baseDelay:  time.Duration(delaySeconds) * time.Second,
		logger:     log.With(slog.String("component", "gemini_describer"), slog.String("model", cfg.ModelName)),
		wait:       waitContext,
	}
}

// Describe implements generation.Describer.
func (d *Describer) Describe(ctx context.Context, entry *domain.TaskEntry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("%w: entry cannot be nil", generation.ErrGenerationFailed)
	}
	log := logger.FromContextOrDefault(ctx, d.logger).With(slog.String("task_entry_id", entry.ID))

	prompt, err := buildPrompt(entry)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			delay := d.backoff(attempt - 1)
			log.Debug("retrying description generation",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			if err := d.wait(ctx, delay); err != nil {
				return "", fmt.Errorf("%w: %w", generation.ErrGenerationFailed, err)
			}
		}

		text, err := d.generate(ctx, prompt)
		if err == nil {
			return cleanDescription(text)
		}
		if isPermanent(err) {
			log.Warn("description generation failed permanently", slog.String("error", err.Error()))
			return "", err
		}
		lastErr = err
	}

	log.Warn("description generation exhausted retries",
		slog.Int("max_retries", d.maxRetries),
		slog.String("error", lastErr.Error()))
	return "", fmt.Errorf("%w: exceeded %d retries: %w", generation.ErrTransientFailure, d.maxRetries, lastErr)
}

func (d *Describer) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := d.models.GenerateContent(ctx, d.model, genai.Text(prompt), nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", generation.ErrGenerationFailed, ctx.Err())
		}
		return "", fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: answer blocked", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: candidate has no content", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// isPermanent reports whether retrying err cannot help.
func isPermanent(err error) bool {
	return errors.Is(err, generation.ErrContentBlocked) ||
		errors.Is(err, generation.ErrInvalidResponse) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// backoff returns base * 2^attempt, scaled by a random factor in [0.5, 1).
func (d *Describer) backoff(attempt int) time.Duration {
	factor := math.Pow(2, float64(attempt)) * (0.5 + rand.Float64()*0.5)
	return time.Duration(float64(d.baseDelay) * factor)
}

func waitContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
