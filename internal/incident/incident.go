// Package incident generates human-readable incident reports for security alerts.
package incident

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/securelink/internal/model"
)

// ReportRequest is the input handed to a report generator.
type ReportRequest struct {
	EventType      model.AlertType       `json:"eventType"`
	RecipientEmail string                `json:"recipientEmail"`
	Logs           []model.AccessAttempt `json:"logs"`
}

// Generator produces incident report text.
// Implement this interface to add new providers.
type Generator interface {
	GenerateReport(ctx context.Context, req ReportRequest) (string, error)
}

// ProviderType selects a Generator implementation.
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderNone   ProviderType = "none"
)

// Config holds report provider configuration.
type Config struct {
	Provider ProviderType

	GeminiAPIKey  string
	GeminiBaseURL string // overridable for tests and proxies
	GeminiModel   string

	OllamaBaseURL string
	OllamaModel   string
}

// NewGenerator creates a Generator based on cfg.
func NewGenerator(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini api key is required for the gemini report provider")
		}
		return NewGemini(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel), nil
	case ProviderOllama:
		return NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	case ProviderNone, "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown report provider %q", cfg.Provider)
	}
}

// Nop never produces a report; alerts are stored without one.
type Nop struct{}

// GenerateReport implements Generator.
func (Nop) GenerateReport(context.Context, ReportRequest) (string, error) {
	return "", ErrNoProvider
}

// ErrNoProvider is returned by Nop.
var ErrNoProvider = fmt.Errorf("no incident report provider configured")

// buildPrompt renders the access log into an instruction for the model.
func buildPrompt(req ReportRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a security analyst. Write a short incident report (at most 6 sentences) for the sender of a secure document link.

EVENT TYPE: %s
RECIPIENT: %s

Explain what happened, whether the activity looks like a brute-force attempt or link forwarding, and what the sender should do next. Plain text only.

ACCESS LOG (newest first):
`, req.EventType, req.RecipientEmail)
	if len(req.Logs) == 0 {
		b.WriteString("(no attempts recorded)\n")
	}
	for _, a := range req.Logs {
		result := "FAILED"
		if a.Success {
			result = "OK"
		}
		fmt.Fprintf(&b, "- %s %s ip=%s device=%s browser=%s os=%s\n",
			a.Timestamp.UTC().Format(time.RFC3339), result,
			a.Fingerprint.IP, a.Fingerprint.Device, a.Fingerprint.Browser, a.Fingerprint.OS)
	}
	b.WriteString("\nREPORT:")
	return b.String()
}
