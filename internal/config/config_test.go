package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("SL_JWT_KEY", "k")
	t.Setenv("SL_GEO_TIMEOUT", "500ms")
	t.Setenv("SL_DEDUPE_SUSPICIOUS", "false")
	t.Setenv("SL_SMTP_PORT", "2525")
	t.Setenv("SL_USE_REMOTE_ADDR", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "k", cfg.JWTKey)
	require.Equal(t, 500*time.Millisecond, cfg.Geo.Timeout)
	require.False(t, cfg.Alerts.DedupeSuspicious)
	require.Equal(t, 2525, cfg.SMTP.Port)
	require.True(t, cfg.UseRemoteAddr)
	require.Equal(t, "none", cfg.Report.Provider)
}

func TestLoad_YAMLWithExpansion(t *testing.T) {
	t.Setenv("TEST_SL_KEY", "from-env")
	p := writeFile(t, "config.yaml", `
http_addr: ":8181"
jwt_key: "${TEST_SL_KEY}"
public_base_url: "https://docs.acme.test"
redis:
  url: "redis://localhost:6379/1"
  claim_ttl: 1h
report:
  provider: ollama
  ollama_base_url: "http://ollama:11434"
pin_throttle:
  max_fails: 3
alerts:
  dedupe_suspicious: false
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, ":8181", cfg.HTTPAddr)
	require.Equal(t, "from-env", cfg.JWTKey)
	require.Equal(t, time.Hour, cfg.Redis.ClaimTTL)
	require.Equal(t, "securelink:alerts", cfg.Redis.AlertQueue)
	require.Equal(t, "ollama", cfg.Report.Provider)
	require.Equal(t, 3, cfg.Throttle.MaxFails)
	require.Equal(t, 15*time.Minute, cfg.Throttle.Window)
	require.False(t, cfg.Alerts.DedupeSuspicious)
	require.False(t, cfg.UseRemoteAddr)

	t.Setenv("SL_HTTP_ADDR", ":9999")
	cfg, err = Load(p)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.HTTPAddr, "env beats yaml")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	require.ErrorContains(t, err, "jwt_key")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	p := writeFile(t, "bad.yaml", "http_addr: [")
	_, err = Load(p)
	require.ErrorContains(t, err, "parse config YAML")

	t.Setenv("SL_JWT_KEY", "k")
	t.Setenv("SL_GEO_TIMEOUT", "soon")
	_, err = Load("")
	require.ErrorContains(t, err, "SL_GEO_TIMEOUT")
}

func TestValidate(t *testing.T) {
	c := Default()
	c.JWTKey = "k"
	require.NoError(t, c.Validate())

	c.Report.Provider = "gemini"
	require.ErrorContains(t, c.Validate(), "gemini_api_key")
	c.Report.Provider = "gpt"
	require.ErrorContains(t, c.Validate(), "unknown report.provider")
	c.Report.Provider = "none"

	c.SMTP.Host = "smtp.acme.test"
	require.ErrorContains(t, c.Validate(), "smtp.from")
	c.SMTP.From = "noreply@acme.test"

	c.PublicBaseURL = "docs.acme.test"
	require.ErrorContains(t, c.Validate(), "public_base_url")
}
