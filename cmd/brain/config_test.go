package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harunnryd/brain/internal/config"

	"github.com/spf13/cobra"
)

func TestConfigInitCmd(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	if err := configInitCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("config init failed: %v", err)
	}

	configPath := filepath.Join(tmpDir, ".brain", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config file not created at %s: %v", configPath, err)
	}
	if !strings.Contains(string(data), "default_work_mode: semi_auto") {
		t.Fatalf("config template missing brain section:\n%s", data)
	}

	out.Reset()
	if err := configInitCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("config init should succeed when config exists: %v", err)
	}
	if !strings.Contains(out.String(), "already exists") {
		t.Fatalf("second init output = %q", out.String())
	}
}

func TestRedactConfigSecrets(t *testing.T) {
	original := &config.Config{
		Models: config.ModelsConfig{
			Registry: []config.ModelRegistry{
				{Name: "m1", APIKey: "sk-secret-123456"},
				{Name: "m2", APIKey: "abcd"},
			},
		},
		Adapters: config.AdaptersConfig{
			Slack: config.SlackConfig{
				SigningSecret: "slack-signing-secret",
				BotToken:      "slack-bot-token",
			},
			Telegram: config.TelegramConfig{
				BotToken: "telegram-secret-token",
			},
		},
	}

	redacted := redactConfigSecrets(original)

	if redacted == nil {
		t.Fatal("redacted config should not be nil")
	}
	if strings.Contains(redacted.Models.Registry[0].APIKey, "secret") {
		t.Fatal("masked model API key should not leak original value")
	}
	if redacted.Models.Registry[1].APIKey != "****" {
		t.Fatalf("short key = %q", redacted.Models.Registry[1].APIKey)
	}
	if redacted.Adapters.Slack.SigningSecret == original.Adapters.Slack.SigningSecret {
		t.Fatal("slack signing secret should be masked")
	}
	if redacted.Adapters.Slack.BotToken == original.Adapters.Slack.BotToken {
		t.Fatal("slack bot token should be masked")
	}
	if redacted.Adapters.Telegram.BotToken == original.Adapters.Telegram.BotToken {
		t.Fatal("telegram bot token should be masked")
	}
	if original.Models.Registry[0].APIKey != "sk-secret-123456" {
		t.Fatal("original config must not be modified")
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret(""); got != "" {
		t.Fatalf("empty secret: got %q", got)
	}
	if got := maskSecret("abc"); got != "****" {
		t.Fatalf("short secret: got %q", got)
	}

	got := maskSecret("abcdef")
	if got != "ab**ef" {
		t.Fatalf("maskSecret(abcdef) = %q", got)
	}
}
