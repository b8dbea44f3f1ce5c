package config

import (
	"strings"
	"testing"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/testutil/testlog"
	"github.com/spf13/viper"
)

func defaultConfig(t *testing.T) Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		t.Fatalf("unmarshal defaults: %v", err)
	}
	return c
}

func TestDefaultsAreValid(t *testing.T) {
	testlog.Start(t)

	c := defaultConfig(t)
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Server.Port != 8080 || c.CardLink.MessageTimeout != 5*time.Second || c.Smartcard.PollInterval != 500*time.Millisecond {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	testlog.Start(t)

	cases := map[string]func(*Config){
		"server.port":              func(c *Config) { c.Server.Port = 70000 },
		"cardlink.message_timeout": func(c *Config) { c.CardLink.MessageTimeout = 0 },
		"prescription.timeout":     func(c *Config) { c.Prescription.Timeout = -time.Second },
		"smartcard.poll_interval":  func(c *Config) { c.Smartcard.PollInterval = 0 },
	}
	for key, mutate := range cases {
		c := defaultConfig(t)
		mutate(&c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("%s: err = %v", key, err)
		}
	}
}

func TestLoadReadsFileAndEnvironment(t *testing.T) {
	testlog.Start(t)

	t.Setenv("CARDLINK_MESSAGE_TIMEOUT", "2s")
	t.Setenv("CARDLINK_TENANT_TOKEN", "tenant-from-env")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.CardLink.URL != "wss://cardlink.example.org/websocket" {
		t.Fatalf("url = %q", c.CardLink.URL)
	}
	if c.CardLink.MessageTimeout != 2*time.Second || c.CardLink.TenantToken != "tenant-from-env" {
		t.Fatalf("env overrides not applied: %+v", c.CardLink)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	testlog.Start(t)

	t.Setenv("SERVER_PORT", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}
