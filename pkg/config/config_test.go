package config

import (
	"testing"

	"github.com/spf13/cobra"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd)
	return cmd
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	cmd := newTestCmd()
	cmd.Flags().Set("admin-api-key", "secret")
	if _, err := Load(cmd); err == nil {
		t.Fatal("expected error when database-url is missing")
	}
}

func TestLoadRequiresAdminAPIKey(t *testing.T) {
	cmd := newTestCmd()
	cmd.Flags().Set("database-url", "postgres://localhost/syncd")
	if _, err := Load(cmd); err == nil {
		t.Fatal("expected error when admin-api-key is missing")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cmd := newTestCmd()
	cmd.Flags().Set("database-url", "postgres://localhost/syncd")
	cmd.Flags().Set("admin-api-key", "secret")

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8080", cfg.Addr())
	}
}
