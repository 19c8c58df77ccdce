package config

import (
	"testing"

	"github.com/chainwatch/core/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	validateConfig(t, cfg, "YAML")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}

	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to load TOML config: %v", err)
	}

	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to auto-load YAML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected YAML")
}

func TestLoadFromFile_JSON(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to auto-load JSON config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected JSON")
}

func TestLoadFromFile_TOML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to auto-load TOML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected TOML")
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.Contains(t, err.Error(), "unsupported config file format")
}

// validateConfig checks that the loaded config has expected values
func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	require.NotEmpty(t, cfg.Chain.RPCURL, "[%s] chain.rpc_url should not be empty", format)
	require.NotEmpty(t, cfg.Chain.Finality, "[%s] chain.finality should have default value applied", format)
	require.NotZero(t, cfg.Chain.LogBatchSize, "[%s] chain.log_batch_size should not be zero", format)

	require.NotEmpty(t, cfg.DB.Path, "[%s] db.path should not be empty", format)
	require.NotEmpty(t, cfg.DB.JournalMode, "[%s] db.journal_mode should have default value", format)
	require.NotEmpty(t, cfg.DB.Synchronous, "[%s] db.synchronous should have default value", format)

	require.NotZero(t, cfg.Queue.HighWaterMark, "[%s] queue.high_water_mark should have default value", format)
	require.NotZero(t, cfg.Reorg.MaxReorgDepth, "[%s] reorg.max_reorg_depth should have default value", format)

	require.NotEmpty(t, cfg.Contracts, "[%s] there should be at least one contract configured", format)

	for i, contract := range cfg.Contracts {
		require.NotEmpty(t, contract.Address, "[%s] contracts[%d].address should not be empty", format, i)
		require.NotEmpty(t, contract.Kind, "[%s] contracts[%d].kind should have default value applied", format, i)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &config.Config{
		Chain: config.ChainConfig{
			RPCURL: "https://test.com",
		},
		DB: config.DatabaseConfig{
			Path: "./test.db",
		},
		Contracts: []config.ContractConfig{
			{Address: "0x1234"},
		},
	}

	cfg.ApplyDefaults()

	if cfg.Chain.Finality != "finalized" {
		t.Errorf("expected default finality=finalized, got %s", cfg.Chain.Finality)
	}

	if cfg.Chain.LogBatchSize != 5000 {
		t.Errorf("expected default log_batch_size=5000, got %d", cfg.Chain.LogBatchSize)
	}

	if cfg.DB.JournalMode != "WAL" {
		t.Errorf("expected default journal_mode=WAL, got %s", cfg.DB.JournalMode)
	}

	if cfg.DB.Synchronous != "NORMAL" {
		t.Errorf("expected default synchronous=NORMAL, got %s", cfg.DB.Synchronous)
	}

	if cfg.DB.BusyTimeout != 5000 {
		t.Errorf("expected default busy_timeout=5000, got %d", cfg.DB.BusyTimeout)
	}

	if cfg.DB.MaxOpenConnections != 25 {
		t.Errorf("expected default max_open_connections=25, got %d", cfg.DB.MaxOpenConnections)
	}

	if cfg.Queue.HighWaterMark != 10000 {
		t.Errorf("expected default queue.high_water_mark=10000, got %d", cfg.Queue.HighWaterMark)
	}

	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("expected default queue.max_attempts=3, got %d", cfg.Queue.MaxAttempts)
	}

	if cfg.Reorg.MaxReorgDepth != 256 {
		t.Errorf("expected default reorg.max_reorg_depth=256, got %d", cfg.Reorg.MaxReorgDepth)
	}

	if len(cfg.Contracts) > 0 && cfg.Contracts[0].Kind != "generic" {
		t.Errorf("expected default contract kind=generic, got %s", cfg.Contracts[0].Kind)
	}
}

func TestConfigValidation(t *testing.T) {
	validContracts := []config.ContractConfig{{Address: "0x1234"}}

	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: &config.Config{
				Chain:     config.ChainConfig{RPCURL: "https://test.com", Finality: "finalized"},
				DB:        config.DatabaseConfig{Path: "./test.db"},
				Contracts: validContracts,
			},
			wantErr: false,
		},
		{
			name: "missing rpc_url",
			cfg: &config.Config{
				DB:        config.DatabaseConfig{Path: "./test.db"},
				Contracts: validContracts,
			},
			wantErr: true,
		},
		{
			name: "invalid finality",
			cfg: &config.Config{
				Chain:     config.ChainConfig{RPCURL: "https://test.com", Finality: "invalid"},
				DB:        config.DatabaseConfig{Path: "./test.db"},
				Contracts: validContracts,
			},
			wantErr: true,
		},
		{
			name: "no contracts",
			cfg: &config.Config{
				Chain:     config.ChainConfig{RPCURL: "https://test.com"},
				DB:        config.DatabaseConfig{Path: "./test.db"},
				Contracts: []config.ContractConfig{},
			},
			wantErr: true,
		},
		{
			name: "missing db path",
			cfg: &config.Config{
				Chain:     config.ChainConfig{RPCURL: "https://test.com"},
				Contracts: validContracts,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
