package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadFrom tests env and file loading with various scenarios
func TestLoadFrom(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		yaml        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with secret from env",
			env:  map[string]string{"BODEGA_ENTITLEMENT_SECRET": "S3cr3t"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "S3cr3t", cfg.Entitlement.Secret)
				assert.Equal(t, "PDA", cfg.Entitlement.DevicePrefix)
				assert.Equal(t, 72*time.Hour, cfg.Entitlement.DemoDuration)
				assert.Equal(t, 4*time.Hour, cfg.Entitlement.HeartbeatInterval)
				assert.Equal(t, 60*time.Second, cfg.Entitlement.PollInterval)
				assert.Equal(t, 30*time.Minute, cfg.Entitlement.AuditInterval)
				assert.Equal(t, "http", cfg.Authority.Backend)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.True(t, filepath.IsAbs(cfg.Storage.DatabasePath))
			},
		},
		{
			name:    "missing secret is a configuration error",
			wantErr: true,
		},
		{
			name: "file values fill unset env",
			env:  map[string]string{"BODEGA_ENTITLEMENT_SECRET": "from-env"},
			yaml: `
entitlement:
  secret: from-file
  device_prefix: BOD
  poll_interval: 30s
authority:
  backend: memory
storage:
  database_path: "file::memory:"
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Entitlement.Secret)
				assert.Equal(t, "BOD", cfg.Entitlement.DevicePrefix)
				assert.Equal(t, 30*time.Second, cfg.Entitlement.PollInterval)
				assert.Equal(t, "memory", cfg.Authority.Backend)
				assert.Equal(t, "file::memory:", cfg.Storage.DatabasePath)
			},
		},
		{
			name: "sheets backend requires a sheet id",
			env: map[string]string{
				"BODEGA_ENTITLEMENT_SECRET": "S3cr3t",
				"BODEGA_AUTHORITY_BACKEND":  "sheets",
			},
			wantErr: true,
		},
		{
			name: "unknown backend rejected",
			env: map[string]string{
				"BODEGA_ENTITLEMENT_SECRET": "S3cr3t",
				"BODEGA_AUTHORITY_BACKEND":  "ftp",
			},
			wantErr: true,
		},
		{
			name: "poll slower than heartbeat rejected",
			env: map[string]string{
				"BODEGA_ENTITLEMENT_SECRET":             "S3cr3t",
				"BODEGA_ENTITLEMENT_POLL_INTERVAL":      "5h",
				"BODEGA_ENTITLEMENT_HEARTBEAT_INTERVAL": "4h",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			var file string
			if tt.yaml != "" {
				file = filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(file, []byte(tt.yaml), 0644))
			}

			cfg, err := LoadFrom(file)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoadAuthorityServer(t *testing.T) {
	t.Setenv("BODEGA_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadAuthorityServer()
	assert.Error(t, err, "jwt secret is mandatory")

	t.Setenv("BODEGA_AUTHORITY_SERVER_JWT_SECRET", "jwt")
	cfg, err := LoadAuthorityServer()
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.AuthorityServer.Port)
	assert.Empty(t, cfg.Entitlement.Secret)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "default config has no secret")

	cfg.Entitlement.Secret = "S3cr3t"
	assert.NoError(t, cfg.Validate())
}

func TestPathsResolve(t *testing.T) {
	p := &Paths{ExecutableDir: "/opt/bodega"}

	assert.Equal(t, filepath.Join("/opt/bodega", "data/bodega.db"), p.Resolve("data/bodega.db"))
	assert.Equal(t, "/var/lib/bodega.db", p.Resolve("/var/lib/bodega.db"))
	assert.Equal(t, "file::memory:", p.Resolve("file::memory:"))
	assert.Equal(t, "", p.Resolve(""))
}

func TestEnsureParent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "deeper", "bodega.db")

	require.NoError(t, EnsureParent(file))
	info, err := os.Stat(filepath.Dir(file))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.NoError(t, EnsureParent("file::memory:"))
}
