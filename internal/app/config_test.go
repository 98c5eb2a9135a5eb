package app

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/crud"
)

const entityFile = `
entities:
  - type: tags
    singular: Tag
    plural: Tags
    fields:
      - name: name
        type: text
        rule: required,max=60
    columns:
      - name: name
        sortable: true
    searchable: [name]
`

func setRequiredEnv(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, BackendLocal, cfg.AttachmentBackend)
	require.Equal(t, int64(10<<20), cfg.AttachmentMaxBytes)
	require.Equal(t, []string{"image/*", "application/pdf"}, cfg.AttachmentAllowedTypes)
	require.Equal(t, []string{"en", "id"}, cfg.Locales())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigParsesLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ATTACHMENT_ALLOWED_TYPES", "image/*,application/pdf")
	t.Setenv("SUPPORTED_LOCALES", "id,en,pt-BR")
	t.Setenv("DEFAULT_LOCALE", "id")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"image/*", "application/pdf"}, cfg.AttachmentAllowedTypes)
	require.Equal(t, []string{"id", "en", "pt-BR"}, cfg.Locales())
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{
			SessionSecret:      "s",
			CSRFSecret:         "c",
			LogLevel:           "info",
			SupportedLocales:   []string{"en"},
			DefaultLocale:      "en",
			AttachmentBackend:  BackendLocal,
			AttachmentDir:      "/tmp/att",
			AttachmentMaxBytes: 1,
		}
	}
	cases := map[string]func(*Config){
		"bad locale":      func(c *Config) { c.SupportedLocales = []string{"not a locale!"} },
		"bad default":     func(c *Config) { c.DefaultLocale = "??" },
		"unknown backend": func(c *Config) { c.AttachmentBackend = "ftp" },
		"minio no bucket": func(c *Config) { c.AttachmentBackend = BackendMinIO; c.MinIOEndpoint = "x:9000" },
		"zero max bytes":  func(c *Config) { c.AttachmentMaxBytes = 0 },
		"bad level":       func(c *Config) { c.LogLevel = "loud" },
		"no csrf":         func(c *Config) { c.CSRFSecret = "" },
	}
	ok := base()
	require.NoError(t, ok.Validate())
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.HasPrefix(out, "{"))
	require.Contains(t, out, `"msg":"shown"`)
}

func TestNewRegistryLoadsBuiltinsAndFile(t *testing.T) {
	path := t.TempDir() + "/entities.yaml"
	require.NoError(t, os.WriteFile(path, []byte(entityFile), 0o600))
	registry, err := NewRegistry(&Config{SupportedLocales: []string{"en", "id"}, DefaultLocale: "en", EntityConfigPath: path})
	require.NoError(t, err)
	_, err = registry.Get("tags")
	require.NoError(t, err)
	require.NotEmpty(t, registry.Types())
	require.ErrorIs(t, registry.Register(crud.EntityConfig{Type: "late", PermissionPrefix: "late"}), crud.ErrRegistrySealed)
}

func TestNewBlobStoreLocal(t *testing.T) {
	store, err := NewBlobStore(context.Background(), &Config{AttachmentBackend: BackendLocal, AttachmentDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, store)
	_, err = NewBlobStore(context.Background(), &Config{AttachmentBackend: "ftp"})
	require.Error(t, err)
}
