package app

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-admin/internal/crud"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/blob"
)

// NewBlobStore opens the attachment backend selected by ATTACHMENT_BACKEND.
func NewBlobStore(ctx context.Context, cfg *Config) (blob.Store, error) {
	switch cfg.AttachmentBackend {
	case BackendLocal:
		store, err := blob.NewLocal(cfg.AttachmentDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMinIO:
		store, err := blob.NewMinIO(ctx, blob.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown attachment backend %q", cfg.AttachmentBackend)
	}
}

// NewRegistry builds the sealed entity registry: built-in definitions
// followed by those in ENTITY_CONFIG_PATH.
func NewRegistry(cfg *Config) (*crud.Registry, error) {
	registry := crud.NewRegistry()
	for _, def := range crud.Builtins(cfg.Locales()...) {
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}
	if cfg.EntityConfigPath != "" {
		if err := registry.LoadFile(cfg.EntityConfigPath, crud.DefaultHooks()); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	return registry, nil
}
