package storage

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"

	storageConfig "github.com/tigerroll/swell/pkg/batch/adapter/storage/config"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// DecodeStorageConfig decodes the named storage connection configuration.
// mapstructure reads the same yaml tags the file loader uses.
func DecodeStorageConfig(cfg *config.Config, name string) (storageConfig.StorageConfig, error) {
	var storageCfg storageConfig.StorageConfig

	rawConfig, ok := cfg.Swell.StorageConfigs[name]
	if !ok {
		return storageCfg, fmt.Errorf("storage configuration for name '%s' not found", name)
	}

	decoderConfig := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   &storageCfg,
		TagName:  "yaml",
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return storageCfg, fmt.Errorf("failed to create decoder for storage config '%s': %w", name, err)
	}
	if err := decoder.Decode(rawConfig); err != nil {
		return storageCfg, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	return storageCfg, nil
}

// DefaultStorageConnectionResolver selects the provider matching the configured
// storage type of a connection name.
type DefaultStorageConnectionResolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

// NewStorageConnectionResolver creates a resolver from the set of
// StorageProviders registered in the storage_providers group.
func NewStorageConnectionResolver(p struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}) *DefaultStorageConnectionResolver {
	providerMap := make(map[string]StorageProvider)
	for _, provider := range p.Providers {
		providerMap[provider.Type()] = provider
	}

	return &DefaultStorageConnectionResolver{
		providers: providerMap,
		cfg:       p.Cfg,
	}
}

// ResolveStorageConnection resolves a StorageConnection by the given name.
func (r *DefaultStorageConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	storageCfg, err := DecodeStorageConfig(r.cfg, name)
	if err != nil {
		return nil, err
	}

	provider, ok := r.providers[storageCfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", storageCfg.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage connection '%s' from provider '%s': %w", name, storageCfg.Type, err)
	}
	return conn, nil
}

// ResolveConnection is part of the coreAdapter.ResourceConnectionResolver interface.
func (r *DefaultStorageConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

// ResolveConnectionName is part of the coreAdapter.ResourceConnectionResolver interface.
// Dynamic resolution based on the execution or partition can be added here if needed.
func (r *DefaultStorageConnectionResolver) ResolveConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	logger.Debugf("Resolving storage connection name. Defaulting to '%s'.", defaultName)
	return defaultName, nil
}

var _ StorageConnectionResolver = (*DefaultStorageConnectionResolver)(nil)
