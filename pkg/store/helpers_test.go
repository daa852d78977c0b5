package store

import "github.com/Mouseww/grok2api-pro/pkg/config"

func configFor(backend, path string) *config.StorageConfig {
	return &config.StorageConfig{Backend: backend, Path: path}
}
