// Package snapshot uploads per-step postmortem artifacts -- conservation
// loop counters and backbone transfer coefficients -- to an object
// store, so a run can be inspected after the fact without re-running it
// (§3 Lifecycle). It mirrors the teacher's internal/storage: a narrow
// Storage interface with a local-filesystem and a Tencent COS backend, and
// a factory that picks one from config.
package snapshot

import (
	"context"
	"fmt"
	"io"

	"github.com/nrnmpi/multisplit/pkg/config"
)

// Storage is the object-storage boundary a snapshot writer/reader uses.
type Storage interface {
	Upload(ctx context.Context, key string, reader io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	GetURL(key string) string
}

// BackendType names a Storage implementation.
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendCOS   BackendType = "cos"
)

// New creates a Storage from config: the COS backend for Type "cos", the
// local backend for "local" or an unset Type. Any other Type fails Validate.
func New(cfg *config.StorageConfig) (Storage, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	switch BackendType(cfg.Type) {
	case BackendCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// Validate checks that cfg carries everything its backend needs.
func Validate(cfg *config.StorageConfig) error {
	if cfg == nil {
		return fmt.Errorf("storage config is nil")
	}

	backend := BackendType(cfg.Type)
	if backend == "" {
		backend = BackendLocal
	}
	if backend != BackendCOS && backend != BackendLocal {
		return fmt.Errorf("unsupported snapshot storage type: %s", cfg.Type)
	}

	if backend == BackendCOS {
		if cfg.Bucket == "" {
			return fmt.Errorf("cos bucket is required")
		}
		if cfg.Region == "" {
			return fmt.Errorf("cos region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("cos credentials are required")
		}
	}
	if backend == BackendLocal && cfg.LocalPath == "" {
		return fmt.Errorf("local snapshot path is required")
	}

	return nil
}
