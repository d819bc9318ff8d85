package checkpoint

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
)

// HealthCheck verifies the checkpoint store's underlying connection is
// still alive, bounded by timeout -- the same PingContext idiom the
// teacher's repository factory uses, pulled out standalone so it can be
// exercised against any *sql.DB, mocked or real.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "checkpoint store ping failed", err)
	}
	return nil
}

// HealthCheck pings the store's own connection.
func (s *GormStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "get underlying sql.DB", err)
	}
	return HealthCheck(ctx, sqlDB, 10*time.Second)
}
