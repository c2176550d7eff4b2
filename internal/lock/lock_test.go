package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/smallbiznis/auditfile/internal/config"
)

func TestNewLockerWithoutClient(t *testing.T) {
	assert.Nil(t, NewLocker(nil))
}

func TestNewRedisClientDisabledWithoutAddr(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	assert.Nil(t, NewRedisClient(lc, config.Config{}, zap.NewNop()))
}

func TestTryLockRejectsBadArguments(t *testing.T) {
	l := &Locker{}
	ctx := context.Background()

	_, _, err := l.TryLock(ctx, "", time.Second)
	require.ErrorIs(t, err, ErrEmptyKey)

	_, _, err = l.TryLock(ctx, "job", 0)
	require.ErrorIs(t, err, ErrInvalidTTL)

	assert.NoError(t, l.Release(ctx, "job", ""))
}
