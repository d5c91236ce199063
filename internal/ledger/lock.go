package ledger

import (
	"context"
	"os"
	"time"

	"github.com/ecoscout/ecoscout-go/internal/errors"
)

const lockRetryInterval = 5 * time.Millisecond

// errLockHeld is returned by tryLock when another holder owns the lock.
var errLockHeld = errors.NewStd("lock held")

// lockFile takes an exclusive advisory lock on path, creating it if needed,
// and waits until it is free or ctx is done.
func lockFile(ctx context.Context, path string) (unlock func(), err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600) //nolint:gosec // lock file next to the ledger
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		err := tryLock(f)
		if err == nil {
			return func() {
				_ = unlockFile(f)
				_ = f.Close()
			}, nil
		}
		if !errors.Is(err, errLockHeld) {
			_ = f.Close()
			return nil, err
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
