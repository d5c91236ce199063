//go:build !unix && !windows

package ledger

import "os"

// Platforms without advisory locks rely on the in-process mutex only.
func tryLock(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
