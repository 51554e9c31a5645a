//go:build !unix

package storage

import "os"

// Advisory locking is unix-only; elsewhere callers must ensure exclusive
// access themselves.
func lockFile(_ *os.File) error { return nil }

func unlockFile(_ *os.File) error { return nil }
