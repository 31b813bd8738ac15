package dedrm

import (
	"errors"
	"fmt"
	"os"

	"ogreclient/internal/config"
)

// KindleKeyExists reports whether kindle key material is on disk.
func KindleKeyExists(cfg *config.Config) bool {
	_, err := os.Stat(cfg.KindleKeyPath())
	return err == nil
}

// RemoveKindleKey deletes persisted kindle key material. Called when the
// circuit breaker signals the key no longer matches the user's books, so the
// next run regenerates it. Removing an absent key is not an error.
func RemoveKindleKey(cfg *config.Config) error {
	err := os.Remove(cfg.KindleKeyPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove kindle key: %w", err)
	}
	return nil
}
