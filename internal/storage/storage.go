// Package storage keeps the original bytes of registered materials.
package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const timestampLayout = "20060102150405"

// storedName renders "<base>_<YYYYMMDDHHMMSS><ext>" from an upload name.
func storedName(filename string, now time.Time) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s_%s%s", strings.TrimSuffix(base, ext), now.UTC().Format(timestampLayout), ext)
}
