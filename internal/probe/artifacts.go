package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// saveArtifact writes captured evidence under dir with a timestamped name
// and returns the path, which doubles as the artifact reference.
func saveArtifact(dir, ext string, data []byte) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("artifact dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	name := "vacancy_" + time.Now().UTC().Format("20060102T150405.000000000") + ext
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}
