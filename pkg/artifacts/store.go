// Package artifacts persists generated claim letters.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ClaimFileName is the artifact name for an order's claim letter.
func ClaimFileName(orderID string) string {
	return sanitize(orderID) + "_claim.txt"
}

// sanitize keeps an order id from escaping the claims directory or key prefix.
func sanitize(orderID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(strings.TrimSpace(orderID))
}

// FileStore writes claim letters under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create %s: %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

// Save writes content to <Dir>/<order_id>_claim.txt, replacing any earlier letter, and
// returns the path.
func (s *FileStore) Save(ctx context.Context, orderID, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, ClaimFileName(orderID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("artifacts: write %s: %w", path, err)
	}
	return path, nil
}
