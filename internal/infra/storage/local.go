package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir writes artifacts into a local directory.
type Dir struct {
	Root string
}

// Save implements export.Sink. The returned location is the file path.
func (d Dir) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(d.Root, name)
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return p, nil
}
