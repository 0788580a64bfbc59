package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ArchiveExt is the extension of archives picked up by BuildManifest
const ArchiveExt = ".tar.gz"

// DefaultOrder is the extraction order for the well-known artifacts.
// Other archives follow in name order.
var DefaultOrder = []string{"bin", "native", "static", "source"}

// BuildManifest describes every archive in dir, with the hex SHA-256 of each
// archive as its digest
func BuildManifest(dir string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory %s: %w", dir, err)
	}

	var m Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ArchiveExt) {
			continue
		}
		digest, err := fileDigest(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		m.Artifacts = append(m.Artifacts, ManifestEntry{
			Name:    strings.TrimSuffix(e.Name(), ArchiveExt),
			Archive: e.Name(),
			Digest:  digest,
		})
	}
	if len(m.Artifacts) == 0 {
		return nil, fmt.Errorf("no %s archives in %s: %w", ArchiveExt, dir, ErrEmpty)
	}

	sort.SliceStable(m.Artifacts, func(i, j int) bool {
		ri, rj := rank(m.Artifacts[i].Name), rank(m.Artifacts[j].Name)
		if ri != rj {
			return ri < rj
		}
		return m.Artifacts[i].Name < m.Artifacts[j].Name
	})
	return &m, nil
}

// Marshal renders the manifest as YAML
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

func rank(name string) int {
	for i, n := range DefaultOrder {
		if n == name {
			return i
		}
	}
	return len(DefaultOrder)
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash archive %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
