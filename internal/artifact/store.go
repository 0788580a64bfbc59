package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest inside an artifact filesystem
const ManifestFile = "manifest.yaml"

// Artifact is one embedded archive. Immutable once the store is built.
type Artifact struct {
	Name    string
	Payload []byte
	Digest  []byte
}

// Manifest lists the archives bundled into the launcher, in extraction order
type Manifest struct {
	Artifacts []ManifestEntry `yaml:"artifacts"`
}

// ManifestEntry describes one archive. Digest is taken verbatim from either
// the inline value or the contents of DigestFile.
type ManifestEntry struct {
	Name       string `yaml:"name"`
	Archive    string `yaml:"archive"`
	Digest     string `yaml:"digest,omitempty"`
	DigestFile string `yaml:"digest_file,omitempty"`
}

// ErrEmpty is returned when a store would contain no artifacts
var ErrEmpty = errors.New("artifact store is empty")

// Store is the read-only set of artifacts compiled into the binary
type Store struct {
	artifacts []Artifact
}

// New builds a store from artifacts, keeping their order
func New(artifacts ...Artifact) (*Store, error) {
	if len(artifacts) == 0 {
		return nil, ErrEmpty
	}
	for _, a := range artifacts {
		if err := validate(a); err != nil {
			return nil, err
		}
	}
	out := make([]Artifact, len(artifacts))
	copy(out, artifacts)
	return &Store{artifacts: out}, nil
}

// Load reads manifest.yaml from fsys and the archives it references
func Load(fsys fs.FS) (*Store, error) {
	data, err := fs.ReadFile(fsys, ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}

	artifacts := make([]Artifact, 0, len(m.Artifacts))
	for _, entry := range m.Artifacts {
		payload, err := fs.ReadFile(fsys, entry.Archive)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: failed to read archive %s: %w", entry.Name, entry.Archive, err)
		}

		digest := []byte(entry.Digest)
		if entry.DigestFile != "" {
			digest, err = fs.ReadFile(fsys, entry.DigestFile)
			if err != nil {
				return nil, fmt.Errorf("artifact %s: failed to read digest %s: %w", entry.Name, entry.DigestFile, err)
			}
		}

		artifacts = append(artifacts, Artifact{
			Name:    entry.Name,
			Payload: payload,
			Digest:  digest,
		})
	}

	return New(artifacts...)
}

// Artifacts returns the artifacts in extraction order
func (s *Store) Artifacts() []Artifact {
	out := make([]Artifact, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

// Lookup finds an artifact by name
func (s *Store) Lookup(name string) (Artifact, bool) {
	for _, a := range s.artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

// Len returns the number of artifacts
func (s *Store) Len() int {
	return len(s.artifacts)
}

func validate(a Artifact) error {
	if a.Name == "" {
		return errors.New("artifact name is required")
	}
	// the name doubles as the marker file name inside a generation
	if strings.ContainsAny(a.Name, `/\`) || a.Name == "." || a.Name == ".." {
		return fmt.Errorf("artifact name %q is not a plain file name", a.Name)
	}
	if len(a.Digest) == 0 {
		return fmt.Errorf("artifact %s has an empty digest", a.Name)
	}
	return nil
}
