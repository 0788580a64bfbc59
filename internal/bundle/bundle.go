// Package bundle holds the archives compiled into the launcher binary
package bundle

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/psantana5/sealaunch/internal/artifact"
)

//go:embed all:payload
var payload embed.FS

// FS returns the embedded payload directory
func FS() fs.FS {
	sub, err := fs.Sub(payload, "payload")
	if err != nil {
		// only fails for an invalid literal path
		panic(err)
	}
	return sub
}

// Dir is the payload directory relative to the module root
const Dir = "internal/bundle/payload"

// Load reads the embedded manifest and archives
func Load() (*artifact.Store, error) {
	store, err := artifact.Load(FS())
	if errors.Is(err, artifact.ErrEmpty) {
		return nil, fmt.Errorf("no archives bundled in this build, place them in %s and run `seactl manifest %s` before building: %w", Dir, Dir, err)
	}
	return store, err
}
