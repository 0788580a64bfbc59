package bundle

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/psantana5/sealaunch/internal/artifact"
)

func TestPayloadHasManifest(t *testing.T) {
	if _, err := fs.Stat(FS(), artifact.ManifestFile); err != nil {
		t.Fatalf("Embedded payload has no %s: %v", artifact.ManifestFile, err)
	}
}

func TestLoadParsesManifest(t *testing.T) {
	store, err := Load()
	if errors.Is(err, artifact.ErrEmpty) {
		if !strings.Contains(err.Error(), "seactl manifest "+Dir) {
			t.Errorf("Expected the error to name the release step, got %q", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if store.Len() == 0 {
		t.Error("Expected at least one artifact")
	}
}
