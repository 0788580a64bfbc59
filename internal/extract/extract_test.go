package extract

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/psantana5/sealaunch/internal/artifact"
	"github.com/psantana5/sealaunch/internal/testutil"
)

func TestUnpackWritesTreeAndMarker(t *testing.T) {
	dir := t.TempDir()
	a := artifact.Artifact{
		Name: "bin",
		Payload: testutil.TarGz(t,
			testutil.Entry{Name: "bin", Dir: true},
			testutil.Entry{Name: "bin/node", Body: "#!/bin/sh\necho hi\n", Mode: 0o755},
			testutil.Entry{Name: "lib/nested/file.txt", Body: "nested"},
		),
		Digest: []byte("sha-bin"),
	}

	if err := New(nil).Unpack(a, dir); err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "lib", "nested", "file.txt"))
	if err != nil || string(data) != "nested" {
		t.Errorf("Expected nested file contents, got %q (err %v)", data, err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dir, "bin", "node"))
		if err != nil {
			t.Fatalf("Failed to stat bin/node: %v", err)
		}
		if info.Mode().Perm()&0o100 == 0 {
			t.Errorf("Expected bin/node to be executable, mode %v", info.Mode())
		}
	}

	marker, err := os.ReadFile(MarkerPath(dir, "bin"))
	if err != nil {
		t.Fatalf("Marker missing: %v", err)
	}
	if string(marker) != "sha-bin" {
		t.Errorf("Expected marker to hold the digest, got %q", marker)
	}
}

func TestUnpackSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	a := artifact.Artifact{
		Name: "bin",
		Payload: testutil.TarGz(t,
			testutil.Entry{Name: "lib/cli.js", Body: "cli"},
			testutil.Entry{Name: "bin/npm", Symlink: "../lib/cli.js"},
		),
		Digest: []byte("d"),
	}
	if err := New(nil).Unpack(a, dir); err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "bin", "npm"))
	if err != nil || string(data) != "cli" {
		t.Errorf("Expected symlink to resolve, got %q (err %v)", data, err)
	}
}

func TestUnpackCorruptPayload(t *testing.T) {
	dir := t.TempDir()
	a := artifact.Artifact{Name: "static", Payload: []byte("not gzip"), Digest: []byte("d")}

	err := New(nil).Unpack(a, dir)

	var xerr *Error
	if !errors.As(err, &xerr) {
		t.Fatalf("Expected *Error, got %v", err)
	}
	if xerr.Artifact != "static" || xerr.Dir != dir || xerr.Op != "decompress" {
		t.Errorf("Unexpected error fields: %+v", xerr)
	}
	if _, err := os.Stat(MarkerPath(dir, "static")); !os.IsNotExist(err) {
		t.Error("Marker must not be written when extraction fails")
	}
}

func TestUnpackRejectsEscapingEntries(t *testing.T) {
	tests := []struct {
		name     string
		symlinks bool
		setup    func(t *testing.T, dir, outside string)
		entries  func(outside string) []testutil.Entry
	}{
		{
			name: "parent path",
			entries: func(string) []testutil.Entry {
				return []testutil.Entry{{Name: "../outside/escaped.txt", Body: "x"}}
			},
		},
		{
			name:     "absolute symlink then write through it",
			symlinks: true,
			entries: func(outside string) []testutil.Entry {
				return []testutil.Entry{
					{Name: "esc", Symlink: outside},
					{Name: "esc/escaped.txt", Body: "x"},
				}
			},
		},
		{
			name:     "relative symlink above the target",
			symlinks: true,
			entries: func(string) []testutil.Entry {
				return []testutil.Entry{
					{Name: "lib/up", Symlink: "../../outside"},
					{Name: "lib/up/escaped.txt", Body: "x"},
				}
			},
		},
		{
			name:     "existing symlink in the target",
			symlinks: true,
			setup: func(t *testing.T, dir, outside string) {
				if err := os.Symlink(outside, filepath.Join(dir, "pre")); err != nil {
					t.Fatal(err)
				}
			},
			entries: func(string) []testutil.Entry {
				return []testutil.Entry{{Name: "pre/nested/escaped.txt", Body: "x"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.symlinks && runtime.GOOS == "windows" {
				t.Skip("symlinks need privileges on windows")
			}
			root := t.TempDir()
			dir := filepath.Join(root, "gen")
			outside := filepath.Join(root, "outside")
			for _, d := range []string{dir, outside} {
				if err := os.Mkdir(d, 0o755); err != nil {
					t.Fatal(err)
				}
			}
			if tt.setup != nil {
				tt.setup(t, dir, outside)
			}
			a := artifact.Artifact{
				Name:    "source",
				Payload: testutil.TarGz(t, tt.entries(outside)...),
				Digest:  []byte("d"),
			}

			err := New(nil).Unpack(a, dir)
			if !errors.Is(err, ErrUnsafePath) {
				t.Fatalf("Expected ErrUnsafePath, got %v", err)
			}
			left, err := os.ReadDir(outside)
			if err != nil {
				t.Fatal(err)
			}
			if len(left) != 0 {
				t.Errorf("Entry escaped the target directory: %v", left)
			}
			if _, err := os.Stat(MarkerPath(dir, "source")); !os.IsNotExist(err) {
				t.Error("Marker must not be written for a rejected archive")
			}
		})
	}
}

func TestUnpackReplacesSymlinkWithFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	dir := filepath.Join(root, "gen")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "real"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := artifact.Artifact{
		Name: "bin",
		Payload: testutil.TarGz(t,
			testutil.Entry{Name: "alias", Symlink: "real"},
			testutil.Entry{Name: "alias", Body: "replaced"},
		),
		Digest: []byte("d"),
	}

	if err := New(nil).Unpack(a, dir); err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "real"))
	if string(data) != "keep" {
		t.Errorf("Write followed the symlink, real now holds %q", data)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "alias"))
	if string(data) != "replaced" {
		t.Errorf("Expected alias to be a regular file, got %q", data)
	}
}

func TestUnpackDoesNotRecreateVanishedTarget(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gen")
	a := artifact.Artifact{
		Name:    "native",
		Payload: testutil.Files(t, map[string]string{"native/addon.node": "x"}),
		Digest:  []byte("d"),
	}

	err := New(nil).Unpack(a, dir)
	if !errors.Is(err, ErrTargetGone) {
		t.Fatalf("Expected ErrTargetGone, got %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Unpack recreated a removed target directory")
	}
}

func TestUnpackMarkerWriteFailure(t *testing.T) {
	dir := t.TempDir()
	a := artifact.Artifact{
		Name:    "native",
		Payload: testutil.Files(t, map[string]string{"native/addon.node": "x"}),
		Digest:  []byte("d"),
	}
	// a directory where the marker file should go makes the write fail
	if err := os.Mkdir(MarkerPath(dir, "native"), 0o755); err != nil {
		t.Fatal(err)
	}

	err := New(nil).Unpack(a, dir)
	var xerr *Error
	if !errors.As(err, &xerr) || xerr.Op != "marker" {
		t.Fatalf("Expected marker error, got %v", err)
	}
}
