// Package testutil builds archives and artifact stores for tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"sort"
	"testing"

	"github.com/psantana5/sealaunch/internal/artifact"
)

// Entry is one tar entry. Dir and Symlink select the entry type.
type Entry struct {
	Name    string
	Body    string
	Mode    int64
	Dir     bool
	Symlink string
}

// TarGz builds a gzip-compressed tar archive from entries, in order
func TarGz(tb testing.TB, entries ...Entry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: e.Mode}
		switch {
		case e.Dir:
			hdr.Typeflag = tar.TypeDir
			if hdr.Mode == 0 {
				hdr.Mode = 0o755
			}
		case e.Symlink != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Symlink
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
			if hdr.Mode == 0 {
				hdr.Mode = 0o644
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tb.Fatalf("Failed to write tar header %s: %v", e.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				tb.Fatalf("Failed to write tar body %s: %v", e.Name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		tb.Fatalf("Failed to close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		tb.Fatalf("Failed to close gzip writer: %v", err)
	}
	return buf.Bytes()
}

// Files builds an archive of regular files, sorted by name
func Files(tb testing.TB, files map[string]string) []byte {
	tb.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Body: files[name]})
	}
	return TarGz(tb, entries...)
}

// Store builds the usual four-artifact store with one file per archive.
// digest is used as the suffix of every artifact digest.
func Store(tb testing.TB, digest string) *artifact.Store {
	tb.Helper()

	var artifacts []artifact.Artifact
	for _, name := range []string{"bin", "native", "static", "source"} {
		artifacts = append(artifacts, artifact.Artifact{
			Name:    name,
			Payload: Files(tb, map[string]string{name + "/README": name + " contents"}),
			Digest:  []byte(name + "-" + digest),
		})
	}

	store, err := artifact.New(artifacts...)
	if err != nil {
		tb.Fatalf("Failed to build store: %v", err)
	}
	return store
}
