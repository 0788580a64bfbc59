package extract

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/psantana5/sealaunch/internal/artifact"
	"github.com/psantana5/sealaunch/internal/logging"
)

// MarkerSuffix is appended to the artifact name to form its digest marker
const MarkerSuffix = ".digest"

// MarkerPath returns the digest marker location for an artifact in dir
func MarkerPath(dir, name string) string {
	return filepath.Join(dir, name+MarkerSuffix)
}

// Error reports a failed extraction step for one artifact
type Error struct {
	Artifact string
	Dir      string
	Op       string // "decompress", "unpack", "marker"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to extract archive %s into %s: %s: %v", e.Artifact, e.Dir, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrUnsafePath is returned for archive entries that would land outside the target
var ErrUnsafePath = errors.New("archive entry escapes target directory")

// ErrTargetGone is returned when the target directory disappears while an
// archive is being unpacked into it
var ErrTargetGone = errors.New("target directory no longer exists")

// Extractor unpacks gzip-compressed tar payloads
type Extractor struct {
	log *logging.Logger
}

// New creates an extractor
func New(log *logging.Logger) *Extractor {
	if log == nil {
		log = logging.Discard()
	}
	return &Extractor{log: log}
}

// Unpack extracts a's archive into dir and then writes its digest marker.
// The marker is only written once every entry has been unpacked.
func (x *Extractor) Unpack(a artifact.Artifact, dir string) error {
	x.log.Debugf("%s: extracting %d bytes...", a.Name, len(a.Payload))

	if err := present(dir); err != nil {
		return &Error{Artifact: a.Name, Dir: dir, Op: "unpack", Err: err}
	}

	gz, err := gzip.NewReader(bytes.NewReader(a.Payload))
	if err != nil {
		return &Error{Artifact: a.Name, Dir: dir, Op: "decompress", Err: err}
	}
	defer gz.Close()

	if err := unpackTar(tar.NewReader(gz), dir); err != nil {
		return &Error{Artifact: a.Name, Dir: dir, Op: "unpack", Err: err}
	}

	x.log.Debugf("%s: successfully extracted to %s", a.Name, dir)

	if err := present(dir); err != nil {
		return &Error{Artifact: a.Name, Dir: dir, Op: "marker", Err: err}
	}
	marker := MarkerPath(dir, a.Name)
	if err := os.WriteFile(marker, a.Digest, 0o644); err != nil {
		return &Error{Artifact: a.Name, Dir: dir, Op: "marker", Err: err}
	}

	return nil
}

func unpackTar(tr *tar.Reader, dir string) error {
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := within(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if _, err := prepare(dir, root, target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}

		case tar.TypeReg:
			if _, err := prepare(dir, root, target); err != nil {
				return err
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			parent, err := prepare(dir, root, target)
			if err != nil {
				return err
			}
			if filepath.IsAbs(hdr.Linkname) || strings.HasPrefix(hdr.Linkname, "/") ||
				!contained(root, filepath.Join(parent, hdr.Linkname)) {
				return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}

		case tar.TypeLink:
			source, err := within(dir, hdr.Linkname)
			if err != nil {
				return err
			}
			resolved, err := filepath.EvalSymlinks(source)
			if err != nil {
				return err
			}
			if !contained(root, resolved) {
				return fmt.Errorf("%w: %s => %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if _, err := prepare(dir, root, target); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return err
			}

		default:
			// devices, fifos and pax metadata have no place in a runtime bundle
		}
	}
}

// prepare creates the parent directories of target and returns the parent
// with symlinks resolved. The parent must resolve inside root, and dir must
// still exist: a vanished dir is never recreated.
func prepare(dir, root, target string) (string, error) {
	if err := present(dir); err != nil {
		return "", err
	}

	parent := filepath.Dir(target)
	existing := parent
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		up := filepath.Dir(existing)
		if up == existing {
			break
		}
		existing = up
	}
	if resolved, err := filepath.EvalSymlinks(existing); err != nil {
		return "", err
	} else if !contained(root, resolved) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, target)
	}

	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", err
	}
	if !contained(root, resolved) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, target)
	}
	return resolved, nil
}

// present fails with ErrTargetGone when dir is no longer a directory
func present(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%w: %s", ErrTargetGone, dir)
	}
	return err
}

// writeFile replaces target with a new regular file. An existing entry is
// removed first so a symlink in its place is never followed.
func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if info, err := os.Lstat(target); err == nil && !info.IsDir() {
		if err := os.Remove(target); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// within joins name onto dir and rejects results outside dir
func within(dir, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dir, name)
	if !contained(dir, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// contained reports whether path is root or lies below it, lexically
func contained(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
