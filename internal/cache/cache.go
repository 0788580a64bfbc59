// Package cache decides which extraction directory a launch runs from.
//
// Every launch looks at the newest generation directory under the root. If
// all digest markers inside it match the embedded artifacts the directory is
// reused, otherwise a fresh generation is created and populated. Older
// generations are handed to a Sweeper.
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/sealaunch/internal/artifact"
	"github.com/psantana5/sealaunch/internal/extract"
	"github.com/psantana5/sealaunch/internal/logging"
)

// Tag marks a directory under the root as a generation
const Tag = ".r"

const (
	suffixLen   = 7
	alphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxAttempts = 16
)

// ErrExhausted is returned when no unused generation name could be found
var ErrExhausted = errors.New("no free generation name")

// Sweeper receives cleanup candidates. Start must not block the caller.
type Sweeper interface {
	Start(stale []string, current string)
}

// unpacker populates a generation directory with one artifact
type unpacker interface {
	Unpack(a artifact.Artifact, dir string) error
}

// Options configures a Cache
type Options struct {
	Root      string
	Store     *artifact.Store
	Extractor *extract.Extractor
	Sweeper   Sweeper
	Log       *logging.Logger
}

// Selection is the outcome of SelectOrCreate
type Selection struct {
	Dir       string
	Stale     []string
	Reused    bool
	Extracted time.Duration
}

// Cache selects or creates generation directories under one root
type Cache struct {
	root      string
	store     *artifact.Store
	extractor unpacker
	sweeper   Sweeper
	log       *logging.Logger

	now    func() time.Time
	suffix func() string
}

// New creates a cache over opts.Root
func New(opts Options) (*Cache, error) {
	if opts.Root == "" {
		return nil, errors.New("cache root is required")
	}
	if opts.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.New(opts.Log)
	}

	return &Cache{
		root:      opts.Root,
		store:     opts.Store,
		extractor: opts.Extractor,
		sweeper:   opts.Sweeper,
		log:       opts.Log,
		now:       time.Now,
		suffix:    randomSuffix,
	}, nil
}

// Root returns the directory holding the generations
func (c *Cache) Root() string {
	return c.root
}

// SelectOrCreate returns a fully populated generation directory. The
// returned directory is never part of the stale list handed to the sweeper.
func (c *Cache) SelectOrCreate() (Selection, error) {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return Selection{}, fmt.Errorf("failed to create cache root %s: %w", c.root, err)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		names, err := generations(c.root)
		if err != nil {
			return Selection{}, fmt.Errorf("failed to list cache root %s: %w", c.root, err)
		}

		var stale []string
		if n := len(names); n > 0 {
			for _, name := range names[:n-1] {
				stale = append(stale, filepath.Join(c.root, name))
			}

			latest := filepath.Join(c.root, names[n-1])
			if Valid(c.Verify(latest)) {
				c.log.Debugf("Reusing extracted artifacts in %s", latest)
				c.handOff(stale, latest)
				return Selection{Dir: latest, Stale: stale, Reused: true}, nil
			}
			c.log.Debugf("Latest generation %s is incomplete or outdated", latest)
			stale = append(stale, latest)
		}

		dir := filepath.Join(c.root, GenerationName(c.now(), c.suffix()))
		if err := os.Mkdir(dir, 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				c.log.Debugf("Generation %s already exists, retrying (attempt %d)", dir, attempt)
				continue
			}
			return Selection{}, fmt.Errorf("failed to create generation directory %s: %w", dir, err)
		}

		c.log.Debugf("Extracting %d artifacts into %s", c.store.Len(), dir)
		start := time.Now()
		err = c.populate(dir)
		elapsed := time.Since(start)
		if err != nil && !gone(dir, err) {
			// a partial directory stays behind and is swept by a later launch
			return Selection{}, err
		}
		// another launch may sweep dir while it is being populated
		if err != nil || !Valid(c.Verify(dir)) {
			c.log.Debugf("Generation %s was removed during extraction, retrying (attempt %d)", dir, attempt)
			continue
		}

		c.handOff(stale, dir)
		return Selection{Dir: dir, Stale: stale, Extracted: elapsed}, nil
	}

	return Selection{}, fmt.Errorf("failed to create generation under %s after %d attempts: %w", c.root, maxAttempts, ErrExhausted)
}

func (c *Cache) populate(dir string) error {
	for _, a := range c.store.Artifacts() {
		if err := c.extractor.Unpack(a, dir); err != nil {
			return err
		}
	}
	return nil
}

// gone reports whether an extraction error was caused by dir vanishing
func gone(dir string, err error) bool {
	if errors.Is(err, extract.ErrTargetGone) {
		return true
	}
	_, statErr := os.Stat(dir)
	return errors.Is(statErr, fs.ErrNotExist)
}

func (c *Cache) handOff(stale []string, current string) {
	if c.sweeper == nil || len(stale) == 0 {
		return
	}
	c.sweeper.Start(stale, current)
}

// GenerationName formats the directory name of a generation created at t
func GenerationName(t time.Time, suffix string) string {
	return fmt.Sprintf("%010d-%s%s", t.Unix(), suffix, Tag)
}

// ParseCreated extracts the creation time from a generation name
func ParseCreated(name string) (time.Time, bool) {
	if !strings.HasSuffix(name, Tag) {
		return time.Time{}, false
	}
	secs, _, ok := strings.Cut(strings.TrimSuffix(name, Tag), "-")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

// generations lists tagged directory names under root in ascending order
func generations(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), Tag) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func randomSuffix() string {
	b := make([]byte, suffixLen)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

// MarkerState is the validity of one digest marker
type MarkerState string

const (
	MarkerOK         MarkerState = "ok"
	MarkerMissing    MarkerState = "missing"
	MarkerMismatch   MarkerState = "mismatch"
	MarkerUnreadable MarkerState = "unreadable"
)

// MarkerStatus is the check result for one artifact in a generation
type MarkerStatus struct {
	Artifact string      `json:"artifact"`
	State    MarkerState `json:"state"`
	Err      error       `json:"-"`
}

// Verify checks every artifact's marker in dir. Read errors make the marker
// unreadable, they never abort the check.
func (c *Cache) Verify(dir string) []MarkerStatus {
	return Verify(c.store, dir)
}

// Verify checks dir against store
func Verify(store *artifact.Store, dir string) []MarkerStatus {
	artifacts := store.Artifacts()
	out := make([]MarkerStatus, 0, len(artifacts))

	for _, a := range artifacts {
		status := MarkerStatus{Artifact: a.Name, State: MarkerOK}

		data, err := os.ReadFile(extract.MarkerPath(dir, a.Name))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			status.State = MarkerMissing
		case err != nil:
			status.State = MarkerUnreadable
			status.Err = err
		case !bytes.Equal(data, a.Digest):
			status.State = MarkerMismatch
		}
		out = append(out, status)
	}
	return out
}

// Valid reports whether every marker is ok
func Valid(statuses []MarkerStatus) bool {
	for _, s := range statuses {
		if s.State != MarkerOK {
			return false
		}
	}
	return true
}

// Generation describes one directory under the root
type Generation struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Created time.Time `json:"created"`
	Valid   bool      `json:"valid"`
	Latest  bool      `json:"latest"`
}

// List returns every generation under root, oldest first. Validity is
// judged against store.
func List(root string, store *artifact.Store) ([]Generation, error) {
	names, err := generations(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache root %s: %w", root, err)
	}

	out := make([]Generation, 0, len(names))
	for i, name := range names {
		path := filepath.Join(root, name)
		created, _ := ParseCreated(name)
		out = append(out, Generation{
			Name:    name,
			Path:    path,
			Created: created,
			Valid:   Valid(Verify(store, path)),
			Latest:  i == len(names)-1,
		})
	}
	return out, nil
}
