// Package publish implements the Atomic Publisher: it writes a
// synthesized configuration generation to disk and swaps it into place
// with a single atomic rename, so the DNS data plane never observes a
// half-written zone file or Corefile.
package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cyberun-cloud/simplegslb/internal/synth"
)

// ErrPublish wraps every failure encountered while writing or swapping a
// generation.
var ErrPublish = errors.New("publish failed")

// ReloadFunc is invoked after a successful swap so the data plane can
// pick up the new generation; nil disables the notification. Grounded
// on spec.md §4.4's "signal reload, best-effort" note.
type ReloadFunc func() error

// Publisher atomically publishes synth.Result values under RootDir,
// using a "current" symlink so readers always see a fully written
// generation.
type Publisher struct {
	RootDir string
	Reload  ReloadFunc

	mu         sync.Mutex
	lastDigest string
}

// New returns a Publisher rooted at dir. dir is created if it doesn't
// already exist.
func New(dir string, reload ReloadFunc) (*Publisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root dir: %v", ErrPublish, err)
	}
	return &Publisher{RootDir: dir, Reload: reload}, nil
}

// CurrentPath is the stable path the data plane reads its Corefile and
// zone files from; it always points at the most recently published
// generation.
func (p *Publisher) CurrentPath() string {
	return filepath.Join(p.RootDir, "current")
}

// Publish writes res to a new, uniquely named generation directory,
// fsyncs every file, and swaps the "current" symlink to point at it. If
// the content is identical to the last published generation apart from
// the SOA line's digits (compared by digest, see digestResult), Publish
// is a no-op and returns false.
func (p *Publisher) Publish(res *synth.Result) (published bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	digest := digestResult(res)
	if digest == p.lastDigest {
		return false, nil
	}

	genDir := filepath.Join(p.RootDir, "gen-"+digest[:16])
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return false, fmt.Errorf("%w: create generation dir: %v", ErrPublish, err)
	}

	if err := writeFileSynced(filepath.Join(genDir, "Corefile"), res.Corefile); err != nil {
		return false, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	for _, z := range res.Zones {
		if err := writeFileSynced(filepath.Join(genDir, z.Filename), z.Content); err != nil {
			return false, fmt.Errorf("%w: zone %s: %v", ErrPublish, z.Domain, err)
		}
	}

	if err := syncDir(genDir); err != nil {
		return false, fmt.Errorf("%w: fsync generation dir: %v", ErrPublish, err)
	}

	if err := swapSymlink(p.CurrentPath(), genDir); err != nil {
		return false, fmt.Errorf("%w: swap current: %v", ErrPublish, err)
	}

	p.lastDigest = digest

	if p.Reload != nil {
		if err := p.Reload(); err != nil {
			// Best-effort per spec.md §4.4: the new generation is live on
			// disk even if the running process doesn't notice right away.
			return true, fmt.Errorf("%w: reload signal: %v", ErrPublish, err)
		}
	}

	return true, nil
}

func writeFileSynced(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync %s: %w", path, err)
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// swapSymlink points current at genDir using a rename so the switch is
// atomic: a reader either sees the old symlink or the new one, never a
// half-updated one.
func swapSymlink(current, genDir string) error {
	tmp := current + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.Symlink(genDir, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, current)
}

// digestResult is deterministic except for the SOA serial baked into
// each zone, so genuinely unchanged content is recognized as such
// regardless of how the serial counter has moved, matching spec.md §8's
// "publish is skipped when content is unchanged" property.
func digestResult(res *synth.Result) string {
	h := sha256.New()
	h.Write(res.Corefile)

	zones := append([]synth.Zone(nil), res.Zones...)
	sort.Slice(zones, func(i, j int) bool { return zones[i].Domain < zones[j].Domain })
	for _, z := range zones {
		h.Write([]byte(z.Domain))
		h.Write(stripSerialLine(z.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// stripSerialLine removes the SOA line's serial number from the digest
// input by replacing every digit on the first line with '#', the first
// line being the only one a serial bump touches.
func stripSerialLine(content []byte) []byte {
	nl := -1
	for i, b := range content {
		if b == '\n' {
			nl = i
			break
		}
	}
	if nl < 0 {
		return content
	}
	first := make([]byte, nl)
	copy(first, content[:nl])
	for i, b := range first {
		if b >= '0' && b <= '9' {
			first[i] = '#'
		}
	}
	out := make([]byte, 0, len(content))
	out = append(out, first...)
	out = append(out, content[nl:]...)
	return out
}
