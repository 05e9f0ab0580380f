package chain

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/jmerrifield20/linechain/internal/filelock"
)

// pendingArtifact is an artifact being written to a temporary file in the
// destination directory. Nothing is visible at the destination until
// commit renames it into place.
type pendingArtifact struct {
	dest string
	tmp  *os.File
	enc  recordEncoder
	n    int
}

func createPending(dest string, f Format, h Header) (*pendingArtifact, error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return nil, ioErr("create temporary artifact", err)
	}
	enc, err := newEncoder(f, tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	p := &pendingArtifact{dest: dest, tmp: tmp, enc: enc}
	if err := enc.writeHeader(h); err != nil {
		p.abort()
		return nil, ioErr("write artifact header", err)
	}
	return p, nil
}

func (p *pendingArtifact) write(r Record) error {
	if err := p.enc.writeRecord(r); err != nil {
		return ioErr("write artifact record", err)
	}
	p.n++
	return nil
}

// commit flushes, syncs and atomically replaces the destination.
func (p *pendingArtifact) commit() error {
	name := p.tmp.Name()
	if err := p.enc.flush(); err != nil {
		p.abort()
		return ioErr("flush artifact", err)
	}
	if err := p.tmp.Chmod(0o644); err != nil {
		p.abort()
		return ioErr("chmod artifact", err)
	}
	if err := p.tmp.Sync(); err != nil {
		p.abort()
		return ioErr("sync artifact", err)
	}
	if err := p.tmp.Close(); err != nil {
		os.Remove(name)
		return ioErr("close artifact", err)
	}
	if err := os.Rename(name, p.dest); err != nil {
		os.Remove(name)
		return ioErr("replace artifact", err)
	}
	// Persist the rename itself. Failure here does not undo the commit.
	if d, err := os.Open(filepath.Dir(p.dest)); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// abort discards the temporary file. The destination is untouched.
func (p *pendingArtifact) abort() {
	name := p.tmp.Name()
	p.tmp.Close()
	os.Remove(name)
}

// LockPath is the sidecar file serialising writers of an artifact.
func LockPath(artifactPath string) string {
	return artifactPath + ".lock"
}

func lockArtifact(artifactPath string, wait bool) (*filelock.Lock, error) {
	var (
		l   *filelock.Lock
		err error
	)
	if wait {
		l, err = filelock.Wait(LockPath(artifactPath))
	} else {
		l, err = filelock.TryLock(LockPath(artifactPath))
	}
	if err != nil {
		if errors.Is(err, filelock.ErrHeld) {
			return nil, ErrLocked
		}
		return nil, ioErr("lock artifact", err)
	}
	return l, nil
}
