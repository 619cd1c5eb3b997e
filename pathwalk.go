package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// DirStep is one entry of a working-directory chain, yielded leaf to root.
// MountBoundary marks the entry as the root of its owning mount; FinalRoot
// additionally marks that mount as its own parent, i.e. the real filesystem
// root.
type DirStep struct {
	Name          string
	MountBoundary bool
	FinalRoot     bool
}

// DirWalker lazily yields the calling thread's working-directory chain. The
// platform layer owns the traversal mechanics (including re-pointing the walk
// to the parent mount's mountpoint at a boundary); the reconstructor only
// consumes steps. Step reports false when the chain cannot be read further.
// Close releases whatever the walk holds open; callers must close every
// walker they receive, stepped or not.
type DirWalker interface {
	Step() (DirStep, bool)
	Close() error
}

// reconstructPath fills the walk slots of a full-path chunk table from w.
// Slot zero already holds the requested (relative) filename; slots 1..31
// receive chain entries leaf to root. The returned depth counts only the
// entries included in the rendered path, so consumers pick slots [0,depth].
//
// The walk is bounded: at most 31 steps, and a component longer than NameMax
// bytes stops it early, leaving remaining slots unused.
func reconstructPath(table []byte, w DirWalker) uint32 {
	var depth uint32
	for slot := 1; slot < MaxPathChunks; slot++ {
		st, ok := w.Step()
		if !ok {
			break
		}
		if len(st.Name) > NameMax {
			break
		}
		copy(table[slot*NameMax:(slot+1)*NameMax], st.Name)
		if st.FinalRoot {
			// The real root's own name is recorded but never rendered.
			break
		}
		depth++
	}
	return depth
}

// renderPath turns the name field of a decoded event into its display form.
// Compact layouts carry the requested path verbatim. Full-path tables are
// filled leaf to root by the producer, so rendering reverses the first
// depth+1 chunks, drops empty and bare-separator entries, and joins with
// exactly one leading separator.
func renderPath(l Layout, name []byte, depth uint32) string {
	if !l.FullPath {
		return cstring(name)
	}
	parts := make([]string, 0, depth+1)
	for i := uint32(0); i <= depth && i < MaxPathChunks; i++ {
		chunk := cstring(name[i*NameMax : (i+1)*NameMax])
		if chunk == "" || chunk == "/" {
			continue
		}
		parts = append(parts, chunk)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	joined := strings.Join(parts, "/")
	if strings.HasPrefix(joined, "/") {
		return joined
	}
	return "/" + joined
}

// procWalker walks a thread's working-directory chain through procfs, the
// userspace counterpart of the kernel dentry walk: each step names the
// current directory by matching its identity against the parent's entries,
// then ascends. Crossing ".." out of a mount root lands in the parent mount,
// which the step reports as a mount boundary.
type procWalker struct {
	dir  *os.File
	dead bool
}

// newProcWalker starts a walk at the working directory of tid. The walk is a
// best-effort snapshot: if the thread exits or the chain is renamed mid-walk,
// remaining steps simply fail.
func newProcWalker(tid uint32) DirWalker {
	dir, err := os.OpenFile(fmt.Sprintf("/proc/%d/cwd", tid), os.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return &procWalker{dead: true}
	}
	return &procWalker{dir: dir}
}

func (p *procWalker) Step() (DirStep, bool) {
	if p.dead {
		return DirStep{}, false
	}
	var cur unix.Stat_t
	if err := unix.Fstat(int(p.dir.Fd()), &cur); err != nil {
		p.close()
		return DirStep{}, false
	}
	parentFd, err := unix.Openat(int(p.dir.Fd()), "..", unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		p.close()
		return DirStep{}, false
	}
	parent := os.NewFile(uintptr(parentFd), "..")
	var par unix.Stat_t
	if err := unix.Fstat(parentFd, &par); err != nil {
		parent.Close()
		p.close()
		return DirStep{}, false
	}
	if par.Dev == cur.Dev && par.Ino == cur.Ino {
		// Directory is its own parent: the real root.
		parent.Close()
		p.close()
		return DirStep{Name: "/", MountBoundary: true, FinalRoot: true}, true
	}
	name, err := matchEntry(parent, cur.Dev, cur.Ino)
	if err != nil {
		parent.Close()
		p.close()
		return DirStep{}, false
	}
	boundary := par.Dev != cur.Dev
	p.dir.Close()
	p.dir = parent
	return DirStep{Name: name, MountBoundary: boundary}, true
}

func (p *procWalker) close() {
	if p.dir != nil {
		p.dir.Close()
		p.dir = nil
	}
	p.dead = true
}

// Close releases the walk's directory fd. Safe to call at any point,
// including after the walk already finished.
func (p *procWalker) Close() error {
	p.close()
	return nil
}

// matchEntry scans dir for the entry whose identity is (dev, ino). Stats run
// against the directory fd so the scan is immune to the walked path being
// renamed above us.
func matchEntry(dir *os.File, dev, ino uint64) (string, error) {
	names, err := dir.Readdirnames(-1)
	if err != nil {
		return "", err
	}
	// Rewind so the fd stays reusable as the next walk position.
	if _, err := dir.Seek(0, 0); err != nil {
		return "", err
	}
	for _, name := range names {
		var st unix.Stat_t
		if err := unix.Fstatat(int(dir.Fd()), name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			continue
		}
		if st.Dev == dev && st.Ino == ino {
			return name, nil
		}
	}
	return "", fmt.Errorf("no entry for inode %d in %s", ino, dir.Name())
}
