package kproc

import "github.com/joeycumines/kproc/errno"

// NOFILE is the per-process open file handle table size.
const NOFILE = 16

type (
	// FileRef is the minimal contract the core requires of the VFS
	// collaborator: reference-counted handles the process table can
	// duplicate across fork and release on exit. The core never interprets
	// the handle.
	FileRef interface {
		// Dup takes an additional reference and returns the handle to store.
		Dup() FileRef
		// Close drops one reference.
		Close()
	}

	// AddressSpace is the page-table collaborator contract: fork clones it
	// for the child, freeProc releases it.
	AddressSpace interface {
		Clone() (AddressSpace, error)
		Free()
	}
)

// AllocFD installs f in the lowest free handle slot, returning its index,
// or EMFILE when the table is full. Owned by the process; no lock.
func (x *Proc) AllocFD(f FileRef) (int, errno.Errno) {
	for i := range x.ofile {
		if x.ofile[i] == nil {
			x.ofile[i] = f
			return i, 0
		}
	}
	return -1, errno.EMFILE
}

// FD returns the handle at fd, or EBADF.
func (x *Proc) FD(fd int) (FileRef, errno.Errno) {
	if fd < 0 || fd >= len(x.ofile) || x.ofile[fd] == nil {
		return nil, errno.EBADF
	}
	return x.ofile[fd], 0
}

// CloseFD releases and clears the handle at fd, or returns EBADF.
func (x *Proc) CloseFD(fd int) errno.Errno {
	f, r := x.FD(fd)
	if r != 0 {
		return r
	}
	x.ofile[fd] = nil
	f.Close()
	return 0
}
