// Package safeio implements convenient I/O routines that provide additional
// levels of safety in the presence of unexpected failures.
package safeio

import (
	"os"
	"path"
	"syscall"
)

// WriteFile writes data to a file named by filename, atomically.
// It provides atomicity (and increased safety) by writing to a temporary
// file and renaming it at the end.
//
// Note this relies on same-directory Rename being atomic, which holds in most
// reasonably modern filesystems.
func WriteFile(filename string, data []byte, perm os.FileMode) error {
	// Note we create the temporary file in the same directory, otherwise we
	// would have no expectation of Rename being atomic.
	// We make the file names start with "." so there's no confusion with the
	// originals.
	tmpf, err := os.CreateTemp(path.Dir(filename), "."+path.Base(filename))
	if err != nil {
		return err
	}

	if err := writeChownAndClose(tmpf, filename, data, perm); err != nil {
		return err
	}

	return os.Rename(tmpf.Name(), filename)
}

// WriteFileAs writes data to tmpName and, on success, renames it to
// finalName. Unlike WriteFile, which always overwrites a file of the same
// name, the two names here may differ entirely: the persistent queue uses
// this to stage a payload under its ".tmp" name and commit by renaming to
// the entry's final, state-encoding filename.
func WriteFileAs(tmpName, finalName string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	if err := writeChownAndClose(f, finalName, data, perm); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, finalName)
}

func writeChownAndClose(tmpf *os.File, targetName string, data []byte, perm os.FileMode) error {
	if err := tmpf.Chmod(perm); err != nil {
		tmpf.Close()
		os.Remove(tmpf.Name())
		return err
	}

	if uid, gid := getOwner(targetName); uid >= 0 {
		if err := tmpf.Chown(uid, gid); err != nil {
			tmpf.Close()
			os.Remove(tmpf.Name())
			return err
		}
	}

	if _, err := tmpf.Write(data); err != nil {
		tmpf.Close()
		os.Remove(tmpf.Name())
		return err
	}

	if err := tmpf.Close(); err != nil {
		os.Remove(tmpf.Name())
		return err
	}

	return nil
}

func getOwner(fname string) (uid, gid int) {
	uid = -1
	gid = -1
	stat, err := os.Stat(fname)
	if err == nil {
		if sysstat, ok := stat.Sys().(*syscall.Stat_t); ok {
			uid = int(sysstat.Uid)
			gid = int(sysstat.Gid)
		}
	}

	return
}
