package tools

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
)

const tempFilePattern = ".partial-*"

func CreateDirectoryIfDoesNotExist(directory string) error {
	if _, err := os.Stat(directory); os.IsNotExist(err) {
		err := os.MkdirAll(directory, 0777)
		if err != nil {
			return err
		}
	}
	return nil
}

// FileExists reports whether a regular file exists at filePath
func FileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			glog.Warningf("stat %s: %v", filePath, err)
		}
		return false
	}
	return info.Mode().IsRegular()
}

// WriteFileAtomic writes to a temporary file in the destination folder and renames it into place,
// so a half written file never shows up under the final name.
func WriteFileAtomic(filePath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filePath)
	if err := CreateDirectoryIfDoesNotExist(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			glog.Warningf("remove temp file %s: %v", tmpName, err)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", filePath, err)
	}
	return nil
}
