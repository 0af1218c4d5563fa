//go:build !windows

package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// trashFallback is used when no desktop trash can be located
const trashFallback = "mediadupfinder_trash"

func moveToTrash(src string) error {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		return MoveFile(src, filepath.Join(home, ".Trash"))
	}

	root, err := trashRoot()
	if err != nil {
		return err
	}
	return moveToFreedesktopTrash(src, root)
}

// trashRoot returns $XDG_DATA_HOME/Trash, defaulting to ~/.local/share/Trash
func trashRoot() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "Trash"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if home == "" {
		return trashFallback, nil
	}
	return filepath.Join(home, ".local", "share", "Trash"), nil
}

// moveToFreedesktopTrash moves src below root/files and writes the matching
// root/info/<name>.trashinfo record so desktop file managers can restore it.
func moveToFreedesktopTrash(src, root string) error {
	filesDir := filepath.Join(root, "files")
	infoDir := filepath.Join(root, "info")
	for _, dir := range []string{filesDir, infoDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create trash directory: %w", err)
		}
	}

	absPath, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	// the name must be free in both directories
	name := findUniqueName(filepath.Base(src), func(name string) bool {
		_, errFile := os.Stat(filepath.Join(filesDir, name))
		_, errInfo := os.Stat(filepath.Join(infoDir, name+".trashinfo"))
		return os.IsNotExist(errFile) && os.IsNotExist(errInfo)
	})

	infoPath := filepath.Join(infoDir, name+".trashinfo")
	record := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		absPath, time.Now().Format("2006-01-02T15:04:05"))
	if err := os.WriteFile(infoPath, []byte(record), 0600); err != nil {
		return err
	}

	if err := moveFileAcrossFS(src, filepath.Join(filesDir, name)); err != nil {
		os.Remove(infoPath)
		return err
	}
	return nil
}
