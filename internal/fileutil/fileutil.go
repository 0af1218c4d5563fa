package fileutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"mediadupfinder/internal/hash"
	"mediadupfinder/internal/models"
)

var (
	// ErrChanged means a file differs from what the scan recorded
	ErrChanged = errors.New("file changed since scan")
	// ErrKeepMissing means the file designated to keep no longer exists
	ErrKeepMissing = errors.New("keep file is missing")
	// ErrNotCandidate means the path is not a deletion candidate
	ErrNotCandidate = errors.New("not a deletion candidate")
)

// Walk enumerates recognized media files below roots. Files given directly
// are included regardless of extension so the engine can report them as
// unsupported. Hidden directories are skipped. Unreadable entries are
// returned as per-file errors.
func Walk(ctx context.Context, roots []string) ([]models.MediaFile, []models.FileError, error) {
	var files []models.MediaFile
	var errs []models.FileError
	seen := make(map[string]bool)

	add := func(path string, info fs.FileInfo) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		kind, _ := hash.Classify(abs)
		files = append(files, models.MediaFile{
			Path:    abs,
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			errs = append(errs, models.NewFileError(root, err))
			continue
		}
		if !info.IsDir() {
			add(root, info)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				errs = append(errs, models.NewFileError(path, err))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !hash.IsSupported(path) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				errs = append(errs, models.NewFileError(path, err))
				return nil
			}
			add(path, info)
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, errs, nil
}

// Mode selects how a deletion candidate is removed
type Mode int

const (
	ModeTrash Mode = iota
	ModePermanent
	ModeMove
)

func (m Mode) String() string {
	switch m {
	case ModePermanent:
		return "deleted"
	case ModeMove:
		return "moved"
	default:
		return "trashed"
	}
}

// Remover removes validated deletion candidates
type Remover struct {
	Mode   Mode
	MoveTo string // destination directory for ModeMove
}

// Validate checks that member can still be removed safely: it exists, is a
// regular file, matches the size and modification time recorded at scan
// time, and the group's keep file is still present.
func Validate(group *models.DuplicateGroup, member *models.Member) error {
	if member.Keep || member.Path == group.Keep {
		return fmt.Errorf("%s: %w", member.Path, ErrNotCandidate)
	}

	info, err := os.Lstat(member.Path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", member.Path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w: not a regular file", member.Path, ErrChanged)
	}
	if info.Size() != member.Size || !info.ModTime().Equal(member.ModTime) {
		return fmt.Errorf("%s: %w", member.Path, ErrChanged)
	}

	if _, err := os.Stat(group.Keep); err != nil {
		return fmt.Errorf("%s: %w", group.Keep, ErrKeepMissing)
	}
	return nil
}

// Remove validates member and removes it according to the configured mode
func (r *Remover) Remove(group *models.DuplicateGroup, member *models.Member) error {
	if err := Validate(group, member); err != nil {
		return err
	}

	switch r.Mode {
	case ModePermanent:
		return os.Remove(member.Path)
	case ModeMove:
		if r.MoveTo == "" {
			return errors.New("no destination directory")
		}
		return MoveFile(member.Path, r.MoveTo)
	default:
		return MoveToTrash(member.Path)
	}
}

// MoveFile moves a file to the destination directory.
// If a file with the same name exists, it appends a counter (e.g., clip_1.mp4).
func MoveFile(src, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	destName := findUniqueName(filepath.Base(src), func(name string) bool {
		_, err := os.Stat(filepath.Join(destDir, name))
		return os.IsNotExist(err)
	})

	return moveFileAcrossFS(src, filepath.Join(destDir, destName))
}

// findUniqueName finds a unique filename by appending a counter if needed.
// isAvailable should return true if the name can be used.
func findUniqueName(filename string, isAvailable func(string) bool) string {
	if isAvailable(filename) {
		return filename
	}

	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s_%d%s", name, counter, ext)
		if isAvailable(candidate) {
			return candidate
		}
	}
}

// moveFileAcrossFS renames a file, falling back to copy+delete across
// filesystems
func moveFileAcrossFS(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		if err := copyFile(src, dest); err != nil {
			return err
		}
		return os.Remove(src)
	}
	return err
}

func copyFile(src, dest string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	destFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, srcInfo.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, srcFile); err != nil {
		destFile.Close()
		os.Remove(dest)
		return err
	}
	if err := destFile.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	// keep the original timestamp so the copy still resolves as the same age
	return os.Chtimes(dest, srcInfo.ModTime(), srcInfo.ModTime())
}

// MoveToTrash moves a file to the platform trash
func MoveToTrash(src string) error {
	return moveToTrash(src)
}
