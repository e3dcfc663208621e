package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// FilePrefix starts every name generated by Write.
	FilePrefix = "backup-"
	// FileExt is the only extension listed, read or accepted on upload.
	FileExt = ".json"

	tempPattern = ".tmp-*"
)

var stampReplacer = strings.NewReplacer(":", "-", ".", "-")

// Filename returns the artifact name for a capture taken at ts, e.g.
// backup-2024-03-01T10-20-30-123Z.json.
func Filename(ts time.Time) string {
	stamp := ts.UTC().Format("2006-01-02T15:04:05.000Z")
	return FilePrefix + stampReplacer.Replace(stamp) + FileExt
}

// FileStore keeps snapshot artifacts in a single directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

// List returns the stored artifacts, newest first. Files without the .json
// extension, hidden files and directories are ignored.
func (s *FileStore) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !isArtifactName(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		files = append(files, FileInfo{
			Filename:  name,
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].Filename > files[j].Filename
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}

// Write serializes doc under a name derived from its timestamp and returns
// the stored name. A partially written file is never visible under that name.
func (s *FileStore) Write(doc *Document) (string, error) {
	data, err := MarshalDocument(doc)
	if err != nil {
		return "", newError(ErrWriteFailed, "", fmt.Errorf("marshal document: %w", err))
	}

	name := Filename(doc.Timestamp)
	stored, err := s.writeAtomic(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return "", newError(ErrWriteFailed, name, err)
	}
	return stored, nil
}

// Read loads and parses an artifact.
func (s *FileStore) Read(name string) (*Document, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(ErrNotFound, name, nil)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	doc, err := UnmarshalDocument(data)
	if err != nil {
		return nil, newError(ErrCorrupt, name, err)
	}
	return doc, nil
}

// Delete removes an artifact. Deleting a missing artifact is an error.
func (s *FileStore) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(ErrNotFound, name, nil)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Open returns the artifact's bytes verbatim. The caller closes the reader.
func (s *FileStore) Open(name string) (io.ReadCloser, FileInfo, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, FileInfo{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, FileInfo{}, newError(ErrNotFound, name, nil)
		}
		return nil, FileInfo{}, fmt.Errorf("open %s: %w", name, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, FileInfo{}, fmt.Errorf("stat %s: %w", name, err)
	}
	if !stat.Mode().IsRegular() {
		f.Close()
		return nil, FileInfo{}, newError(ErrNotFound, name, nil)
	}

	return f, FileInfo{
		Filename:  name,
		SizeBytes: stat.Size(),
		CreatedAt: stat.ModTime().UTC(),
	}, nil
}

// Upload stores externally produced content. Only the name is checked; the
// content is validated when it is restored.
func (s *FileStore) Upload(r io.Reader, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	stored, err := s.writeAtomic(name, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
	if err != nil {
		return "", newError(ErrWriteFailed, name, err)
	}
	return stored, nil
}

// writeAtomic writes to a temp file in the same directory and links it into
// place without replacing an existing artifact. On a name clash a numeric
// suffix is appended.
func (s *FileStore) writeAtomic(name string, write func(io.Writer) error) (string, error) {
	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := write(tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return "", fmt.Errorf("chmod temp file: %w", err)
	}

	base := strings.TrimSuffix(name, FileExt)
	for attempt := 0; attempt < 100; attempt++ {
		candidate := name
		if attempt > 0 {
			candidate = base + "-" + strconv.Itoa(attempt) + FileExt
		}
		final := filepath.Join(s.dir, candidate)

		err := os.Link(tmpPath, final)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}

		// Hard links are unsupported on some filesystems; fall back to a
		// rename guarded by an existence check.
		if _, statErr := os.Lstat(final); statErr == nil {
			continue
		}
		if err := os.Rename(tmpPath, final); err != nil {
			return "", fmt.Errorf("rename into place: %w", err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free file name for %s", name)
}

func (s *FileStore) path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// checkName accepts plain .json base names only.
func checkName(name string) error {
	if name == "" {
		return newError(ErrValidationFailed, name, fmt.Errorf("file name is required"))
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return newError(ErrValidationFailed, name, fmt.Errorf("file name must not contain a path"))
	}
	if !isArtifactName(name) {
		return newError(ErrValidationFailed, name, fmt.Errorf("only %s files are accepted", FileExt))
	}
	return nil
}

func isArtifactName(name string) bool {
	return !strings.HasPrefix(name, ".") &&
		strings.EqualFold(filepath.Ext(name), FileExt) &&
		len(name) > len(FileExt)
}
