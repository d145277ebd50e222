package bootcheck

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"
)

type fileEdit struct {
	partition int
	file      string
	path      string
	mode      os.FileMode
	before    []byte
	after     []byte
}

// Apply rewrites the PARTUUID= token named by every mismatch so it carries
// the expected value. Only the value bytes of that token change; the rest
// of the line and file is kept byte for byte. Every edit is validated
// before any file is written, so a mismatch that cannot be repaired leaves
// all files untouched. Re-applying the same mismatches is a no-op.
func Apply(parts []Partition, mismatches []Mismatch) ([]FileChange, error) {
	var edits []*fileEdit
	byPath := make(map[string]*fileEdit)

	for _, m := range mismatches {
		if m.Expected == "" {
			return nil, fmt.Errorf("%s: no expected PARTUUID", m.Ref)
		}
		if m.Ref.Partition < 1 || m.Ref.Partition > len(parts) || parts[m.Ref.Partition-1].Mountpoint == "" {
			return nil, fmt.Errorf("%s: partition %d is not mounted", m.Ref, m.Ref.Partition)
		}

		path := filepath.Join(parts[m.Ref.Partition-1].Mountpoint, m.Ref.File)
		edit, ok := byPath[path]
		if !ok {
			st, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			edit = &fileEdit{
				partition: m.Ref.Partition,
				file:      m.Ref.File,
				path:      path,
				mode:      st.Mode().Perm(),
				before:    data,
				after:     data,
			}
			byPath[path] = edit
			edits = append(edits, edit)
		}

		out, err := replaceToken(edit.after, m.Ref.Line, m.Expected)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Ref, err)
		}
		edit.after = out
	}

	var changes []FileChange
	for _, edit := range edits {
		if bytes.Equal(edit.before, edit.after) {
			continue
		}
		if err := replaceFile(edit.path, edit.after, edit.mode); err != nil {
			return changes, fmt.Errorf("write %s: %w", edit.path, err)
		}
		change := FileChange{
			Partition: edit.partition,
			File:      edit.file,
			Before:    digest.FromBytes(edit.before),
			After:     digest.FromBytes(edit.after),
		}
		changes = append(changes, change)
		logger().Info("rewrote PARTUUID references",
			zap.Int("partition", edit.partition), zap.String("file", edit.file),
			zap.String("before", change.Before.String()), zap.String("after", change.After.String()))
	}
	return changes, nil
}

// replaceToken returns a copy of data where the value of the first
// PARTUUID= token on line (1-based) is replaced by value.
func replaceToken(data []byte, line int, value string) ([]byte, error) {
	start, end, ok := lineSpan(data, line)
	if !ok {
		return nil, fmt.Errorf("%w %d: file has fewer lines", ErrTokenNotFound, line)
	}
	loc := partUUIDToken.FindSubmatchIndex(data[start:end])
	if loc == nil {
		return nil, fmt.Errorf("%w %d", ErrTokenNotFound, line)
	}
	vs, ve := start+loc[2], start+loc[3]

	out := make([]byte, 0, len(data)-(ve-vs)+len(value))
	out = append(out, data[:vs]...)
	out = append(out, value...)
	out = append(out, data[ve:]...)
	return out, nil
}

// lineSpan returns the byte range of line n (1-based) without its newline.
func lineSpan(data []byte, n int) (start, end int, ok bool) {
	if n < 1 {
		return 0, 0, false
	}
	for i := 1; i < n; i++ {
		idx := bytes.IndexByte(data[start:], '\n')
		if idx < 0 {
			return 0, 0, false
		}
		start += idx + 1
	}
	if start >= len(data) {
		return 0, 0, false
	}
	end = len(data)
	if idx := bytes.IndexByte(data[start:], '\n'); idx >= 0 {
		end = start + idx
	}
	return start, end, true
}

// replaceFile writes data under a temporary name next to path and renames
// it over path, so the partition never holds a half-written boot file.
// The rename is made durable by syncing the directory.
func replaceFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".partfix-*")
	if err != nil {
		return fmt.Errorf("create temporary file in %s: %w", dir, err)
	}

	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	renamed = true

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
