// Package bootchecktest provides an in-memory bootcheck.System for tests.
// Partitions are backed by plain directories: mounting copies a partition's
// directory into the mountpoint and unmounting copies it back and empties
// the mountpoint, the way a real unmount leaves an empty directory behind.
package bootchecktest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/woliveiras/partfix/pkg/bootcheck"
)

// Partition describes one partition of the fake image.
type Partition struct {
	PartUUID string
	FSType   string
	// Files maps paths relative to the partition root to their content.
	Files map[string]string
}

type partition struct {
	Partition
	node string
	dir  string
}

// System is a fake bootcheck.System.
type System struct {
	Device string

	AttachErr    error
	SettleErr    error
	PartitionErr error
	// MountErr is returned when mounting partition FailMount (1-based).
	MountErr   error
	FailMount  int
	UnmountErr error
	// Relabel, when set, sees every PARTUUID lookup of the 1-based
	// partition index and returns the identifier to report.
	Relabel func(index int, id string) string

	parts    []*partition
	mounted  map[string]*partition
	attached int
	detached int
}

// New builds a fake system whose image holds the given partitions. Their
// content lives under t.TempDir().
func New(t testing.TB, parts ...Partition) *System {
	t.Helper()

	s := &System{
		Device:  "/dev/loop7",
		mounted: make(map[string]*partition),
	}
	root := t.TempDir()
	for i, p := range parts {
		dir := filepath.Join(root, fmt.Sprintf("part%d", i+1))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create backing dir: %v", err)
		}
		for name, content := range p.Files {
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatalf("create %s: %v", filepath.Dir(path), err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("write %s: %v", path, err)
			}
		}
		s.parts = append(s.parts, &partition{Partition: p, dir: dir})
	}
	return s
}

// ReadFile returns the content of a file on the 1-based partition index as
// it is stored in the image, i.e. outside of any mount.
func (s *System) ReadFile(t testing.TB, index int, name string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(s.parts[index-1].dir, name))
	if err != nil {
		t.Fatalf("read partition %d %s: %v", index, name, err)
	}
	return string(data)
}

// Attached reports how many times the image was attached.
func (s *System) Attached() int { return s.attached }

// Detached reports how many times the loop device was detached.
func (s *System) Detached() int { return s.detached }

// Mounted reports how many filesystems are currently mounted.
func (s *System) Mounted() int { return len(s.mounted) }

type device struct {
	sys  *System
	path string
	done bool
}

func (d *device) Path() string { return d.path }

func (d *device) Detach() error {
	if d.done {
		return errors.New("loop device already detached")
	}
	d.done = true
	d.sys.detached++
	return nil
}

func (s *System) Attach(ctx context.Context, imagePath string) (bootcheck.LoopDevice, error) {
	if s.AttachErr != nil {
		return nil, s.AttachErr
	}
	s.attached++
	return &device{sys: s, path: s.Device}, nil
}

func (s *System) Settle(ctx context.Context) error {
	return s.SettleErr
}

func (s *System) Partitions(ctx context.Context, dev string) ([]string, error) {
	if s.PartitionErr != nil {
		return nil, s.PartitionErr
	}
	nodes := make([]string, 0, len(s.parts))
	for i, p := range s.parts {
		p.node = fmt.Sprintf("%sp%d", dev, i+1)
		nodes = append(nodes, p.node)
	}
	return nodes, nil
}

func (s *System) lookup(node string) (int, *partition, error) {
	for i, p := range s.parts {
		if p.node == node {
			return i + 1, p, nil
		}
	}
	return 0, nil, fmt.Errorf("no such partition %s", node)
}

func (s *System) PartUUID(ctx context.Context, node string) (string, error) {
	idx, p, err := s.lookup(node)
	if err != nil {
		return "", err
	}
	if s.Relabel != nil {
		return s.Relabel(idx, p.PartUUID), nil
	}
	return p.PartUUID, nil
}

func (s *System) FilesystemType(ctx context.Context, node string) (string, error) {
	_, p, err := s.lookup(node)
	if err != nil {
		return "", err
	}
	return p.FSType, nil
}

func (s *System) Mount(ctx context.Context, node, target, fstype string) error {
	idx, p, err := s.lookup(node)
	if err != nil {
		return err
	}
	if s.MountErr != nil && s.FailMount == idx {
		return s.MountErr
	}
	if err := os.CopyFS(target, os.DirFS(p.dir)); err != nil {
		return fmt.Errorf("fake mount %s: %w", node, err)
	}
	s.mounted[target] = p
	return nil
}

func (s *System) Unmount(ctx context.Context, target string) error {
	p, ok := s.mounted[target]
	if !ok {
		return fmt.Errorf("%s is not mounted", target)
	}
	if s.UnmountErr != nil {
		return s.UnmountErr
	}

	if err := os.RemoveAll(p.dir); err != nil {
		return err
	}
	if err := os.CopyFS(p.dir, os.DirFS(target)); err != nil {
		return fmt.Errorf("fake unmount %s: %w", target, err)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(target, e.Name())); err != nil {
			return err
		}
	}
	delete(s.mounted, target)
	return nil
}
