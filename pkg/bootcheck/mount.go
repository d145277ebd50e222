package bootcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Mounter mounts image partitions under a per-run scratch directory.
// Scratch directories are removed with os.Remove only: a directory that is
// still a mountpoint is never emptied recursively.
type Mounter struct {
	sys     System
	cleanup *Cleanup
	root    string
}

// NewMounter creates <scratchDir>/partfix-<runID> and registers its removal.
func NewMounter(sys System, cleanup *Cleanup, scratchDir, runID string) (*Mounter, error) {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	root := filepath.Join(scratchDir, "partfix-"+runID)
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir %s: %w", root, err)
	}
	cleanup.Push("remove "+root, func(context.Context) error {
		return os.Remove(root)
	})

	return &Mounter{sys: sys, cleanup: cleanup, root: root}, nil
}

// Root returns the run's scratch directory.
func (m *Mounter) Root() string {
	return m.root
}

// Mount mounts p under the scratch directory and records the mountpoint
// on p. The unmount is bound to the run's Cleanup.
func (m *Mounter) Mount(ctx context.Context, p *Partition) error {
	target := filepath.Join(m.root, fmt.Sprintf("p%d", p.Index))
	if err := os.Mkdir(target, 0o755); err != nil {
		return fmt.Errorf("create mountpoint %s: %w", target, err)
	}
	m.cleanup.Push("remove "+target, func(context.Context) error {
		return os.Remove(target)
	})

	fstype, err := m.sys.FilesystemType(ctx, p.Device)
	if err != nil {
		return fmt.Errorf("detect filesystem of %s: %w", p.Device, err)
	}
	if err := m.sys.Mount(ctx, p.Device, target, fstype); err != nil {
		return err
	}
	m.cleanup.Push("umount "+target, func(ctx context.Context) error {
		return m.sys.Unmount(ctx, target)
	})

	p.Mountpoint = target
	logger().Debug("partition mounted",
		zap.Int("partition", p.Index), zap.String("device", p.Device),
		zap.String("fstype", fstype), zap.String("target", target))
	return nil
}

// VerifyContent checks that partition 1 holds cmdline.txt and partition 2
// holds etc/fstab. A missing file is reported as ErrUnsupportedContent.
func VerifyContent(parts []Partition) error {
	required := map[int]string{
		1: BootParamsFile,
		2: MountTableFile,
	}
	for idx := 1; idx <= SupportedPartitions; idx++ {
		if idx > len(parts) || parts[idx-1].Mountpoint == "" {
			return fmt.Errorf("%w: partition %d is not mounted", ErrUnsupportedContent, idx)
		}
		path := filepath.Join(parts[idx-1].Mountpoint, required[idx])
		st, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: partition %d has no %s", ErrUnsupportedContent, idx, required[idx])
		}
		if !st.Mode().IsRegular() {
			return fmt.Errorf("%w: partition %d %s is not a regular file", ErrUnsupportedContent, idx, required[idx])
		}
	}
	return nil
}
