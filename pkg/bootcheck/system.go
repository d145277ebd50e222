package bootcheck

import "context"

// LoopDevice is an attached virtual block device. Detach must be called
// exactly once.
type LoopDevice interface {
	Path() string
	Detach() error
}

// System abstracts the OS services the core depends on: loop devices,
// udev, block-device metadata and mounts. The local implementation uses
// go-losetup, x/sys/unix, udevadm and lsblk; tests provide a fake.
type System interface {
	Attach(ctx context.Context, imagePath string) (LoopDevice, error)
	Settle(ctx context.Context) error
	Partitions(ctx context.Context, device string) ([]string, error)
	PartUUID(ctx context.Context, node string) (string, error)
	FilesystemType(ctx context.Context, node string) (string, error)
	Mount(ctx context.Context, node, target, fstype string) error
	Unmount(ctx context.Context, target string) error
}

// DefaultSystem is used by Run when Options.System is nil.
var DefaultSystem System = NewLocalSystem()
