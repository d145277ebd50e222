package bootcheck

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/freddierice/go-losetup/v2"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// localSystem is a System implementation backed by the local Linux kernel:
// loop devices through go-losetup, mounts through mount(2), and block-device
// metadata through lsblk with a blkid fallback.
type localSystem struct{}

const attachAttempts = 10

// NewLocalSystem creates a System backed by the local OS.
func NewLocalSystem() System {
	return localSystem{}
}

// Attach binds imagePath to the first free loop device and enables
// partition scanning so /dev/loopNpM nodes are created.
func (localSystem) Attach(ctx context.Context, imagePath string) (LoopDevice, error) {
	dev, err := attachLoop(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("losetup attach %s: %w", imagePath, err)
	}

	info, err := dev.GetInfo()
	if err == nil {
		info.Flags |= unix.LO_FLAGS_PARTSCAN
		err = dev.SetInfo(info)
	}
	if err != nil {
		if derr := dev.Detach(); derr != nil {
			logger().Warn("failed to detach loop device after partscan error",
				zap.String("device", dev.Path()), zap.Error(derr))
		}
		return nil, fmt.Errorf("enable partition scan on %s: %w", dev.Path(), err)
	}

	logger().Debug("attached image", zap.String("image", imagePath), zap.String("device", dev.Path()))
	return dev, nil
}

// attachLoop retries while another process grabs the free loop device
// between lookup and configuration.
func attachLoop(ctx context.Context, imagePath string) (losetup.Device, error) {
	for attempt := 1; ; attempt++ {
		dev, err := losetup.Attach(imagePath, 0, false)
		if err == nil || !errors.Is(err, unix.EBUSY) || attempt == attachAttempts {
			return dev, err
		}

		logger().Debug("loop device busy, retrying", zap.String("image", imagePath), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return dev, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
}

// Settle waits for udev to finish processing the new block devices.
func (localSystem) Settle(ctx context.Context) error {
	_, err := runCommand(ctx, "udevadm", "settle")
	return err
}

// Partitions lists the partition nodes of device in table order.
func (localSystem) Partitions(ctx context.Context, device string) ([]string, error) {
	out, err := runCommand(ctx, "lsblk", "-nr", "-o", "NAME,TYPE", ensureDevPrefix(device))
	if err != nil {
		return nil, err
	}
	return parsePartitionList(out), nil
}

// PartUUID returns the PARTUUID of a partition node.
func (localSystem) PartUUID(ctx context.Context, node string) (string, error) {
	return probeValue(ctx, node, "PARTUUID")
}

// FilesystemType returns the filesystem type (vfat, ext4, ...) of node.
func (localSystem) FilesystemType(ctx context.Context, node string) (string, error) {
	return probeValue(ctx, node, "TYPE")
}

func (localSystem) Mount(ctx context.Context, node, target, fstype string) error {
	if fstype == "" {
		return fmt.Errorf("mount %s: unknown filesystem type", node)
	}
	logger().Debug("mount", zap.String("device", node), zap.String("target", target), zap.String("fstype", fstype))
	if err := unix.Mount(node, target, fstype, 0, ""); err != nil {
		return fmt.Errorf("mount %s on %s: %w", node, target, err)
	}
	return nil
}

func (localSystem) Unmount(ctx context.Context, target string) error {
	logger().Debug("umount", zap.String("target", target))
	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("umount %s: %w", target, err)
	}
	return nil
}

// probeValue asks lsblk for a metadata field of node and falls back to a
// low-level blkid probe when the udev database has no answer (containers
// without udev, freshly created loop partitions).
func probeValue(ctx context.Context, node, field string) (string, error) {
	node = ensureDevPrefix(node)

	lsblkField := field
	if field == "TYPE" {
		lsblkField = "FSTYPE"
	}
	out, err := runCommand(ctx, "lsblk", "-dno", lsblkField, node)
	if err == nil && out != "" {
		return strings.ToLower(out), nil
	}

	out, perr := runCommand(ctx, "blkid", "-p", "-o", "value", "-s", field, node)
	if perr != nil {
		if err != nil {
			return "", fmt.Errorf("probe %s of %s: %w", field, node, err)
		}
		// blkid exits 2 when the tag is absent.
		return "", nil
	}
	return strings.ToLower(out), nil
}

// parsePartitionList parses `lsblk -nr -o NAME,TYPE` output and returns the
// /dev nodes of the entries whose type is "part", ordered by partition
// number.
func parsePartitionList(out string) []string {
	type entry struct {
		dev string
		num int
	}
	var parts []entry

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[1] != "part" {
			continue
		}
		dev := ensureDevPrefix(fields[0])
		parts = append(parts, entry{dev: dev, num: partitionNumber(dev)})
	}

	slices.SortStableFunc(parts, func(a, b entry) int {
		return cmp.Compare(a.num, b.num)
	})

	res := make([]string, 0, len(parts))
	for _, p := range parts {
		res = append(res, p.dev)
	}
	return res
}

// partitionNumber extracts the trailing partition number of a node such as
// /dev/loop0p2 or /dev/sda1. It returns 0 when there is none.
func partitionNumber(dev string) int {
	end := len(dev)
	start := end
	for start > 0 && dev[start-1] >= '0' && dev[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.Atoi(dev[start:end])
	if err != nil {
		return 0
	}
	return n
}

func ensureDevPrefix(name string) string {
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "/dev/") {
		return name
	}
	return "/dev/" + name
}
