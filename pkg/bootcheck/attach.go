package bootcheck

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Attachment is an image bound to a loop device for the duration of a run.
type Attachment struct {
	Image  string
	Device LoopDevice
}

// Attacher binds image files to loop devices and enumerates their
// partitions. Every device it attaches is registered with the run's
// Cleanup so it is detached on every exit path.
type Attacher struct {
	sys     System
	cleanup *Cleanup
}

func NewAttacher(sys System, cleanup *Cleanup) *Attacher {
	return &Attacher{sys: sys, cleanup: cleanup}
}

// Attach validates imagePath, attaches it and waits for udev to settle.
func (a *Attacher) Attach(ctx context.Context, imagePath string) (*Attachment, error) {
	if err := ValidateImagePath(imagePath); err != nil {
		return nil, err
	}

	dev, err := a.sys.Attach(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", imagePath, err)
	}
	a.cleanup.Push("detach "+dev.Path(), func(context.Context) error {
		return dev.Detach()
	})

	if err := a.sys.Settle(ctx); err != nil {
		return nil, fmt.Errorf("settle %s: %w", dev.Path(), err)
	}

	logger().Info("image attached", zap.String("image", imagePath), zap.String("device", dev.Path()))
	return &Attachment{Image: imagePath, Device: dev}, nil
}

// Enumerate lists the partitions of an attached image. Anything other than
// exactly two partitions is reported as ErrUnsupportedTopology.
func (a *Attacher) Enumerate(ctx context.Context, att *Attachment) ([]Partition, error) {
	nodes, err := a.sys.Partitions(ctx, att.Device.Path())
	if err != nil {
		return nil, fmt.Errorf("list partitions of %s: %w", att.Device.Path(), err)
	}
	if len(nodes) != SupportedPartitions {
		return nil, fmt.Errorf("%w: %s has %d partitions, want %d",
			ErrUnsupportedTopology, att.Image, len(nodes), SupportedPartitions)
	}

	parts := make([]Partition, 0, len(nodes))
	for i, node := range nodes {
		parts = append(parts, Partition{Index: i + 1, Device: node})
	}
	return parts, nil
}
