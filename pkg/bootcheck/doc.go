// Package bootcheck contains the core domain logic for partfix: attaching a
// two-partition disk image to a loop device, mounting its boot and root
// filesystems, comparing the PARTUUID references in cmdline.txt and
// /etc/fstab with the identifiers the partitions actually carry, and
// rewriting the stale references in place when the caller allows it.
// It is used by the CLI layer but can also be embedded in other image
// tooling that needs to repair cloned or resized Raspberry Pi style images.
package bootcheck
