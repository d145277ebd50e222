package bootcheck

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	// BootParamsFile is the kernel command line on partition 1.
	BootParamsFile = "cmdline.txt"
	// MountTableFile is the filesystem table on partition 2.
	MountTableFile = "etc/fstab"

	// SupportedPartitions is the only partition count partfix handles.
	SupportedPartitions = 2
)

// Partition is one partition of the attached image. Index is 1-based.
// Mountpoint is only valid while the partition is mounted.
type Partition struct {
	Index      int
	Device     string
	Mountpoint string
	PartUUID   string
}

// Reference names one PARTUUID= token that the boot chain depends on:
// the token on Line of File (relative to partition Partition's root)
// must equal the PARTUUID of partition Target.
type Reference struct {
	Name      string
	Partition int
	File      string
	Line      int
	Target    int
}

func (r Reference) String() string {
	return fmt.Sprintf("%s (partition %d %s line %d -> partition %d)", r.Name, r.Partition, r.File, r.Line, r.Target)
}

// References lists the fixed-line conventions in the order mismatches are
// reported: cmdline root first, then the fstab boot and root entries.
var References = []Reference{
	{Name: "cmdline-root", Partition: 1, File: BootParamsFile, Line: 1, Target: 2},
	{Name: "fstab-boot", Partition: 2, File: MountTableFile, Line: 2, Target: 1},
	{Name: "fstab-root", Partition: 2, File: MountTableFile, Line: 3, Target: 2},
}

// Mismatch is a reference whose value differs from the partition it points
// to. Found is empty when the line holds no PARTUUID= token.
type Mismatch struct {
	Ref      Reference
	Expected string
	Found    string
}

func (m Mismatch) String() string {
	found := m.Found
	if found == "" {
		found = "<absent>"
	}
	return fmt.Sprintf("%s: found %s, expected %s", m.Ref, found, m.Expected)
}

// Status is the classification of an image.
type Status int

const (
	StatusOK Status = iota
	StatusNeedsFix
	StatusFixed
	StatusBlocked
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNeedsFix:
		return "needs-fix"
	case StatusFixed:
		return "fixed"
	case StatusBlocked:
		return "blocked"
	case StatusUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ExitCode maps a terminal status to the process result code.
// NeedsFix is never terminal and reports like Blocked.
func (s Status) ExitCode() int {
	switch s {
	case StatusOK:
		return 0
	case StatusFixed:
		return 1
	case StatusNeedsFix, StatusBlocked:
		return 2
	case StatusUnsupported:
		return 9
	default:
		return 9
	}
}

// Report is the outcome of comparing actual and referenced identifiers.
type Report struct {
	Status     Status
	Mismatches []Mismatch
}

// Observation holds what was read from an image: the partitions with their
// actual PARTUUIDs and, aligned with References, the referenced values.
type Observation struct {
	Partitions []Partition
	Found      []string
}

// Actual returns the PARTUUID of the 1-based partition index.
func (o Observation) Actual(index int) string {
	if index < 1 || index > len(o.Partitions) {
		return ""
	}
	return o.Partitions[index-1].PartUUID
}

// FileChange records the content identity of a file rewritten by a fix.
type FileChange struct {
	Partition int
	File      string
	Before    digest.Digest
	After     digest.Digest
}

// Result is the terminal outcome of one run.
type Result struct {
	RunID       string
	ImagePath   string
	Status      Status
	Reason      error
	Observation Observation
	Mismatches  []Mismatch
	Changes     []FileChange
}

// String renders a human-readable summary of the result.
func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Image %s: %s\n", r.ImagePath, r.Status)
	if r.Reason != nil {
		fmt.Fprintf(&b, "  reason: %v\n", r.Reason)
	}
	for _, m := range r.Mismatches {
		fmt.Fprintf(&b, "  - %s\n", m)
	}
	for _, c := range r.Changes {
		fmt.Fprintf(&b, "  * rewrote partition %d %s (%s -> %s)\n", c.Partition, c.File, shortDigest(c.Before), shortDigest(c.After))
	}
	return b.String()
}

func shortDigest(d digest.Digest) string {
	if d == "" {
		return ""
	}
	e := d.Encoded()
	if len(e) > 12 {
		return e[:12]
	}
	return e
}
