package bootcheck

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// AppendStateLog appends a human-readable block describing one run to the
// given path. res may be nil when the run failed before classification;
// runErr is then recorded as the result.
func AppendStateLog(path, imagePath string, res *Result, runErr error) error {
	f, openErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		return openErr
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr == nil && info.Size() == 0 {
		header := "# partfix state log - each section describes one run. Newest entries are at the bottom.\n\n"
		if _, err := f.WriteString(header); err != nil {
			return err
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var b strings.Builder

	fmt.Fprintf(&b, "=== RUN %s ===\n", now)
	fmt.Fprintf(&b, "image: %s\n", imagePath)
	if res != nil {
		fmt.Fprintf(&b, "run: %s\n", res.RunID)
		for _, p := range res.Observation.Partitions {
			fmt.Fprintf(&b, "partition %d: %s PARTUUID=%s\n", p.Index, p.Device, p.PartUUID)
		}
		fmt.Fprintf(&b, "mismatches:\n")
		for _, m := range res.Mismatches {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		for _, c := range res.Changes {
			fmt.Fprintf(&b, "changed: partition %d %s %s -> %s\n", c.Partition, c.File, c.Before, c.After)
		}
	}

	switch {
	case runErr != nil:
		fmt.Fprintf(&b, "result: FAILED: %v\n\n", runErr)
	case res == nil:
		fmt.Fprintf(&b, "result: UNKNOWN\n\n")
	case res.Reason != nil:
		fmt.Fprintf(&b, "result: %s: %v\n\n", strings.ToUpper(res.Status.String()), res.Reason)
	default:
		fmt.Fprintf(&b, "result: %s\n\n", strings.ToUpper(res.Status.String()))
	}

	_, writeErr := f.WriteString(b.String())
	return writeErr
}
