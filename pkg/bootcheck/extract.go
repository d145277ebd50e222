package bootcheck

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

var (
	// The value runs to the next whitespace, the way the kernel and mount
	// split their arguments, so malformed values are compared as written.
	partUUIDToken = regexp.MustCompile(`PARTUUID=(\S*)`)

	// MBR identifiers: disk signature and partition number, e.g. 6c586e13-02.
	mbrPartUUID = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{2}$`)
)

// ActualUUID returns the PARTUUID stored in the block-device metadata of
// node. Both MBR (xxxxxxxx-NN) and GPT identifiers are accepted.
func ActualUUID(ctx context.Context, sys System, node string) (string, error) {
	id, err := sys.PartUUID(ctx, node)
	if err != nil {
		return "", fmt.Errorf("read PARTUUID of %s: %w", node, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrNoPartUUID, node)
	}
	if !validPartUUID(id) {
		return "", fmt.Errorf("unexpected PARTUUID %q on %s", id, node)
	}
	return id, nil
}

func validPartUUID(id string) bool {
	if mbrPartUUID.MatchString(id) {
		return true
	}
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// ReferencedUUID returns the value of the PARTUUID= token on line (1-based)
// of path. ok is false when the file has fewer lines or the line holds no
// token. No other line is inspected.
func ReferencedUUID(path string, line int) (value string, ok bool, err error) {
	text, found, err := readLine(path, line)
	if err != nil || !found {
		return "", false, err
	}
	m := partUUIDToken.FindStringSubmatch(text)
	if m == nil {
		return "", false, nil
	}
	return m[1], true, nil
}

func readLine(path string, n int) (string, bool, error) {
	if n < 1 {
		return "", false, fmt.Errorf("invalid line number %d", n)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for i := 1; ; i++ {
		text, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", false, fmt.Errorf("read %s: %w", path, err)
		}
		if i == n {
			if text == "" && err != nil {
				return "", false, nil
			}
			return text, true, nil
		}
		if err != nil {
			return "", false, nil
		}
	}
}

// Observe reads the actual PARTUUID of every partition and the value of
// every entry of References from the mounted partitions.
func Observe(ctx context.Context, sys System, parts []Partition) (Observation, error) {
	obs := Observation{
		Partitions: make([]Partition, len(parts)),
		Found:      make([]string, len(References)),
	}
	copy(obs.Partitions, parts)

	for i := range obs.Partitions {
		id, err := ActualUUID(ctx, sys, obs.Partitions[i].Device)
		if err != nil {
			return Observation{}, err
		}
		obs.Partitions[i].PartUUID = id
	}

	for i, ref := range References {
		if ref.Partition < 1 || ref.Partition > len(parts) {
			return Observation{}, fmt.Errorf("reference %s points at missing partition %d", ref.Name, ref.Partition)
		}
		path := filepath.Join(parts[ref.Partition-1].Mountpoint, ref.File)
		value, _, err := ReferencedUUID(path, ref.Line)
		if err != nil {
			return Observation{}, fmt.Errorf("read %s: %w", ref.Name, err)
		}
		obs.Found[i] = value
	}
	return obs, nil
}
