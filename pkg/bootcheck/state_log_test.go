package bootcheck

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendStateLog(t *testing.T) {
	file := filepath.Join(t.TempDir(), "partfix.state")

	fixed := &Result{
		RunID:     "0192b2f4-run",
		ImagePath: "raspios.img",
		Status:    StatusFixed,
		Observation: Observation{Partitions: []Partition{
			{Index: 1, Device: "/dev/loop0p1", PartUUID: "aaaa1111-01"},
			{Index: 2, Device: "/dev/loop0p2", PartUUID: "aaaa1111-02"},
		}},
		Mismatches: []Mismatch{{Ref: References[1], Expected: "aaaa1111-01", Found: "ffff0000-01"}},
	}
	unsupported := &Result{Status: StatusUnsupported, Reason: ErrUnsupportedTopology}

	require.NoError(t, AppendStateLog(file, "raspios.img", fixed, nil))
	require.NoError(t, AppendStateLog(file, "raspios.img", unsupported, nil))
	require.NoError(t, AppendStateLog(file, "raspios.img", nil, errors.New("attach failed")))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	text := string(data)

	assert.Equal(t, 1, strings.Count(text, "# partfix state log"))
	assert.Equal(t, 3, strings.Count(text, "=== RUN "))
	assert.Contains(t, text, "partition 2: /dev/loop0p2 PARTUUID=aaaa1111-02")
	assert.Contains(t, text, "found ffff0000-01, expected aaaa1111-01")
	assert.Contains(t, text, "result: FIXED\n")
	assert.Contains(t, text, "result: UNSUPPORTED: unsupported partition topology")
	assert.Contains(t, text, "result: FAILED: attach failed")
}
