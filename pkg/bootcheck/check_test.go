package bootcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	const (
		a1 = "aaaa1111-01"
		a2 = "aaaa1111-02"
	)

	cases := []struct {
		name      string
		cmdline   string
		fstabBoot string
		fstabRoot string
		want      Status
		wantRefs  []string
	}{
		{"all match", a2, a1, a2, StatusOK, nil},
		{"stale boot entry", a2, "ffff0000-01", a2, StatusNeedsFix, []string{"fstab-boot"}},
		{"stale cmdline", "ffff0000-02", a1, a2, StatusNeedsFix, []string{"cmdline-root"}},
		{"all stale", "ffff0000-02", "ffff0000-01", "ffff0000-02", StatusNeedsFix, []string{"cmdline-root", "fstab-boot", "fstab-root"}},
		{"swapped targets", a1, a2, a1, StatusNeedsFix, []string{"cmdline-root", "fstab-boot", "fstab-root"}},
		{"absent root token", a2, a1, "", StatusNeedsFix, []string{"fstab-root"}},
		{"case differs", "AAAA1111-02", a1, a2, StatusNeedsFix, []string{"cmdline-root"}},
		{"trailing junk", a2 + "junk", a1, a2, StatusNeedsFix, []string{"cmdline-root"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := Check(a1, a2, tc.cmdline, tc.fstabBoot, tc.fstabRoot)
			assert.Equal(t, tc.want, report.Status)

			var got []string
			for _, m := range report.Mismatches {
				got = append(got, m.Ref.Name)
			}
			assert.Equal(t, tc.wantRefs, got)
		})
	}
}

func TestCheck_MismatchCarriesLocation(t *testing.T) {
	report := Check("aaaa1111-01", "aaaa1111-02", "aaaa1111-02", "ffff0000-01", "aaaa1111-02")
	require.Len(t, report.Mismatches, 1)

	m := report.Mismatches[0]
	assert.Equal(t, 2, m.Ref.Partition)
	assert.Equal(t, MountTableFile, m.Ref.File)
	assert.Equal(t, 2, m.Ref.Line)
	assert.Equal(t, "ffff0000-01", m.Found)
	assert.Equal(t, "aaaa1111-01", m.Expected)
}

func TestCheck_EmptyActualNeverMatches(t *testing.T) {
	report := Check("", "aaaa1111-02", "aaaa1111-02", "", "aaaa1111-02")
	assert.Equal(t, StatusNeedsFix, report.Status)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, "fstab-boot", report.Mismatches[0].Ref.Name)
}

func TestMismatchString(t *testing.T) {
	m := Mismatch{Ref: References[2], Expected: "aaaa1111-02"}
	assert.Contains(t, m.String(), "<absent>")
	assert.Contains(t, m.String(), "line 3")
}

func TestStatusExitCode(t *testing.T) {
	assert.Equal(t, 0, StatusOK.ExitCode())
	assert.Equal(t, 1, StatusFixed.ExitCode())
	assert.Equal(t, 2, StatusBlocked.ExitCode())
	assert.Equal(t, 9, StatusUnsupported.ExitCode())
	assert.Equal(t, "needs-fix", StatusNeedsFix.String())
}

func TestResultString(t *testing.T) {
	res := Result{
		ImagePath: "raspios.img",
		Status:    StatusFixed,
		Mismatches: []Mismatch{
			{Ref: References[1], Expected: "aaaa1111-01", Found: "ffff0000-01"},
		},
		Changes: []FileChange{{Partition: 2, File: MountTableFile}},
	}

	out := res.String()
	assert.Contains(t, out, "raspios.img: fixed")
	assert.Contains(t, out, "found ffff0000-01, expected aaaa1111-01")
	assert.Contains(t, out, "rewrote partition 2 etc/fstab")
}
