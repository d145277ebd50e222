package bootcheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImagePath(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "raspios.img")
	require.NoError(t, os.WriteFile(image, []byte("image"), 0o644))
	link := filepath.Join(dir, "latest.img")
	require.NoError(t, os.Symlink(image, link))

	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"regular file", image, false},
		{"symlink to file", link, false},
		{"empty", "", true},
		{"missing", filepath.Join(dir, "missing.img"), true},
		{"directory", dir, true},
		{"device", "/dev/null", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateImagePath(tc.path)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
