package bootcheck

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// CheckPrerequisites ensures partfix runs with the privileges and system
// commands it needs before any loop device is touched.
func CheckPrerequisites() error {
	if unix.Geteuid() != 0 {
		return fmt.Errorf("partfix must run as root (use sudo) because it attaches loop devices and mounts filesystems")
	}

	required := []string{
		"lsblk",
		"blkid",
		"udevadm",
	}

	var missing []string
	for _, cmd := range required {
		if _, err := exec.LookPath(cmd); err != nil {
			missing = append(missing, cmd)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required commands: %s. Please install them before running partfix (e.g., apt-get install util-linux udev)", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateImagePath checks that path references a regular file that the
// current process can open for reading.
func ValidateImagePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: image path is empty", ErrInvalidInput)
	}

	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidInput, path, err)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrInvalidInput, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s is not readable: %v", ErrInvalidInput, path, err)
	}
	return f.Close()
}
