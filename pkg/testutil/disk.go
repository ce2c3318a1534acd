// Package testutil provides test helpers for exercising real block
// devices (loop-backed disk images) and golden-file comparisons.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestDisk represents a test disk image with loop device
type TestDisk struct {
	ImagePath  string
	LoopDevice string
	Size       int64 // Size in bytes
	Mounted    bool
	t          *testing.T
}

// CreateTestDisk creates a disk image file and attaches it to a loop device
func CreateTestDisk(t *testing.T, sizeGB int) (*TestDisk, error) {
	t.Helper()

	// Create temporary file for disk image
	tmpDir := t.TempDir()
	imagePath := filepath.Join(tmpDir, "test-disk.img")

	sizeBytes := int64(sizeGB) * 1024 * 1024 * 1024

	// Create sparse file
	t.Logf("Creating %dGB test disk image: %s", sizeGB, imagePath)
	f, err := os.Create(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create image file: %w", err)
	}
	if err := f.Truncate(sizeBytes); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to truncate image file: %w", err)
	}
	_ = f.Close()

	// Attach to loop device with partition scanning enabled
	cmd := exec.Command("losetup", "--find", "--show", "--partscan", imagePath)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to attach loop device (are you root?): %w", err)
	}

	loopDevice := strings.TrimSpace(string(output))
	t.Logf("Attached loop device: %s", loopDevice)

	disk := &TestDisk{
		ImagePath:  imagePath,
		LoopDevice: loopDevice,
		Size:       sizeBytes,
		t:          t,
	}

	// Register cleanup
	t.Cleanup(func() {
		disk.Cleanup()
	})

	return disk, nil
}

// Cleanup detaches the loop device; the image file is not removed here
func (d *TestDisk) Cleanup() {
	if d.LoopDevice != "" {
		d.t.Logf("Detaching loop device: %s", d.LoopDevice)
		cmd := exec.Command("losetup", "-d", d.LoopDevice)
		if err := cmd.Run(); err != nil {
			d.t.Logf("Warning: failed to detach loop device %s: %v", d.LoopDevice, err)
		}
		d.LoopDevice = ""
	}
}

// GetDevice returns the loop device path (e.g., /dev/loop0)
func (d *TestDisk) GetDevice() string {
	return d.LoopDevice
}

// RequireRoot skips the test if not running as root
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("Test requires root privileges (sudo)")
	}
}

// CheckToolExists checks if a required tool is available
func CheckToolExists(t *testing.T, tool string) {
	t.Helper()
	if _, err := exec.LookPath(tool); err != nil {
		t.Skipf("Required tool not found: %s", tool)
	}
}

// RequireTools checks for required tools and skips if any are missing
func RequireTools(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		CheckToolExists(t, tool)
	}
}

// WaitForDevice waits for a device to appear (useful after partitioning)
func WaitForDevice(device string) error {
	// For loop devices, force partition rescan using partx
	// Note: losetup --partscan only works during initial setup, not on existing devices
	if strings.HasPrefix(filepath.Base(device), "loop") {
		cmd := exec.Command("partx", "-u", device)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("partx -u failed: %w", err)
		}
	}

	// Also run partprobe to inform kernel of partition changes
	// partprobe may fail but device could still work, so we ignore errors
	cmd := exec.Command("partprobe", device)
	_ = cmd.Run()

	// Wait for udev to settle
	cmd = exec.Command("udevadm", "settle")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("udevadm settle failed: %w", err)
	}

	return nil
}

// CleanupMounts unmounts any mounts under a directory
func CleanupMounts(t *testing.T, mountPoint string) {
	t.Helper()

	// Find all mounts under mountPoint
	cmd := exec.Command("mount")
	output, err := cmd.Output()
	if err != nil {
		t.Logf("Warning: failed to list mounts: %v", err)
		return
	}

	lines := strings.Split(string(output), "\n")
	for _, line := range lines {
		if strings.Contains(line, mountPoint) {
			// Extract mount point (format: "device on /path type fstype")
			parts := strings.Split(line, " on ")
			if len(parts) < 2 {
				continue
			}
			mountParts := strings.Split(parts[1], " type ")
			if len(mountParts) < 1 {
				continue
			}
			mount := mountParts[0]

			t.Logf("Unmounting: %s", mount)
			cmd := exec.Command("umount", "-f", mount)
			if err := cmd.Run(); err != nil {
				t.Logf("Warning: failed to unmount %s: %v", mount, err)
			}
		}
	}
}
