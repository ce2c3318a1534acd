// Package loopback creates and attaches sparse image files as loop
// devices, giving the planner/executor path something that behaves like
// a disk. No other package in this repository imports it; --test does
// not use it.
//
// Adapted from the teacher's fixed-35GB-A/B-scheme loopback helper: the
// mechanics (truncate, losetup --find --show --partscan, losetup -d)
// are unchanged, but the minimum-size and default-size constants that
// existed only to fit the teacher's boot+root1+root2+var layout are
// gone — any size the caller's intended Disks configuration needs is
// valid here.
package loopback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frostyard/dinst/pkg/toolexec"
	"github.com/frostyard/dinst/pkg/types"
)

// Device represents an attached loopback device backed by a sparse file.
type Device struct {
	ImagePath string
	DevPath   string
	SizeGB    int
}

// CreateFile creates a sparse image file of the given size. It refuses
// to overwrite an existing file unless force is set.
func CreateFile(imagePath string, sizeGB int, force bool) error {
	absPath, err := filepath.Abs(imagePath)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	imagePath = absPath

	if _, err := os.Stat(imagePath); err == nil {
		if !force {
			return fmt.Errorf("image file %s already exists (use --force to overwrite)", imagePath)
		}
		if err := os.Remove(imagePath); err != nil {
			return fmt.Errorf("remove existing image file: %w", err)
		}
	}
	if sizeGB <= 0 {
		return fmt.Errorf("image size must be positive, got %dGB", sizeGB)
	}

	if err := os.MkdirAll(filepath.Dir(imagePath), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	r := toolexec.NewRunner()
	_, err = r.Run(context.Background(), types.StepInit, "truncate", "-s", fmt.Sprintf("%dG", sizeGB), imagePath)
	return err
}

// Attach attaches an image file as a loopback device and returns its
// /dev/loopN path.
func Attach(ctx context.Context, r *toolexec.Runner, imagePath string) (string, error) {
	absPath, err := filepath.Abs(imagePath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("image file %s does not exist", absPath)
	}

	out, err := r.Run(ctx, types.StepInit, "losetup", "--find", "--show", "--partscan", absPath)
	if err != nil {
		return "", err
	}
	dev := strings.TrimSpace(out)
	if dev == "" {
		return "", fmt.Errorf("losetup returned empty device path")
	}
	return dev, nil
}

// Detach tears down a previously attached loop device.
func Detach(ctx context.Context, r *toolexec.Runner, devPath string) error {
	if devPath == "" {
		return nil
	}
	if !strings.HasPrefix(devPath, "/dev/loop") {
		return fmt.Errorf("not a loop device: %s", devPath)
	}
	return r.RunQuiet(ctx, types.StepInit, "losetup", "-d", devPath)
}

// Setup creates and attaches a loopback image in one call.
func Setup(ctx context.Context, r *toolexec.Runner, imagePath string, sizeGB int, force bool) (*Device, error) {
	if err := CreateFile(imagePath, sizeGB, force); err != nil {
		return nil, err
	}
	dev, err := Attach(ctx, r, imagePath)
	if err != nil {
		_ = os.Remove(imagePath)
		return nil, err
	}
	return &Device{ImagePath: imagePath, DevPath: dev, SizeGB: sizeGB}, nil
}

// Cleanup detaches the loop device. It is safe to call on a nil Device.
func (d *Device) Cleanup(ctx context.Context, r *toolexec.Runner) error {
	if d == nil || d.DevPath == "" {
		return nil
	}
	return Detach(ctx, r, d.DevPath)
}
