// Package collaborator provides the concrete implementations of the
// executor package's external-collaborator interfaces: unpacking the
// base OS image, running first-boot configuration inside a chroot,
// installing a bootloader, and holding a suspend inhibitor for the
// duration of an install.
//
// Grounded on the teacher's pkg/container.go (ContainerExtractor,
// SetupSystemDirectories, PrepareMachineID, ChrootCommand),
// pkg/system.go (SetRootPasswordInTarget), pkg/bootloader.go
// (BootloaderInstaller), and pkg/lock.go (FileLock), generalized from
// a container-image extractor and fixed A/B root scheme to a squashfs
// extractor and the planner's arbitrary partition/mount layout.
package collaborator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frostyard/dinst/pkg/toolexec"
	"github.com/frostyard/dinst/pkg/types"
)

// SquashfsExtractor unpacks a squashfs image onto a target root with
// unsquashfs, replacing the teacher's go-containerregistry/docker
// image-layer extraction (dropped: installs consume a prebuilt
// squashfs, not an OCI image).
type SquashfsExtractor struct {
	Exec *toolexec.Runner
}

func NewSquashfsExtractor(exec *toolexec.Runner) *SquashfsExtractor {
	return &SquashfsExtractor{Exec: exec}
}

// Extract unpacks squashfsPath onto targetRoot. unsquashfs has no
// machine-readable progress stream, so progress is reported in three
// coarse steps rather than per-file, unlike the teacher's per-layer
// container pull progress.
func (e *SquashfsExtractor) Extract(ctx context.Context, squashfsPath, targetRoot string, progress func(percent int, message string)) error {
	if progress != nil {
		progress(0, "extracting base system")
	}

	if err := os.MkdirAll(targetRoot, 0o755); err != nil {
		return fmt.Errorf("create target root: %w", err)
	}

	if _, err := e.Exec.Run(ctx, types.StepExtract, "unsquashfs", "-f", "-d", targetRoot, squashfsPath); err != nil {
		return err
	}
	if progress != nil {
		progress(70, "setting up system directories")
	}

	if err := setupSystemDirectories(targetRoot); err != nil {
		return err
	}
	if err := prepareMachineID(targetRoot); err != nil {
		return err
	}

	if progress != nil {
		progress(100, "extraction complete")
	}
	return nil
}

// setupSystemDirectories creates the bind-mount targets and runtime
// directories a squashfs tree does not carry.
func setupSystemDirectories(targetRoot string) error {
	dirs := []string{
		"dev", "proc", "sys", "run", "tmp", "var/tmp",
		"mnt", "media", "opt", "srv",
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(targetRoot, dir), 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	_ = os.Chmod(filepath.Join(targetRoot, "tmp"), os.ModeSticky|0o777)
	_ = os.Chmod(filepath.Join(targetRoot, "var", "tmp"), os.ModeSticky|0o777)
	return nil
}

// prepareMachineID writes "uninitialized" to /etc/machine-id so
// systemd generates a fresh one on first boot instead of carrying the
// squashfs build machine's id into every install.
func prepareMachineID(targetRoot string) error {
	path := filepath.Join(targetRoot, "etc", "machine-id")
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read machine-id: %w", err)
	}
	if trimmed := strings.TrimSpace(string(content)); err == nil && trimmed != "" && trimmed != "uninitialized" {
		return nil
	}
	_ = os.Remove(path)
	if err := os.WriteFile(path, []byte("uninitialized\n"), 0o444); err != nil {
		return fmt.Errorf("write machine-id: %w", err)
	}
	return nil
}
