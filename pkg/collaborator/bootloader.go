package collaborator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frostyard/dinst/pkg/errs"
	"github.com/frostyard/dinst/pkg/executor"
	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/toolexec"
	"github.com/frostyard/dinst/pkg/types"
)

// GrubBootloaderInstaller installs GRUB2 for EFI or BIOS boot, with an
// EFI boot-entry registration pass via efibootmgr. Adapted from the
// teacher's BootloaderInstaller (pkg/bootloader.go), dropping its
// systemd-boot path and Secure Boot shim chain (no shim/MOK signing
// infrastructure in this distribution) and its fixed boot-partition
// field in favor of scanning the intended Disks for the ESP/BIOS_GRUB
// partition the planner actually created.
type GrubBootloaderInstaller struct {
	Exec    *toolexec.Runner
	OSLabel string
}

func NewGrubBootloaderInstaller(exec *toolexec.Runner) *GrubBootloaderInstaller {
	return &GrubBootloaderInstaller{Exec: exec, OSLabel: "Linux"}
}

func (g *GrubBootloaderInstaller) InstallBootloader(ctx context.Context, targetRoot string, mode executor.BootMode, disks *model.Disks) error {
	espPath := filepath.Join(targetRoot, "boot", "efi")

	grubInstallCmd := "grub-install"
	if g.Exec.LookPath("grub2-install") {
		grubInstallCmd = "grub2-install"
	}

	var args []string
	switch mode {
	case executor.BootEFI:
		part := findFlagged(disks, model.FlagESP)
		if part == nil {
			return errs.New(types.StepBootloader, errs.KindBootloaderRequirementUnmet, "")
		}
		if err := os.MkdirAll(espPath, 0o755); err != nil {
			return fmt.Errorf("create esp mount point: %w", err)
		}
		args = []string{
			"--target=x86_64-efi",
			"--efi-directory=/boot/efi",
			"--boot-directory=/boot",
			"--bootloader-id=dinst",
			"--removable",
		}
	case executor.BootBIOS:
		part := findFlagged(disks, model.FlagBiosGrub)
		if part == nil {
			return errs.New(types.StepBootloader, errs.KindBootloaderRequirementUnmet, "")
		}
		args = []string{
			"--target=i386-pc",
			"--boot-directory=/boot",
			diskPathFor(part),
		}
	default:
		return fmt.Errorf("unknown boot mode %q", mode)
	}

	if _, err := g.Exec.Run(ctx, types.StepBootloader, "chroot", append([]string{targetRoot, grubInstallCmd}, args...)...); err != nil {
		return err
	}

	if err := g.generateConfig(ctx, targetRoot); err != nil {
		return err
	}

	if mode == executor.BootEFI {
		// A failure here is not fatal: the removable-media fallback path
		// (EFI/BOOT/BOOTX64.EFI) still boots on firmware that ignores
		// NVRAM entries.
		_ = g.registerEFIBootEntry(ctx, disks)
	}
	return nil
}

func (g *GrubBootloaderInstaller) generateConfig(ctx context.Context, targetRoot string) error {
	grubMkconfig := "grub-mkconfig"
	if _, err := os.Stat(filepath.Join(targetRoot, "usr", "sbin", "grub2-mkconfig")); err == nil {
		grubMkconfig = "grub2-mkconfig"
	}
	return g.Exec.RunQuiet(ctx, types.StepBootloader, "chroot", targetRoot, grubMkconfig, "-o", "/boot/grub/grub.cfg")
}

func (g *GrubBootloaderInstaller) registerEFIBootEntry(ctx context.Context, disks *model.Disks) error {
	if !g.Exec.LookPath("efibootmgr") {
		return nil
	}
	if _, err := os.Stat("/sys/firmware/efi/efivars"); os.IsNotExist(err) {
		return nil
	}

	part := findFlagged(disks, model.FlagESP)
	if part == nil {
		return fmt.Errorf("no ESP partition found")
	}
	disk, partNum, err := parsePartitionDevice(part.DevicePath())
	if err != nil {
		return err
	}

	label := g.OSLabel
	if label == "" {
		label = "Linux"
	}

	return g.Exec.RunQuiet(ctx, types.StepBootloader, "efibootmgr",
		"--create", "--disk", disk, "--part", partNum,
		"--loader", "\\EFI\\dinst\\grubx64.efi", "--label", label)
}

func findFlagged(disks *model.Disks, flag model.Flag) *model.Partition {
	for _, disk := range disks.List() {
		for _, part := range disk.Partitions {
			if part.HasFlag(flag) {
				return part
			}
		}
	}
	return nil
}

func diskPathFor(part *model.Partition) string {
	disk, _, err := parsePartitionDevice(part.DevicePath())
	if err != nil {
		return part.DevicePath()
	}
	return disk
}

// parsePartitionDevice splits a partition device path into its disk
// and partition number, handling both plain (/dev/sda1) and
// "p"-suffixed (/dev/nvme0n1p1, /dev/mmcblk0p1) naming.
func parsePartitionDevice(partition string) (disk string, partNum string, err error) {
	if strings.Contains(partition, "nvme") || strings.Contains(partition, "mmcblk") {
		idx := strings.LastIndexByte(partition, 'p')
		if idx < 0 || idx == len(partition)-1 {
			return "", "", fmt.Errorf("cannot parse nvme/mmc partition: %s", partition)
		}
		suffix := partition[idx+1:]
		for _, c := range suffix {
			if c < '0' || c > '9' {
				return "", "", fmt.Errorf("cannot parse nvme/mmc partition: %s", partition)
			}
		}
		return partition[:idx], suffix, nil
	}

	i := len(partition)
	for i > 0 && partition[i-1] >= '0' && partition[i-1] <= '9' {
		i--
	}
	if i == len(partition) {
		return "", "", fmt.Errorf("no partition number found: %s", partition)
	}
	return partition[:i], partition[i:], nil
}
