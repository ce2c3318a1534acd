// Package executor runs a validated plan end to end: deactivate stale
// device-mapper state, apply the physical and LVM operations, format,
// mount, extract a squashfs root, run first-boot configuration inside
// a chroot, and install a bootloader. It is the single place that
// sequences external collaborators (Extractor, ConfigureDriver,
// BootloaderInstaller, SuspendInhibitor) around the plan produced by
// pkg/plan.
//
// Grounded on the teacher's pkg/workflow.go Workflow/StepFunc step loop
// (the named, reporter-driven sequence of stages) and pkg/lock.go's
// FileLock/flock pattern, generalized into a suspend inhibitor held for
// the whole install instead of a single exclusive system lock file.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/frostyard/dinst/pkg/errs"
	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/plan"
	"github.com/frostyard/dinst/pkg/probe"
	"github.com/frostyard/dinst/pkg/reporter"
	"github.com/frostyard/dinst/pkg/toolexec"
	"github.com/frostyard/dinst/pkg/types"
)

// State is a position in the installer's state machine.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StatePartitioning
	StateExtracting
	StateConfiguring
	StateBootloaderInstall
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePlanning:
		return "Planning"
	case StatePartitioning:
		return "Partitioning"
	case StateExtracting:
		return "Extracting"
	case StateConfiguring:
		return "Configuring"
	case StateBootloaderInstall:
		return "BootloaderInstall"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Flag is the install config flags bitset.
type Flag uint32

const (
	FlagModifyBootOrder Flag = 1 << iota
	FlagInstallHardwareSupport
	FlagKeepOldRoot
	FlagRunUbuntuDrivers
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Config is the record passed to Install.
type Config struct {
	Hostname        string
	KeyboardLayout  string
	KeyboardModel   string
	KeyboardVariant string
	Lang            string
	RemoveManifest  string
	Squashfs        string
	OldRoot         string
	Flags           Flag

	Username    string
	Realname    string
	ProfileIcon string
	Timezone    string
	ForceBIOS   bool

	// TargetRoot is the mount root for the install; a temp dir is used
	// when empty.
	TargetRoot string
}

// BootMode is the bootloader installation target.
type BootMode string

const (
	BootEFI  BootMode = "EFI"
	BootBIOS BootMode = "BIOS"
)

// ConfigureEnv is the environment passed to the configure collaborator.
type ConfigureEnv struct {
	Hostname, Lang                                string
	KeyboardLayout, KeyboardModel, KeyboardVariant string
	RootUUID, EFIUUID, LuksUUID, RecoveryUUID      string
	PackagesRemove                                 []string
	Username, Realname, ProfileIcon, Timezone      string
}

// Extractor streams a squashfs image onto a mounted target root.
type Extractor interface {
	Extract(ctx context.Context, squashfsPath, targetRoot string, progress func(percent int, message string)) error
}

// ConfigureDriver runs first-boot configuration inside the chroot.
type ConfigureDriver interface {
	Configure(ctx context.Context, targetRoot string, env ConfigureEnv) error
}

// BootloaderInstaller installs and registers a bootloader against the
// finished target tree.
type BootloaderInstaller interface {
	InstallBootloader(ctx context.Context, targetRoot string, mode BootMode, disks *model.Disks) error
}

// SuspendInhibitor is a held handle released on Close.
type SuspendInhibitor interface {
	Close() error
}

// StatusCallback reports stage progress.
type StatusCallback func(step types.Step, percent int)

// ErrorCallback reports a terminal failure.
type ErrorCallback func(step types.Step, kind errs.Kind, device string, err error)

// TimezoneCallback resolves the timezone to write into the target, used
// when Config.Timezone is empty.
type TimezoneCallback func() string

// UserCallback resolves the primary user's identity, used when
// Config.Username is empty.
type UserCallback func() (username, realname, profileIcon string)

// Installer runs a single install and owns its collaborators.
type Installer struct {
	Exec       *toolexec.Runner
	Prober     *probe.Prober
	Reporter   reporter.Reporter
	Extractor  Extractor
	Configure  ConfigureDriver
	Bootloader BootloaderInstaller
	Inhibit    func() (SuspendInhibitor, error)

	onStatus   StatusCallback
	onError    ErrorCallback
	onTimezone TimezoneCallback
	onUser     UserCallback

	state State
}

// New builds an Installer around the given tool runner, prober and
// reporter. Collaborators are assigned afterward since they are
// interchangeable per install.
func New(exec *toolexec.Runner, prober *probe.Prober, rep reporter.Reporter) *Installer {
	return &Installer{Exec: exec, Prober: prober, Reporter: rep, state: StateIdle}
}

func (in *Installer) SetStatusCallback(cb StatusCallback)     { in.onStatus = cb }
func (in *Installer) SetErrorCallback(cb ErrorCallback)       { in.onError = cb }
func (in *Installer) SetTimezoneCallback(cb TimezoneCallback) { in.onTimezone = cb }
func (in *Installer) SetUserCallback(cb UserCallback)         { in.onUser = cb }

// State returns the installer's current position in the state machine.
func (in *Installer) State() State { return in.state }

func (in *Installer) status(step types.Step, percent int) {
	if in.onStatus != nil {
		in.onStatus(step, percent)
	}
	if in.Reporter != nil {
		in.Reporter.Progress(step, percent, "")
	}
}

func (in *Installer) fail(step types.Step, kind errs.Kind, device string, cause error) error {
	in.state = StateFailed
	ie := errs.Wrap(step, kind, device, cause)
	if in.onError != nil {
		in.onError(step, kind, device, ie)
	}
	if in.Reporter != nil {
		in.Reporter.Error(step, string(kind), device, ie)
	}
	return ie
}

type mountedFS struct {
	target     string
	devicePath string
}

// install holds per-run state threaded through the stages so Install
// itself stays a short top-level sequence with one cleanup path.
type install struct {
	in         *Installer
	ctx        context.Context
	disks      *model.Disks
	cfg        Config
	plan       *plan.Plan
	target     string
	mounted    []mountedFS
	inhibit    SuspendInhibitor
	layoutHash uint64
}

// Install runs the full state machine: INIT, an optional BACKUP,
// PARTITION, EXTRACT, CONFIGURE, BOOTLOADER. baseline is the probed
// Disks taken at plan time; intended is the caller's mutated copy. On
// any failure the
// executor attempts best-effort cleanup and returns a single
// *errs.InstallError; the in-memory model held by the caller is never
// partially committed by this call.
func (in *Installer) Install(ctx context.Context, baseline, intended *model.Disks, cfg Config) error {
	if in.state != StateIdle {
		return in.fail(types.StepInit, errs.KindInvalidInput, "", fmt.Errorf("installer is not idle (state %s)", in.state))
	}
	in.state = StatePlanning

	r := &install{in: in, ctx: ctx, disks: intended, cfg: cfg}
	defer r.cleanup()

	if err := r.stageInit(baseline); err != nil {
		return err
	}
	if err := r.stageBackup(); err != nil {
		return err
	}
	in.state = StatePartitioning
	if err := r.stagePartition(); err != nil {
		return err
	}
	in.state = StateExtracting
	if err := r.stageExtract(); err != nil {
		return err
	}
	in.state = StateConfiguring
	if err := r.stageConfigure(); err != nil {
		return err
	}
	in.state = StateBootloaderInstall
	if err := r.stageBootloader(); err != nil {
		return err
	}

	in.state = StateDone
	if in.Reporter != nil {
		in.Reporter.Complete("Installation complete", nil)
	}
	return nil
}

func (r *install) stageInit(baseline *model.Disks) error {
	in := r.in
	in.status(types.StepInit, 0)

	if in.Prober != nil {
		if err := in.Prober.DeactivateLogicalDevices(r.ctx); err != nil {
			return in.fail(types.StepInit, errs.KindIO, "", err)
		}
	}

	p, err := plan.Build(baseline, r.disks)
	if err != nil {
		return in.fail(types.StepInit, errs.KindInvalidInput, "", err)
	}
	r.plan = p

	hash, err := probe.DeviceLayoutHash()
	if err != nil {
		return in.fail(types.StepInit, errs.KindIO, "", err)
	}
	r.layoutHash = hash

	if in.Inhibit != nil {
		inhibitor, err := in.Inhibit()
		if err != nil {
			return in.fail(types.StepInit, errs.KindIO, "", fmt.Errorf("acquire suspend inhibitor: %w", err))
		}
		r.inhibit = inhibitor
	}

	r.target = r.cfg.TargetRoot
	if r.target == "" {
		dir, err := os.MkdirTemp("", "dinst-target-*")
		if err != nil {
			return in.fail(types.StepInit, errs.KindIO, "", err)
		}
		r.target = dir
	}

	in.status(types.StepInit, 100)
	return nil
}

// stageBackup copies a refresh install's existing root aside into
// cfg.OldRoot before PARTITION wipes it, grounded on the teacher's
// rsync-based copy idiom (etc_persistence.go's SavePristineEtc/
// PopulateEtcLower). It is a no-op unless FlagKeepOldRoot is set, OldRoot
// is given, and the intended layout actually reformats a pre-existing
// root partition; most installs (erase/alongside/recovery, or a refresh
// without KEEP_OLD_ROOT) have nothing to back up.
func (r *install) stageBackup() error {
	in := r.in
	if !r.cfg.Flags.Has(FlagKeepOldRoot) || r.cfg.OldRoot == "" {
		return nil
	}
	root := r.oldRootToBackUp()
	if root == nil {
		return nil
	}

	in.status(types.StepBackup, 0)

	if err := os.MkdirAll(r.cfg.OldRoot, 0o755); err != nil {
		return in.fail(types.StepBackup, errs.KindIO, root.DevicePath(), err)
	}
	mountPoint, err := os.MkdirTemp("", "dinst-oldroot-*")
	if err != nil {
		return in.fail(types.StepBackup, errs.KindIO, root.DevicePath(), err)
	}
	defer os.RemoveAll(mountPoint)

	if _, err := in.Exec.Run(r.ctx, types.StepBackup, "mount", "-o", "ro", root.DevicePath(), mountPoint); err != nil {
		return in.fail(types.StepBackup, errs.KindMountFailure, root.DevicePath(), err)
	}
	defer func() { _ = in.Exec.RunQuiet(r.ctx, types.StepBackup, "umount", mountPoint) }()

	if _, err := in.Exec.Run(r.ctx, types.StepBackup, "rsync", "-a", "--delete", mountPoint+"/", r.cfg.OldRoot+"/"); err != nil {
		return in.fail(types.StepBackup, errs.KindIO, root.DevicePath(), err)
	}

	in.status(types.StepBackup, 100)
	return nil
}

// oldRootToBackUp returns the pre-existing root partition about to be
// reformatted by this run's plan, or nil if none is (a fresh erase
// install has no "old" root; a refresh without KeepBackup still formats
// root, but FlagKeepOldRoot gates the backup separately from that).
func (r *install) oldRootToBackUp() *model.Partition {
	for _, disk := range r.disks.List() {
		for _, p := range disk.ListPartitions() {
			if p.MountPoint == "/" && p.IsSource && p.FormatWith != model.FsNone {
				return p
			}
		}
	}
	return nil
}

func (r *install) stagePartition() error {
	in := r.in
	in.status(types.StepPartition, 0)

	hash, err := probe.DeviceLayoutHash()
	if err != nil {
		return in.fail(types.StepPartition, errs.KindIO, "", err)
	}
	if hash != r.layoutHash {
		return in.fail(types.StepPartition, errs.KindLayoutChanged, "", fmt.Errorf("device layout changed since planning"))
	}

	total := len(r.plan.Operations)
	for i, op := range r.plan.Operations {
		if err := r.applyOperation(op); err != nil {
			return in.fail(types.StepPartition, kindForOp(op), op.Device, err)
		}
		if total > 0 {
			in.status(types.StepPartition, (i+1)*70/total)
		}
	}

	if err := r.formatAll(); err != nil {
		return err
	}
	if err := r.mountAll(); err != nil {
		return err
	}
	if err := r.writeFstab(); err != nil {
		return in.fail(types.StepPartition, errs.KindIO, "", err)
	}

	in.status(types.StepPartition, 100)
	return nil
}

func kindForOp(op plan.Operation) errs.Kind {
	switch op.Kind {
	case plan.OpLvmRemoveLV, plan.OpLvmCreateVG, plan.OpLvmCreateLV:
		return errs.KindVgNotFound
	default:
		return errs.KindExternalToolFailure
	}
}

// applyOperation dispatches one plan step to sgdisk/partprobe/udevadm/
// resize2fs/LVM tool invocations, mirroring the teacher's CreatePartitions command
// sequence generalized from a fixed 4-partition layout to an arbitrary
// per-operation plan.
func (r *install) applyOperation(op plan.Operation) error {
	ctx, step := r.ctx, types.StepPartition
	switch op.Kind {
	case plan.OpDeactivate:
		return nil // handled up front by DeactivateLogicalDevices
	case plan.OpRemove:
		_, err := r.in.Exec.Run(ctx, step, "sgdisk", fmt.Sprintf("--delete=%d", op.Number), op.Device)
		return err
	case plan.OpShrinkFS:
		return r.resizeFilesystem(op, true)
	case plan.OpMove, plan.OpGrowTable:
		_, err := r.in.Exec.Run(ctx, step, "sgdisk",
			fmt.Sprintf("--delete=%d", op.Number),
			fmt.Sprintf("--new=%d:%d:%d", op.Number, op.NewStart, op.NewEnd),
			op.Device)
		return err
	case plan.OpGrowFS:
		return r.resizeFilesystem(op, false)
	case plan.OpCreate:
		args := []string{fmt.Sprintf("--new=%d:%d:%d", op.Number, op.NewStart, op.NewEnd)}
		if op.Partition != nil && op.Partition.Label != "" {
			args = append(args, fmt.Sprintf("--change-name=%d:%s", op.Number, op.Partition.Label))
		}
		args = append(args, op.Device)
		_, err := r.in.Exec.Run(ctx, step, "sgdisk", args...)
		return err
	case plan.OpFormat:
		return nil // formatting happens in formatAll, after the whole table is final
	case plan.OpWriteTable:
		if _, err := r.in.Exec.Run(ctx, step, "partprobe", op.Device); err != nil {
			return err
		}
		_, err := r.in.Exec.Run(ctx, step, "udevadm", "settle")
		return err
	case plan.OpVerify:
		return nil
	case plan.OpLvmCreateVG:
		args := append([]string{op.VGName}, pvPathsFor(r.disks, op.VGName)...)
		_, err := r.in.Exec.Run(ctx, step, "vgcreate", args...)
		return err
	case plan.OpLvmCreateLV:
		if op.LogicalVolume == nil {
			return fmt.Errorf("lvm_create_lv operation missing logical volume payload")
		}
		sizeArg := fmt.Sprintf("%dS", op.LogicalVolume.Sectors())
		_, err := r.in.Exec.Run(ctx, step, "lvcreate", "-L", sizeArg, "-n", op.LogicalVolume.Label, op.VGName)
		return err
	case plan.OpLvmRemoveLV:
		if op.LogicalVolume == nil {
			return fmt.Errorf("lvm_remove_lv operation missing logical volume payload")
		}
		_, err := r.in.Exec.Run(ctx, step, "lvremove", "-f", fmt.Sprintf("%s/%s", op.VGName, op.LogicalVolume.Label))
		return err
	default:
		return fmt.Errorf("unhandled plan operation %q", op.Kind)
	}
}

func pvPathsFor(disks *model.Disks, vg string) []string {
	lvm, err := disks.GetLogicalDevice(vg)
	if err != nil {
		return nil
	}
	return lvm.PVPaths
}

// bytesPerSector is the sector size assumed for filesystem resize math
// when the operation doesn't carry its owning disk's geometry. Every
// disk this executor targets in practice uses 512-byte logical sectors.
const bytesPerSector = 512

func (r *install) resizeFilesystem(op plan.Operation, shrink bool) error {
	if op.Partition == nil {
		return nil
	}
	ctx, step := r.ctx, types.StepPartition
	devPath := op.Partition.DevicePath()
	switch op.Partition.Filesystem {
	case model.FsEXT4:
		if shrink {
			if _, err := r.in.Exec.Run(ctx, step, "e2fsck", "-f", "-y", devPath); err != nil {
				return err
			}
		}
		sizeK := fmt.Sprintf("%dK", (op.NewEnd-op.NewStart+1)*bytesPerSector/1024)
		_, err := r.in.Exec.Run(ctx, step, "resize2fs", devPath, sizeK)
		return err
	default:
		return errs.New(step, errs.KindUnsupportedFsResize, devPath)
	}
}

// formatAll formats every partition whose format bit is set, in the
// order the plan's create/reuse set them, after the table is final.
func (r *install) formatAll() error {
	ctx, step := r.ctx, types.StepPartition
	for _, disk := range r.disks.List() {
		for _, part := range disk.ListPartitions() {
			if part.FormatWith == model.FsNone {
				continue
			}
			devPath := part.DevicePath()
			if part.Encryption != nil {
				if err := r.setupLuks(part); err != nil {
					return err
				}
				devPath = luksMapperPath(part)
			}
			if err := formatDevice(ctx, r.in.Exec, step, devPath, part.FormatWith, part.Label); err != nil {
				return err
			}
			part.Filesystem = part.FormatWith
		}
	}
	for _, lvm := range r.disks.ListLogical() {
		for _, lv := range lvm.LogicalVolumes {
			if lv.FormatWith == model.FsNone {
				continue
			}
			if err := formatDevice(ctx, r.in.Exec, step, lv.DevicePath(), lv.FormatWith, lv.Label); err != nil {
				return err
			}
			lv.Filesystem = lv.FormatWith
		}
	}
	return nil
}

func formatDevice(ctx context.Context, exec *toolexec.Runner, step types.Step, devPath string, fs model.Filesystem, label string) error {
	switch fs {
	case model.FsFAT32:
		args := []string{"-F", "32"}
		if label != "" {
			args = append(args, "-n", label)
		}
		args = append(args, devPath)
		_, err := exec.Run(ctx, step, "mkfs.vfat", args...)
		return err
	case model.FsEXT4:
		args := []string{"-F"}
		if label != "" {
			args = append(args, "-L", label)
		}
		args = append(args, devPath)
		_, err := exec.Run(ctx, step, "mkfs.ext4", args...)
		return err
	case model.FsSwap:
		args := []string{}
		if label != "" {
			args = append(args, "-L", label)
		}
		args = append(args, devPath)
		_, err := exec.Run(ctx, step, "mkswap", args...)
		return err
	case model.FsNone:
		return nil
	default:
		return fmt.Errorf("unsupported filesystem %q", fs)
	}
}

func (r *install) setupLuks(part *model.Partition) error {
	ctx, step := r.ctx, types.StepPartition
	enc := part.Encryption
	mapperName := luksMapperName(part)
	args := []string{"luksFormat", "--batch-mode", part.DevicePath()}
	if enc.Password != nil {
		if _, err := r.in.Exec.RunStdin(ctx, step, *enc.Password, "cryptsetup", append(args, "--key-file=-")...); err != nil {
			return err
		}
		_, err := r.in.Exec.RunStdin(ctx, step, *enc.Password, "cryptsetup", "open", "--key-file=-", part.DevicePath(), mapperName)
		return err
	}
	if _, err := r.in.Exec.Run(ctx, step, "cryptsetup", args...); err != nil {
		return err
	}
	_, err := r.in.Exec.Run(ctx, step, "cryptsetup", "open", part.DevicePath(), mapperName)
	return err
}

func luksMapperName(part *model.Partition) string {
	if part.Encryption != nil && part.Encryption.PVName != "" {
		return part.Encryption.PVName
	}
	return fmt.Sprintf("dinst-%d", part.Number)
}

func luksMapperPath(part *model.Partition) string {
	return "/dev/mapper/" + luksMapperName(part)
}

// mountAll mounts every partition with a non-empty mount point,
// shallowest path first so parent directories exist before children
// are mounted beneath them.
func (r *install) mountAll() error {
	type mountable struct {
		mount, devPath string
	}
	var all []mountable
	for _, disk := range r.disks.List() {
		for _, part := range disk.ListPartitions() {
			if part.MountPoint == "" || part.Filesystem == model.FsSwap {
				continue
			}
			dev := part.DevicePath()
			if part.Encryption != nil {
				dev = luksMapperPath(part)
			}
			all = append(all, mountable{part.MountPoint, dev})
		}
	}
	for _, lvm := range r.disks.ListLogical() {
		for _, lv := range lvm.LogicalVolumes {
			if lv.MountPoint == "" || lv.Filesystem == model.FsSwap {
				continue
			}
			all = append(all, mountable{lv.MountPoint, lv.DevicePath()})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return strings.Count(all[i].mount, "/") < strings.Count(all[j].mount, "/")
	})

	ctx, step := r.ctx, types.StepPartition
	for _, m := range all {
		targetDir := filepath.Join(r.target, m.mount)
		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			return err
		}
		if _, err := r.in.Exec.Run(ctx, step, "mount", m.devPath, targetDir); err != nil {
			return err
		}
		r.mounted = append(r.mounted, mountedFS{target: targetDir, devicePath: m.devPath})
	}

	for _, swapPart := range r.allSwapDevices() {
		if _, err := r.in.Exec.Run(ctx, step, "swapon", swapPart); err != nil {
			return err
		}
	}
	return nil
}

func (r *install) allSwapDevices() []string {
	var out []string
	for _, disk := range r.disks.List() {
		for _, part := range disk.ListPartitions() {
			if part.Filesystem == model.FsSwap {
				out = append(out, part.DevicePath())
			}
		}
	}
	for _, lvm := range r.disks.ListLogical() {
		for _, lv := range lvm.LogicalVolumes {
			if lv.Filesystem == model.FsSwap {
				out = append(out, lv.DevicePath())
			}
		}
	}
	return out
}

// writeFstab emits /etc/fstab entries derived from blkid UUIDs of every
// mounted partition, adapted from the teacher's CreateFstab (which
// hardcoded a single commented alternate-root line) into a full,
// mount-point-driven table.
func (r *install) writeFstab() error {
	var sb strings.Builder
	sb.WriteString("# /etc/fstab\n# Generated by dinst\n")
	for _, m := range r.mounted {
		uuid, err := r.in.Prober.PartitionUUID(r.ctx, m.devicePath)
		if err != nil {
			return fmt.Errorf("read UUID of %s: %w", m.devicePath, err)
		}
		relMount := strings.TrimPrefix(m.target, r.target)
		if relMount == "" {
			relMount = "/"
		}
		pass := "2"
		if relMount == "/" {
			pass = "1"
		}
		fmt.Fprintf(&sb, "UUID=%s\t%s\tauto\tdefaults\t0\t%s\n", uuid, relMount, pass)
	}
	etcDir := filepath.Join(r.target, "etc")
	if err := os.MkdirAll(etcDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(etcDir, "fstab"), []byte(sb.String()), 0o644)
}

func (r *install) stageExtract() error {
	in := r.in
	in.status(types.StepExtract, 0)
	if in.Extractor == nil {
		return in.fail(types.StepExtract, errs.KindIO, "", fmt.Errorf("no extractor collaborator configured"))
	}
	err := in.Extractor.Extract(r.ctx, r.cfg.Squashfs, r.target, func(percent int, message string) {
		in.status(types.StepExtract, percent)
		if message != "" && in.Reporter != nil {
			in.Reporter.Message("%s", message)
		}
	})
	if err != nil {
		return in.fail(types.StepExtract, errs.KindIO, "", err)
	}
	in.status(types.StepExtract, 100)
	return nil
}

func (r *install) stageConfigure() error {
	in := r.in
	in.status(types.StepConfigure, 0)

	binds := []string{"dev", "proc", "sys", "run"}
	for _, b := range binds {
		src := filepath.Join("/", b)
		dst := filepath.Join(r.target, b)
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return in.fail(types.StepConfigure, errs.KindIO, dst, err)
		}
		if _, err := in.Exec.Run(r.ctx, types.StepConfigure, "mount", "--bind", src, dst); err != nil {
			return in.fail(types.StepConfigure, errs.KindMountFailure, dst, err)
		}
	}
	defer func() {
		for i := len(binds) - 1; i >= 0; i-- {
			_ = in.Exec.RunQuiet(r.ctx, types.StepConfigure, "umount", filepath.Join(r.target, binds[i]))
		}
	}()

	env := r.configureEnv()
	if in.Configure == nil {
		return in.fail(types.StepConfigure, errs.KindIO, "", fmt.Errorf("no configure driver collaborator configured"))
	}
	if err := in.Configure.Configure(r.ctx, r.target, env); err != nil {
		return in.fail(types.StepConfigure, errs.KindIO, "", err)
	}

	in.status(types.StepConfigure, 100)
	return nil
}

func (r *install) configureEnv() ConfigureEnv {
	username, realname, icon := r.cfg.Username, r.cfg.Realname, r.cfg.ProfileIcon
	if username == "" && r.in.onUser != nil {
		username, realname, icon = r.in.onUser()
	}
	tz := r.cfg.Timezone
	if tz == "" && r.in.onTimezone != nil {
		tz = r.in.onTimezone()
	}
	env := ConfigureEnv{
		Hostname:        r.cfg.Hostname,
		Lang:            r.cfg.Lang,
		KeyboardLayout:  r.cfg.KeyboardLayout,
		KeyboardModel:   r.cfg.KeyboardModel,
		KeyboardVariant: r.cfg.KeyboardVariant,
		Username:        username,
		Realname:        realname,
		ProfileIcon:     icon,
		Timezone:        tz,
		PackagesRemove:  readManifestLines(r.cfg.RemoveManifest),
	}
	for _, disk := range r.disks.List() {
		for _, part := range disk.ListPartitions() {
			uuid, _ := r.in.Prober.PartitionUUID(r.ctx, part.DevicePath())
			switch {
			case part.MountPoint == "/":
				env.RootUUID = uuid
			case part.HasFlag(model.FlagESP):
				env.EFIUUID = uuid
			}
			if part.Encryption != nil {
				env.LuksUUID = uuid
			}
		}
	}
	return env
}

// readManifestLines reads a package-remove manifest (one package per
// line, blank lines and "#" comments ignored). A missing or empty path
// yields no packages.
func readManifestLines(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (r *install) stageBootloader() error {
	in := r.in
	in.status(types.StepBootloader, 0)

	mode := BootEFI
	if r.cfg.ForceBIOS {
		mode = BootBIOS
	} else if _, err := os.Stat("/sys/firmware/efi"); err != nil {
		mode = BootBIOS
	}

	if mode == BootEFI && !r.hasFlag(model.FlagESP) {
		return in.fail(types.StepBootloader, errs.KindBootloaderRequirementUnmet, "", fmt.Errorf("no ESP present for EFI install"))
	}
	if mode == BootBIOS && !r.hasFlag(model.FlagBiosGrub) {
		return in.fail(types.StepBootloader, errs.KindBootloaderRequirementUnmet, "", fmt.Errorf("no BIOS_GRUB partition present for BIOS+GPT install"))
	}

	if in.Bootloader == nil {
		return in.fail(types.StepBootloader, errs.KindIO, "", fmt.Errorf("no bootloader installer collaborator configured"))
	}
	if err := in.Bootloader.InstallBootloader(r.ctx, r.target, mode, r.disks); err != nil {
		return in.fail(types.StepBootloader, errs.KindIO, "", err)
	}

	in.status(types.StepBootloader, 100)
	return nil
}

func (r *install) hasFlag(flag model.Flag) bool {
	for _, disk := range r.disks.List() {
		for _, part := range disk.ListPartitions() {
			if part.HasFlag(flag) {
				return true
			}
		}
	}
	return false
}

// cleanup runs on every exit path: unmount deepest-first, close LUKS
// mappers, deactivate VGs, release the suspend inhibitor. Errors are
// logged, never returned, since the primary error (if any) has already
// been reported by the stage that failed.
func (r *install) cleanup() {
	in := r.in
	ctx := r.ctx

	sort.Slice(r.mounted, func(i, j int) bool {
		return strings.Count(r.mounted[i].target, "/") > strings.Count(r.mounted[j].target, "/")
	})
	for _, m := range r.mounted {
		if err := in.Exec.RunQuiet(ctx, types.StepPartition, "umount", m.target); err != nil && in.Reporter != nil {
			in.Reporter.Warning("failed to unmount %s: %v", m.target, err)
		}
	}

	if in.state == StateFailed {
		for _, disk := range r.disks.List() {
			for _, part := range disk.ListPartitions() {
				if part.Encryption == nil {
					continue
				}
				name := luksMapperName(part)
				if probe.DeviceMapExists(name) {
					_ = in.Exec.RunQuiet(ctx, types.StepPartition, "cryptsetup", "close", name)
				}
			}
		}
		for _, lvm := range r.disks.ListLogical() {
			_ = in.Exec.RunQuiet(ctx, types.StepPartition, "vgchange", "-an", lvm.VGName)
		}
	}

	if r.inhibit != nil {
		if err := r.inhibit.Close(); err != nil && in.Reporter != nil {
			in.Reporter.Warning("failed to release suspend inhibitor: %v", err)
		}
	}
}
