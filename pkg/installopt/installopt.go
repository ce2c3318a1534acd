// Package installopt classifies a probed model.Disks against a required
// install size and turns the operator's choice of option (erase an
// entire disk, refresh an existing root, resize in alongside an existing
// OS, reuse a recovery partition) into a valid intended model.Disks the
// planner can diff against the baseline.
//
// Grounded on the teacher's ValidateDisk (pkg/disk.go): the same
// existence/size/mounted-partition checks, generalized from "is this one
// disk installable at all" into "which of several strategies does this
// disk support".
package installopt

import (
	"fmt"

	"github.com/frostyard/dinst/pkg/errs"
	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/sector"
	"github.com/frostyard/dinst/pkg/types"
)

// Option names a strategy for turning a probed disk into an install
// target.
type Option string

const (
	EraseOption     Option = "erase"
	RecoveryOption  Option = "recovery"
	RefreshOption   Option = "refresh"
	AlongsideOption Option = "alongside"
	UpgradeOption   Option = "upgrade"
)

// linuxRootFilesystems are the filesystems RefreshOption will consider a
// reusable root.
var linuxRootFilesystems = map[model.Filesystem]bool{
	model.FsEXT2:  true,
	model.FsEXT3:  true,
	model.FsEXT4:  true,
	model.FsBTRFS: true,
	model.FsXFS:   true,
	model.FsF2FS:  true,
}

// alongsideShrinkFraction is the maximum fraction of an existing
// partition's sectors that may already be in use for it to still be
// considered shrinkable; above this, there isn't enough reclaimable
// space to be worth offering.
const alongsideShrinkFraction = 0.85

// classification holds the options a single disk qualifies for.
type classification struct {
	disk    *model.Disk
	options map[Option]bool
}

// InstallOptions is the classification of every disk in a probed Disks
// against a minimum required install size.
type InstallOptions struct {
	requiredBytes uint64
	classes       []classification
}

// New classifies every disk in disks against requiredBytes.
func New(disks *model.Disks, requiredBytes uint64) *InstallOptions {
	o := &InstallOptions{requiredBytes: requiredBytes}
	for _, d := range disks.List() {
		o.classes = append(o.classes, classification{disk: d, options: classify(d, requiredBytes)})
	}
	return o
}

func classify(d *model.Disk, requiredBytes uint64) map[Option]bool {
	opts := map[Option]bool{}

	totalBytes := d.TotalSectors * d.SectorSize
	if totalBytes >= requiredBytes {
		opts[EraseOption] = true
	}

	for _, p := range d.ListPartitions() {
		if isRecoveryPartition(p) {
			opts[RecoveryOption] = true
		}
		if linuxRootFilesystems[p.Filesystem] && p.DetectedOS != "" {
			opts[RefreshOption] = true
			opts[UpgradeOption] = true
		}
		if isShrinkable(p) {
			freedSectors := p.Sectors() - p.SectorsUsed
			freedBytes := freedSectors * d.SectorSize
			if freedBytes >= requiredBytes {
				opts[AlongsideOption] = true
			}
		}
	}

	return opts
}

func isRecoveryPartition(p *model.Partition) bool {
	label := p.Label
	return label == "casper-rw" || label == "Recovery" || label == "RECOVERY" || containsFold(label, "casper") || containsFold(label, "recovery")
}

func containsFold(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	sl, subl := []rune(s), []rune(substr)
	for i := 0; i+len(subl) <= len(sl); i++ {
		match := true
		for j := range subl {
			a, b := sl[i+j], subl[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func isShrinkable(p *model.Partition) bool {
	if p.SectorsUsed == 0 || p.Sectors() == 0 {
		return false
	}
	if !linuxRootFilesystems[p.Filesystem] && p.Filesystem != model.FsNTFS && p.Filesystem != model.FsFAT32 {
		return false
	}
	return float64(p.SectorsUsed)/float64(p.Sectors()) <= alongsideShrinkFraction
}

func (o *InstallOptions) disksWith(opt Option) []*model.Disk {
	var out []*model.Disk
	for _, c := range o.classes {
		if c.options[opt] {
			out = append(out, c.disk)
		}
	}
	return out
}

func (o *InstallOptions) hasAny(opt Option) bool { return len(o.disksWith(opt)) > 0 }

func (o *InstallOptions) HasEraseOptions() bool     { return o.hasAny(EraseOption) }
func (o *InstallOptions) HasRecoveryOptions() bool  { return o.hasAny(RecoveryOption) }
func (o *InstallOptions) HasRefreshOptions() bool   { return o.hasAny(RefreshOption) }
func (o *InstallOptions) HasAlongsideOptions() bool { return o.hasAny(AlongsideOption) }
func (o *InstallOptions) HasUpgradeOptions() bool   { return o.hasAny(UpgradeOption) }

func (o *InstallOptions) GetEraseOptions() []*model.Disk     { return o.disksWith(EraseOption) }
func (o *InstallOptions) GetRecoveryOptions() []*model.Disk  { return o.disksWith(RecoveryOption) }
func (o *InstallOptions) GetRefreshOptions() []*model.Disk   { return o.disksWith(RefreshOption) }
func (o *InstallOptions) GetAlongsideOptions() []*model.Disk { return o.disksWith(AlongsideOption) }
func (o *InstallOptions) GetUpgradeOptions() []*model.Disk   { return o.disksWith(UpgradeOption) }

// BootMode selects whether Apply targets an EFI System Partition or a
// BIOS boot partition when laying out a fresh table.
type BootMode string

const (
	BootEFI  BootMode = "efi"
	BootBIOS BootMode = "bios"
)

// ApplyParams carries the operator's choices for turning a classified
// disk into a concrete intended layout. Fields not relevant to the
// chosen Option are ignored.
type ApplyParams struct {
	BootMode   BootMode
	RootFS     model.Filesystem
	EFISectors uint64 // size of the ESP/BIOS-grub partition to create, in sectors

	// KeepBackup, when true with RefreshOption, leaves the existing root
	// partition unformatted (FormatWith unset), so its contents stay in
	// place; nothing here copies them elsewhere.
	KeepBackup bool

	// AlongsidePartitionNumber is the existing partition to shrink for
	// AlongsideOption.
	AlongsidePartitionNumber int
}

// Apply mutates disk into a valid intended configuration for the chosen
// option, ready for the planner to diff against the probed baseline.
func (o *InstallOptions) Apply(disk *model.Disk, opt Option, params ApplyParams) error {
	switch opt {
	case EraseOption:
		return applyErase(disk, params)
	case RefreshOption:
		return applyRefresh(disk, params)
	case AlongsideOption:
		return applyAlongside(disk, params)
	case RecoveryOption:
		return applyRecovery(disk, params)
	case UpgradeOption:
		return applyUpgrade(disk, params)
	default:
		return errs.New(types.StepInit, errs.KindInvalidInput, disk.DevicePath)
	}
}

func applyErase(d *model.Disk, params ApplyParams) error {
	table := model.TableGPT
	if err := d.Mklabel(table); err != nil {
		return err
	}

	espSectors := params.EFISectors
	if espSectors == 0 {
		espSectors = sector.DefaultAlignment * 256 // 256MiB at 2048-sector alignment units
	}

	espEnd, err := d.GetSector(sector.Unit(espSectors - 1))
	if err != nil {
		return err
	}

	if params.BootMode == BootBIOS {
		if _, err := d.AddPartition(model.NewPartitionBuilder(sector.Start(), sector.Unit(espEnd), model.FsNone).
			WithFlags(model.FlagBiosGrub)); err != nil {
			return err
		}
	} else {
		if _, err := d.AddPartition(model.NewPartitionBuilder(sector.Start(), sector.Unit(espEnd), model.FsFAT32).
			WithMount("/boot/efi").WithFlags(model.FlagESP, model.FlagBoot)); err != nil {
			return err
		}
	}

	rootFS := params.RootFS
	if rootFS == model.FsNone {
		rootFS = model.FsEXT4
	}
	startAfterESP := sector.Unit(espEnd + 1)
	if _, err := d.AddPartition(model.NewPartitionBuilder(startAfterESP, sector.End(), rootFS).
		WithMount("/").WithFlags(model.FlagRoot)); err != nil {
		return err
	}
	return nil
}

func applyRefresh(d *model.Disk, params ApplyParams) error {
	var root *model.Partition
	for _, p := range d.ListPartitions() {
		if linuxRootFilesystems[p.Filesystem] && p.DetectedOS != "" {
			root = p
			break
		}
	}
	if root == nil {
		return errs.New(types.StepInit, errs.KindPartitionNotFound, d.DevicePath)
	}
	root.MountPoint = "/"
	if !params.KeepBackup {
		root.FormatWith = root.Filesystem
	}
	return nil
}

// applyUpgrade targets the same reusable Linux root RefreshOption finds,
// but never reformats it: FormatWith is left unset so the planner issues
// no mkfs operation and the extractor writes the new image's files
// directly over the existing filesystem. Unlike RefreshOption, an
// upgrade has nothing to back up, so params.KeepBackup is ignored here.
func applyUpgrade(d *model.Disk, params ApplyParams) error {
	var root *model.Partition
	for _, p := range d.ListPartitions() {
		if linuxRootFilesystems[p.Filesystem] && p.DetectedOS != "" {
			root = p
			break
		}
	}
	if root == nil {
		return errs.New(types.StepInit, errs.KindPartitionNotFound, d.DevicePath)
	}
	root.MountPoint = "/"
	return nil
}

func applyAlongside(d *model.Disk, params ApplyParams) error {
	if params.AlongsidePartitionNumber == 0 {
		return errs.Wrap(types.StepInit, errs.KindInvalidInput, d.DevicePath, fmt.Errorf("alongside install requires AlongsidePartitionNumber"))
	}
	existing, err := d.GetPartition(params.AlongsidePartitionNumber)
	if err != nil {
		return err
	}
	neededSectors := existing.SectorsUsed + existing.SectorsUsed/10 + 1 // used + 10% headroom
	newEnd := existing.Start + neededSectors

	if err := d.ResizePartition(existing.Number, sector.Unit(newEnd)); err != nil {
		return err
	}

	rootFS := params.RootFS
	if rootFS == model.FsNone {
		rootFS = model.FsEXT4
	}
	if _, err := d.AddPartition(model.NewPartitionBuilder(sector.Unit(newEnd+1), sector.End(), rootFS).
		WithMount("/").WithFlags(model.FlagRoot)); err != nil {
		return err
	}
	return nil
}

func applyRecovery(d *model.Disk, params ApplyParams) error {
	for _, p := range d.ListPartitions() {
		if isRecoveryPartition(p) {
			p.MountPoint = "/"
			rootFS := params.RootFS
			if rootFS == model.FsNone {
				rootFS = model.FsEXT4
			}
			p.FormatWith = rootFS
			return nil
		}
	}
	return errs.New(types.StepInit, errs.KindPartitionNotFound, d.DevicePath)
}
