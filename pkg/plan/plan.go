// Package plan diffs a probed baseline Disks against an intended (CLI-
// mutated) Disks and produces the ordered, destructive operation
// sequence the executor applies: shrink before move, move before grow,
// removals before creates, physical changes before the LVM pass.
//
// Grounded on the teacher's Workflow/StepFunc pattern (pkg/workflow.go):
// a list of named steps run in a fixed order, except here the step list
// itself is data computed by a diff rather than hand-assembled by the
// caller.
package plan

import (
	"fmt"
	"sort"

	"github.com/frostyard/dinst/pkg/errs"
	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/types"
)

// OpKind enumerates the operations the executor knows how to apply.
type OpKind string

const (
	OpDeactivate OpKind = "deactivate"
	OpRemove     OpKind = "remove"
	OpShrinkFS   OpKind = "shrink_fs"
	OpMove       OpKind = "move"
	OpGrowTable  OpKind = "grow_table"
	OpGrowFS     OpKind = "grow_fs"
	OpCreate     OpKind = "create"
	OpFormat     OpKind = "format"
	OpWriteTable OpKind = "write_table"
	OpVerify     OpKind = "verify"

	OpLvmRemoveLV OpKind = "lvm_remove_lv"
	OpLvmCreateVG OpKind = "lvm_create_vg"
	OpLvmCreateLV OpKind = "lvm_create_lv"
)

// Operation is one step of the plan. Partition is nil for disk-level
// operations (write_table, verify) and for LVM operations, which carry
// their payload in VGName/LogicalVolume instead.
type Operation struct {
	Kind      OpKind
	Device    string
	Number    int
	Detail    string
	Partition *model.Partition

	NewStart uint64
	NewEnd   uint64

	VGName         string
	LogicalVolume  *model.Partition
}

// Plan is the ordered operation sequence produced by Build, plus the
// intended Disks it was computed against (for the executor to read
// final mount points, UUIDs-to-be, etc. once applied).
type Plan struct {
	Operations []Operation
	Intended   *model.Disks
}

// Output renders the plan as the types.PlanOutput shape that the plan
// command prints as JSON and install --test lists as text.
func (p *Plan) Output() types.PlanOutput {
	out := types.PlanOutput{DryRun: true}
	for _, op := range p.Operations {
		out.Operations = append(out.Operations, types.PlanOperationOutput{
			Kind:   string(op.Kind),
			Device: op.Device,
			Number: op.Number,
			Detail: op.Detail,
		})
	}
	return out
}

type partitionChange int

const (
	changeNone partitionChange = iota
	changeCreate
	changeRemove
	changeMoveOnly
	changeResizeShrink
	changeResizeGrow
	changeMoveAndResize
	changeReuseUnchanged
)

func classifyPartition(intended *model.Partition, baseline *model.Partition) partitionChange {
	if intended.New {
		return changeCreate
	}
	if intended.Remove {
		return changeRemove
	}
	if baseline == nil {
		return changeReuseUnchanged
	}
	startChanged := intended.Start != baseline.Start
	sizeChanged := intended.Sectors() != baseline.Sectors()
	switch {
	case startChanged && sizeChanged:
		return changeMoveAndResize
	case startChanged:
		return changeMoveOnly
	case intended.End > baseline.End:
		return changeResizeGrow
	case intended.End < baseline.End:
		return changeResizeShrink
	default:
		return changeReuseUnchanged
	}
}

func baselineByNumber(baseline *model.Disk) map[int]*model.Partition {
	out := map[int]*model.Partition{}
	if baseline == nil {
		return out
	}
	for _, p := range baseline.Partitions {
		out[p.Number] = p
	}
	return out
}

func findBaselineDisk(baseline *model.Disks, devicePath string) *model.Disk {
	for _, d := range baseline.Disks {
		if d.DevicePath == devicePath {
			return d
		}
	}
	return nil
}

// Build diffs baseline (the probed state, unmutated) against intended
// (the same graph after CLI flags were applied) and returns the ordered
// plan. It also runs the cross-disk validations in spec §4.4 step 4 and
// the LVM pass in step 5.
func Build(baseline, intended *model.Disks) (*Plan, error) {
	p := &Plan{Intended: intended}

	for _, disk := range intended.Disks {
		ops, err := planDisk(disk, findBaselineDisk(baseline, disk.DevicePath))
		if err != nil {
			return nil, err
		}
		p.Operations = append(p.Operations, ops...)
	}

	if err := validateCrossDisk(intended); err != nil {
		return nil, err
	}

	lvmOps, err := planLVM(intended)
	if err != nil {
		return nil, err
	}
	p.Operations = append(p.Operations, lvmOps...)

	return p, nil
}

func planDisk(disk, baselineDisk *model.Disk) ([]Operation, error) {
	baseNums := baselineByNumber(baselineDisk)

	type classified struct {
		partition *model.Partition
		baseline  *model.Partition
		change    partitionChange
	}
	var all []classified
	for _, part := range disk.Partitions {
		bp := baseNums[part.Number]
		all = append(all, classified{partition: part, baseline: bp, change: classifyPartition(part, bp)})
	}

	var ops []Operation

	// (a) deactivate/unmount anything changing or disappearing that is
	// currently active or busy.
	for _, c := range all {
		if c.change == changeReuseUnchanged {
			continue
		}
		if c.partition.Active || c.partition.Busy {
			ops = append(ops, Operation{
				Kind: OpDeactivate, Device: disk.DevicePath, Number: c.partition.Number,
				Partition: c.partition, Detail: fmt.Sprintf("deactivate %s before mutation", c.partition.MountPoint),
			})
		}
	}

	// (b) removals.
	var removes []classified
	for _, c := range all {
		if c.change == changeRemove {
			removes = append(removes, c)
		}
	}
	sort.Slice(removes, func(i, j int) bool { return removes[i].partition.Number < removes[j].partition.Number })
	for _, c := range removes {
		ops = append(ops, Operation{Kind: OpRemove, Device: disk.DevicePath, Number: c.partition.Number, Partition: c.partition})
	}

	// (c) shrinks: fs shrink first, then table update, sorted by
	// ascending new end so the freed space is available to subsequent
	// steps as early as possible.
	var shrinks []classified
	for _, c := range all {
		if c.change == changeResizeShrink || c.change == changeMoveAndResize && c.partition.End < c.baseline.End {
			shrinks = append(shrinks, c)
		}
	}
	sort.Slice(shrinks, func(i, j int) bool { return shrinks[i].partition.End < shrinks[j].partition.End })
	for _, c := range shrinks {
		ops = append(ops, Operation{Kind: OpShrinkFS, Device: disk.DevicePath, Number: c.partition.Number, Partition: c.partition, NewStart: c.partition.Start, NewEnd: c.partition.End})
		ops = append(ops, Operation{Kind: OpMove, Device: disk.DevicePath, Number: c.partition.Number, Partition: c.partition, NewStart: c.partition.Start, NewEnd: c.partition.End, Detail: "apply shrunk table bounds"})
	}

	// (d) moves, inward (toward lower sector) before outward: sort by
	// ascending target start.
	var moves []classified
	for _, c := range all {
		switch c.change {
		case changeMoveOnly:
			moves = append(moves, c)
		case changeMoveAndResize:
			if c.partition.End >= c.baseline.End {
				moves = append(moves, c)
			}
		}
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].partition.Start < moves[j].partition.Start })
	for _, c := range moves {
		ops = append(ops, Operation{Kind: OpMove, Device: disk.DevicePath, Number: c.partition.Number, Partition: c.partition, NewStart: c.partition.Start, NewEnd: c.partition.End})
	}

	// (e) grows: table update then fs grow.
	var grows []classified
	for _, c := range all {
		if c.change == changeResizeGrow {
			grows = append(grows, c)
		}
	}
	sort.Slice(grows, func(i, j int) bool { return grows[i].partition.End < grows[j].partition.End })
	for _, c := range grows {
		ops = append(ops, Operation{Kind: OpGrowTable, Device: disk.DevicePath, Number: c.partition.Number, Partition: c.partition, NewStart: c.partition.Start, NewEnd: c.partition.End})
		ops = append(ops, Operation{Kind: OpGrowFS, Device: disk.DevicePath, Number: c.partition.Number, Partition: c.partition, NewStart: c.partition.Start, NewEnd: c.partition.End})
	}

	// (f) creates, in sector order.
	var creates []classified
	for _, c := range all {
		if c.change == changeCreate {
			creates = append(creates, c)
		}
	}
	sort.Slice(creates, func(i, j int) bool { return creates[i].partition.Start < creates[j].partition.Start })
	for _, c := range creates {
		ops = append(ops, Operation{Kind: OpCreate, Device: disk.DevicePath, Number: c.partition.Number, Partition: c.partition, NewStart: c.partition.Start, NewEnd: c.partition.End})
	}

	// (g) formats, in sector order, for anything (new or reused) with an
	// intended format filesystem set.
	var formats []classified
	for _, c := range all {
		if c.change == changeRemove {
			continue
		}
		if c.partition.FormatWith != model.FsNone {
			formats = append(formats, c)
		}
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i].partition.Start < formats[j].partition.Start })
	for _, c := range formats {
		ops = append(ops, Operation{Kind: OpFormat, Device: disk.DevicePath, Number: c.partition.Number, Partition: c.partition, Detail: string(c.partition.FormatWith)})
	}

	// (h) commit the table, if anything on this disk's table changed.
	tableChanged := len(removes) > 0 || len(shrinks) > 0 || len(moves) > 0 || len(grows) > 0 || len(creates) > 0
	if baselineDisk != nil && baselineDisk.Table != disk.Table {
		tableChanged = true
	}
	if tableChanged {
		ops = append(ops, Operation{Kind: OpWriteTable, Device: disk.DevicePath, Detail: string(disk.Table)})
		ops = append(ops, Operation{Kind: OpVerify, Device: disk.DevicePath})
	}

	return ops, nil
}

// validateCrossDisk enforces spec §4.4 step 4: exactly one root mount,
// ESP/BIOS_GRUB requirements, unique swap UUIDs, and keyfile references
// resolve.
func validateCrossDisk(disks *model.Disks) error {
	var roots, esps, biosGrubs int
	hasGPT := false
	swapUUIDs := map[string]string{} // uuid -> first device path seen
	for _, disk := range disks.Disks {
		if disk.Table == model.TableGPT {
			hasGPT = true
		}
		for _, p := range disk.ListPartitions() {
			if p.MountPoint == "/" {
				roots++
			}
			if p.HasFlag(model.FlagESP) {
				esps++
			}
			if p.HasFlag(model.FlagBiosGrub) {
				biosGrubs++
			}
			if err := checkSwapUUID(p, swapUUIDs); err != nil {
				return err
			}
		}
	}
	for _, vg := range disks.ListLogical() {
		for _, lv := range vg.LogicalVolumes {
			if lv.Remove {
				continue
			}
			if lv.MountPoint == "/" {
				roots++
			}
			if err := checkSwapUUID(lv, swapUUIDs); err != nil {
				return err
			}
		}
	}

	if roots != 1 {
		return errs.Wrap(types.StepInit, errs.KindInvalidInput, "", fmt.Errorf("expected exactly one partition mounted at /, found %d", roots))
	}
	if esps > 1 {
		return errs.Wrap(types.StepInit, errs.KindInvalidInput, "", fmt.Errorf("expected at most one ESP-flagged partition, found %d", esps))
	}
	if esps == 1 && biosGrubs > 0 {
		return errs.Wrap(types.StepInit, errs.KindBootloaderRequirementUnmet, "", fmt.Errorf("disk has both an ESP and a BIOS_GRUB partition"))
	}
	// Whether an ESP or BIOS_GRUB partition is actually required depends
	// on the boot mode the executor targets (EFI vs BIOS), which isn't
	// known at plan time; that check is enforced in the BOOTLOADER stage.
	_ = hasGPT

	if err := disks.ValidateKeyfileReferences(); err != nil {
		return err
	}

	return validateLuksParents(disks)
}

// checkSwapUUID enforces spec §4.4's "swap file systems must be unique
// by UUID" invariant against one partition/LV, recording it in seen. A
// swap partition being (re)formatted gets a fresh UUID from mkswap at
// PARTITION time and isn't checked here; only a kept, pre-existing swap
// filesystem's probed UUID is known at plan time and worth comparing.
func checkSwapUUID(p *model.Partition, seen map[string]string) error {
	if p.Remove || p.FormatWith != model.FsNone || p.Filesystem != model.FsSwap || p.UUID == "" {
		return nil
	}
	if other, ok := seen[p.UUID]; ok {
		return errs.Wrap(types.StepInit, errs.KindInvalidInput, p.DevicePath(),
			fmt.Errorf("swap filesystem UUID %s duplicated between %s and %s", p.UUID, other, p.DevicePath()))
	}
	seen[p.UUID] = p.DevicePath()
	return nil
}

// validateLuksParents ensures every LvmDevice's PV set resolves to an
// existing, non-removed partition (physical or a LUKS mapping).
func validateLuksParents(disks *model.Disks) error {
	for _, vg := range disks.ListLogical() {
		for _, pv := range vg.PVPaths {
			if _, err := disks.FindPartition(pv); err != nil {
				// A PV path under /dev/mapper/ refers to an unlocked LUKS
				// mapping, which FindPartition (by design) only resolves
				// against device paths of physical/logical partitions, not
				// mapper names derived from Encryption.PVName. Treat a miss
				// here as fatal only when the PV isn't backed by any LUKS
				// encryption descriptor in the graph.
				if !backedByLuks(disks, pv) {
					return errs.Wrap(types.StepInit, errs.KindVgNotFound, pv, fmt.Errorf("volume group %s references missing PV %s", vg.VGName, pv))
				}
			}
		}
	}
	return nil
}

func backedByLuks(disks *model.Disks, mapperPath string) bool {
	for _, disk := range disks.Disks {
		for _, p := range disk.Partitions {
			if p.Remove || p.Encryption == nil {
				continue
			}
			if "/dev/mapper/"+p.Encryption.PVName == mapperPath {
				return true
			}
		}
	}
	return false
}

// planLVM runs after the physical plan: removed LVs first, then newly
// materialized VGs, then new LVs in the order their owning LvmDevice
// packed them (left-to-right from last_used_sector).
func planLVM(disks *model.Disks) ([]Operation, error) {
	var ops []Operation
	for _, vg := range disks.ListLogical() {
		for _, lv := range vg.LogicalVolumes {
			if lv.Remove {
				ops = append(ops, Operation{Kind: OpLvmRemoveLV, VGName: vg.VGName, Number: lv.Number, LogicalVolume: lv})
			}
		}
	}
	for _, vg := range disks.ListLogical() {
		if !vg.IsSource {
			ops = append(ops, Operation{Kind: OpLvmCreateVG, VGName: vg.VGName, Detail: fmt.Sprintf("pvs=%v", vg.PVPaths)})
		}
		for _, lv := range vg.LogicalVolumes {
			if lv.Remove {
				continue
			}
			ops = append(ops, Operation{Kind: OpLvmCreateLV, VGName: vg.VGName, Number: lv.Number, LogicalVolume: lv})
		}
	}
	return ops, nil
}
