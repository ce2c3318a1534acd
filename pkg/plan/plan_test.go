package plan

import (
	"encoding/json"
	"testing"

	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/sector"
	"github.com/frostyard/dinst/pkg/testutil"
)

func probedDisk() *model.Disk {
	d := model.NewDisk("/dev/sda")
	d.Table = model.TableGPT
	d.SectorSize = 512
	d.TotalSectors = 64 * 1024 * 1024
	d.AddProbedPartition(&model.Partition{Number: 1, Start: 2048, End: 1050623, Type: model.TypePrimary, Filesystem: model.FsFAT32, IsSource: true})
	d.AddProbedPartition(&model.Partition{Number: 2, Start: 1050624, End: 41050623, Type: model.TypePrimary, Filesystem: model.FsNTFS, SectorsUsed: 1000, IsSource: true})
	return d
}

func TestBuildEraseReformatsEverything(t *testing.T) {
	baseline := model.New()
	baseline.Push(probedDisk())

	intended := model.New()
	disk := probedDisk()
	intended.Push(disk)

	if err := disk.Mklabel(model.TableGPT); err != nil {
		t.Fatalf("Mklabel: %v", err)
	}
	if _, err := disk.AddPartition(model.NewPartitionBuilder(sector.Start(), sector.Megabyte(512), model.FsFAT32).
		WithMount("/boot/efi").WithFlags(model.FlagESP, model.FlagBoot)); err != nil {
		t.Fatalf("AddPartition esp: %v", err)
	}
	if _, err := disk.AddPartition(model.NewPartitionBuilder(sector.Megabyte(512), sector.End(), model.FsEXT4).
		WithMount("/").WithFlags(model.FlagRoot)); err != nil {
		t.Fatalf("AddPartition root: %v", err)
	}

	p, err := Build(baseline, intended)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var sawRemove, sawCreate, sawFormat, sawWriteTable bool
	for _, op := range p.Operations {
		switch op.Kind {
		case OpRemove:
			sawRemove = true
		case OpCreate:
			sawCreate = true
		case OpFormat:
			sawFormat = true
		case OpWriteTable:
			sawWriteTable = true
		}
	}
	if !sawRemove || !sawCreate || !sawFormat || !sawWriteTable {
		t.Errorf("expected remove+create+format+write_table, got %+v", p.Operations)
	}
}

func TestBuildShrinkFSBeforeWriteTable(t *testing.T) {
	baseline := model.New()
	baseline.Push(probedDisk())

	intended := model.New()
	disk := probedDisk()
	intended.Push(disk)

	p2, err := disk.GetPartition(2)
	if err != nil {
		t.Fatalf("GetPartition: %v", err)
	}
	p2.MountPoint = "/"
	if err := disk.ResizePartition(2, sector.Unit(p2.Start+40000)); err != nil {
		t.Fatalf("ResizePartition (shrink): %v", err)
	}

	plan, err := Build(baseline, intended)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	shrinkIdx, writeIdx := -1, -1
	for i, op := range plan.Operations {
		if op.Kind == OpShrinkFS && shrinkIdx == -1 {
			shrinkIdx = i
		}
		if op.Kind == OpWriteTable && writeIdx == -1 {
			writeIdx = i
		}
	}
	if shrinkIdx == -1 || writeIdx == -1 || shrinkIdx > writeIdx {
		t.Errorf("expected shrink_fs before write_table, got shrinkIdx=%d writeIdx=%d", shrinkIdx, writeIdx)
	}
}

func TestBuildRejectsMissingRootMount(t *testing.T) {
	baseline := model.New()
	baseline.Push(probedDisk())
	intended := model.New()
	intended.Push(probedDisk())

	if _, err := Build(baseline, intended); err == nil {
		t.Fatal("expected error: no partition mounted at /")
	}
}

func TestBuildIsIdempotentOverIdenticalInput(t *testing.T) {
	baseline := model.New()
	baseline.Push(probedDisk())

	newIntended := func() *model.Disks {
		intended := model.New()
		disk := probedDisk()
		intended.Push(disk)
		if err := disk.FormatPartition(2, model.FsEXT4); err != nil {
			t.Fatalf("FormatPartition: %v", err)
		}
		disk.Partitions[1].MountPoint = "/"
		return intended
	}

	p1, err := Build(baseline, newIntended())
	if err != nil {
		t.Fatalf("Build 1: %v", err)
	}
	p2, err := Build(baseline, newIntended())
	if err != nil {
		t.Fatalf("Build 2: %v", err)
	}

	j1, _ := json.Marshal(p1.Output())
	j2, _ := json.Marshal(p2.Output())
	if string(j1) != string(j2) {
		t.Errorf("plan not idempotent:\n%s\nvs\n%s", j1, j2)
	}
}

// TestBuildGoldenNoOpPlan pins the exact plan shape for a disk whose
// intended state exactly matches the baseline: reuse-unchanged
// partitions produce zero operations. A plan that drifts from this
// (emitting a spurious format or table write for an untouched disk)
// fails the comparison, catching regressions that would otherwise only
// show up as unnecessary destructive work against real hardware.
func TestBuildGoldenNoOpPlan(t *testing.T) {
	baseline := model.New()
	base := probedDisk()
	base.Partitions[1].MountPoint = "/"
	baseline.Push(base)

	intended := model.New()
	same := probedDisk()
	same.Partitions[1].MountPoint = "/"
	intended.Push(same)

	p, err := Build(baseline, intended)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	out, err := json.MarshalIndent(p.Output(), "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	testutil.AssertGolden(t, "no-op-plan", out)
}
