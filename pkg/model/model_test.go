package model

import (
	"testing"

	"github.com/frostyard/dinst/pkg/errs"
	"github.com/frostyard/dinst/pkg/sector"
)

func gptDisk(totalSectors uint64) *Disk {
	d := NewDisk("/dev/loop0")
	d.Table = TableGPT
	d.SectorSize = 512
	d.TotalSectors = totalSectors
	return d
}

func TestAddPartitionBasic(t *testing.T) {
	d := gptDisk(32 * 1024 * 1024) // 16GiB in 512B sectors

	p, err := d.AddPartition(NewPartitionBuilder(sector.Start(), sector.Megabyte(512), FsFAT32).
		WithMount("/boot/efi").WithFlags(FlagESP))
	if err != nil {
		t.Fatalf("AddPartition: %v", err)
	}
	if p.Number != 1 {
		t.Errorf("Number = %d, want 1", p.Number)
	}
	if p.Start != 0 {
		t.Errorf("Start = %d, want 0", p.Start)
	}
	if !p.HasFlag(FlagESP) {
		t.Error("expected ESP flag")
	}
	if p.DevicePath() != "/dev/loop0p1" {
		t.Errorf("DevicePath = %q, want /dev/loop0p1", p.DevicePath())
	}
}

func TestAddPartitionOverlapRejected(t *testing.T) {
	d := gptDisk(32 * 1024 * 1024)

	if _, err := d.AddPartition(NewPartitionBuilder(sector.Start(), sector.Megabyte(512), FsFAT32)); err != nil {
		t.Fatalf("first AddPartition: %v", err)
	}

	_, err := d.AddPartition(NewPartitionBuilder(sector.Unit(0), sector.Unit(2047), FsEXT4))
	if err == nil {
		t.Fatal("expected overlap error, got nil")
	}
	kind, ok := errs.KindOf(err)
	if !ok || kind != errs.KindOverlappingPartition {
		t.Errorf("kind = %v, ok=%v, want OverlappingPartition", kind, ok)
	}
}

func TestAddPartitionTooSmall(t *testing.T) {
	d := gptDisk(32 * 1024 * 1024)
	_, err := d.AddPartition(NewPartitionBuilder(sector.Start(), sector.Unit(10), FsBTRFS))
	if err == nil {
		t.Fatal("expected TooSmall error")
	}
	if kind, _ := errs.KindOf(err); kind != errs.KindTooSmall {
		t.Errorf("kind = %v, want TooSmall", kind)
	}
}

func TestRemovePartitionThenReuseSpace(t *testing.T) {
	d := gptDisk(32 * 1024 * 1024)
	p, err := d.AddPartition(NewPartitionBuilder(sector.Start(), sector.Megabyte(512), FsFAT32))
	if err != nil {
		t.Fatalf("AddPartition: %v", err)
	}
	if err := d.RemovePartition(p.Number); err != nil {
		t.Fatalf("RemovePartition: %v", err)
	}
	if _, err := d.AddPartition(NewPartitionBuilder(sector.Start(), sector.Megabyte(512), FsEXT4)); err != nil {
		t.Fatalf("AddPartition after removal: %v", err)
	}
}

func TestMklabelMarksAllForRemoval(t *testing.T) {
	d := gptDisk(32 * 1024 * 1024)
	if _, err := d.AddPartition(NewPartitionBuilder(sector.Start(), sector.Megabyte(512), FsFAT32)); err != nil {
		t.Fatalf("AddPartition: %v", err)
	}
	if err := d.Mklabel(TableGPT); err != nil {
		t.Fatalf("Mklabel: %v", err)
	}
	if len(d.ListPartitions()) != 0 {
		t.Errorf("expected 0 live partitions after Mklabel, got %d", len(d.ListPartitions()))
	}
}

func TestMoveAndResizePartition(t *testing.T) {
	d := gptDisk(32 * 1024 * 1024)
	const size = 40000 // sectors, comfortably above ext4's minimum
	p, err := d.AddPartition(NewPartitionBuilder(sector.Unit(100000), sector.Unit(100000+size-1), FsEXT4))
	if err != nil {
		t.Fatalf("AddPartition: %v", err)
	}

	if err := d.MovePartition(p.Number, sector.Unit(50000)); err != nil {
		t.Fatalf("MovePartition: %v", err)
	}
	if p.Start != 50000 || p.End != 50000+size-1 {
		t.Errorf("after move: start=%d end=%d", p.Start, p.End)
	}

	if err := d.ResizePartition(p.Number, sector.Unit(p.Start+size+999)); err != nil {
		t.Fatalf("ResizePartition: %v", err)
	}
}

func TestMsdosPrimaryLimit(t *testing.T) {
	d := NewDisk("/dev/loop0")
	d.Table = TableMSDOS
	d.SectorSize = 512
	d.TotalSectors = 64 * 1024 * 1024

	for i := 0; i < 4; i++ {
		start := sector.Unit(uint64(i) * 1024 * 1024)
		end := sector.Unit(uint64(i)*1024*1024 + 1024*1023)
		if _, err := d.AddPartition(NewPartitionBuilder(start, end, FsEXT4)); err != nil {
			t.Fatalf("AddPartition %d: %v", i, err)
		}
	}

	_, err := d.AddPartition(NewPartitionBuilder(sector.Unit(5*1024*1024), sector.Unit(5*1024*1024+1024*1023), FsEXT4))
	if err == nil {
		t.Fatal("expected TableMismatch for 5th primary partition")
	}
	if kind, _ := errs.KindOf(err); kind != errs.KindTableMismatch {
		t.Errorf("kind = %v, want TableMismatch", kind)
	}
}

func TestLvmDevicePacksLeftToRight(t *testing.T) {
	vg := NewLvmDevice("data")
	vg.Sectors = 1_000_000

	lv1, err := vg.AddPartition(100_000, FsEXT4, "root", "/")
	if err != nil {
		t.Fatalf("AddPartition lv1: %v", err)
	}
	if lv1.Start != 0 {
		t.Errorf("lv1.Start = %d, want 0", lv1.Start)
	}

	lv2, err := vg.AddPartition(50_000, FsSwap, "swap", "")
	if err != nil {
		t.Fatalf("AddPartition lv2: %v", err)
	}
	if lv2.Start != lv1.End+1 {
		t.Errorf("lv2.Start = %d, want %d", lv2.Start, lv1.End+1)
	}
}

func TestInitializeVolumeGroupsFromLuksPartition(t *testing.T) {
	d := gptDisk(32 * 1024 * 1024)
	pass := "password"
	enc := &LuksEncryption{PVName: "cryptdata", Password: &pass}

	if _, err := d.AddPartition(NewPartitionBuilder(sector.Start(), sector.Megabyte(512), FsFAT32)); err != nil {
		t.Fatalf("AddPartition esp: %v", err)
	}
	if _, err := d.AddPartition(NewPartitionBuilder(sector.Megabyte(512), sector.End(), FsNone).
		LogicalVolume("data", enc)); err != nil {
		t.Fatalf("AddPartition luks: %v", err)
	}

	disks := New()
	disks.Push(d)
	if err := disks.InitializeVolumeGroups(); err != nil {
		t.Fatalf("InitializeVolumeGroups: %v", err)
	}

	vg, err := disks.GetLogicalDevice("data")
	if err != nil {
		t.Fatalf("GetLogicalDevice: %v", err)
	}
	if len(vg.PVPaths) != 1 || vg.PVPaths[0] != "/dev/mapper/cryptdata" {
		t.Errorf("PVPaths = %v, want [/dev/mapper/cryptdata]", vg.PVPaths)
	}
}

func TestValidateKeyfileReferencesMissing(t *testing.T) {
	d := gptDisk(32 * 1024 * 1024)
	kfID := "K"
	enc := &LuksEncryption{PVName: "cryptdata", KeyfileID: &kfID}
	if _, err := d.AddPartition(NewPartitionBuilder(sector.Start(), sector.End(), FsNone).
		LogicalVolume("data", enc)); err != nil {
		t.Fatalf("AddPartition: %v", err)
	}

	disks := New()
	disks.Push(d)

	err := disks.ValidateKeyfileReferences()
	if err == nil {
		t.Fatal("expected KeyfileTargetMissing error")
	}
	if kind, _ := errs.KindOf(err); kind != errs.KindKeyfileTargetMissing {
		t.Errorf("kind = %v, want KeyfileTargetMissing", kind)
	}
}

func TestValidateKeyfileReferencesSatisfied(t *testing.T) {
	diskA := gptDisk(32 * 1024 * 1024)
	diskA.DevicePath = "/dev/sda"
	kfID := "K"
	enc := &LuksEncryption{PVName: "cryptdata", KeyfileID: &kfID}
	if _, err := diskA.AddPartition(NewPartitionBuilder(sector.Start(), sector.End(), FsNone).
		LogicalVolume("data", enc)); err != nil {
		t.Fatalf("AddPartition: %v", err)
	}

	diskB := gptDisk(4 * 1024 * 1024)
	diskB.DevicePath = "/dev/sdb"
	if _, err := diskB.AddPartition(NewPartitionBuilder(sector.Start(), sector.Megabyte(256), FsEXT4).
		WithMount("/etc/cryptkeys").AssociateKeyfile("K")); err != nil {
		t.Fatalf("AddPartition: %v", err)
	}

	disks := New()
	disks.Push(diskA)
	disks.Push(diskB)

	if err := disks.ValidateKeyfileReferences(); err != nil {
		t.Fatalf("ValidateKeyfileReferences: %v", err)
	}
}
