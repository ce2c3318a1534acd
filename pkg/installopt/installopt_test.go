package installopt

import (
	"testing"

	"github.com/frostyard/dinst/pkg/model"
)

func diskWithOneBigPartition(totalSectors, usedSectors uint64, fs model.Filesystem, detectedOS, label string) *model.Disk {
	d := model.NewDisk("/dev/sda")
	d.Table = model.TableGPT
	d.SectorSize = 512
	d.TotalSectors = totalSectors
	d.AddProbedPartition(&model.Partition{
		Number:      1,
		Start:       2048,
		End:         totalSectors - 1,
		Type:        model.TypePrimary,
		Filesystem:  fs,
		Label:       label,
		SectorsUsed: usedSectors,
		DetectedOS:  detectedOS,
		IsSource:    true,
	})
	return d
}

func TestClassifyErase(t *testing.T) {
	d := diskWithOneBigPartition(64*1024*1024, 0, model.FsNone, "", "")
	disks := model.New()
	disks.Push(d)

	o := New(disks, 10_000_000_000) // 10GB required, disk is ~32GB at 512B sectors
	if !o.HasEraseOptions() {
		t.Error("expected erase option available")
	}
}

func TestClassifyRefresh(t *testing.T) {
	d := diskWithOneBigPartition(64*1024*1024, 1000, model.FsEXT4, "Ubuntu 24.04", "")
	disks := model.New()
	disks.Push(d)

	o := New(disks, 10_000_000_000)
	if !o.HasRefreshOptions() {
		t.Error("expected refresh option available")
	}
	got := o.GetRefreshOptions()
	if len(got) != 1 || got[0].DevicePath != "/dev/sda" {
		t.Errorf("GetRefreshOptions = %v", got)
	}
}

func TestClassifyRecovery(t *testing.T) {
	d := diskWithOneBigPartition(64*1024*1024, 0, model.FsEXT4, "", "casper-rw")
	disks := model.New()
	disks.Push(d)

	o := New(disks, 10_000_000_000)
	if !o.HasRecoveryOptions() {
		t.Error("expected recovery option available")
	}
}

func TestClassifyAlongside(t *testing.T) {
	// Disk mostly empty: 1000 sectors used out of ~64M, well under 85%
	// threshold and with huge freed space.
	d := diskWithOneBigPartition(64*1024*1024, 1000, model.FsNTFS, "", "")
	disks := model.New()
	disks.Push(d)

	o := New(disks, 1_000_000_000) // 1GB required
	if !o.HasAlongsideOptions() {
		t.Error("expected alongside option available")
	}
}

func TestApplyEraseCreatesESPAndRoot(t *testing.T) {
	d := model.NewDisk("/dev/sda")
	d.Table = model.TableNone
	d.SectorSize = 512
	d.TotalSectors = 64 * 1024 * 1024

	disks := model.New()
	disks.Push(d)
	o := New(disks, 1)

	if err := o.Apply(d, EraseOption, ApplyParams{BootMode: BootEFI}); err != nil {
		t.Fatalf("Apply erase: %v", err)
	}

	live := d.ListPartitions()
	if len(live) != 2 {
		t.Fatalf("expected 2 partitions after erase, got %d", len(live))
	}
	if !live[0].HasFlag(model.FlagESP) {
		t.Error("expected first partition to be ESP")
	}
	if live[1].MountPoint != "/" {
		t.Errorf("expected second partition mounted at /, got %q", live[1].MountPoint)
	}
}

func TestApplyAlongsideShrinksAndAddsRoot(t *testing.T) {
	d := diskWithOneBigPartition(64*1024*1024, 1_000_000, model.FsNTFS, "", "")
	disks := model.New()
	disks.Push(d)
	o := New(disks, 1)

	err := o.Apply(d, AlongsideOption, ApplyParams{AlongsidePartitionNumber: 1, RootFS: model.FsEXT4})
	if err != nil {
		t.Fatalf("Apply alongside: %v", err)
	}

	live := d.ListPartitions()
	if len(live) != 2 {
		t.Fatalf("expected original + new root, got %d partitions", len(live))
	}
	if live[1].MountPoint != "/" {
		t.Errorf("expected new partition mounted at /, got %q", live[1].MountPoint)
	}
	if live[1].Start <= live[0].End {
		t.Errorf("new partition should start after shrunk original: start=%d, original end=%d", live[1].Start, live[0].End)
	}
}
