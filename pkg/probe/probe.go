// Package probe produces a fresh model.Disks reflecting the current
// state of the machine's block devices: partition tables (read via
// go-diskfs), filesystem/label/mount state (blkid, /proc/mounts), and
// LVM volume groups (vgs, pvs). Logical volumes inside a volume group
// are not read.
package probe

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/frostyard/dinst/pkg/errs"
	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/toolexec"
	"github.com/frostyard/dinst/pkg/types"
)

var deviceNamePattern = regexp.MustCompile(`^(sd[a-z]+|nvme\d+n\d+|vd[a-z]+|mmcblk\d+)$`)

// Prober reads /dev and /sys/block state into a model.Disks graph.
type Prober struct {
	Exec *toolexec.Runner
}

func New(exec *toolexec.Runner) *Prober {
	if exec == nil {
		exec = toolexec.NewRunner()
	}
	return &Prober{Exec: exec}
}

// Probe enumerates every non-loop, non-ram block device (except when
// includeLoop is set, used by the loopback-image test path) and builds
// a Disks graph: partition table, per-partition filesystem/label/mount
// state, and LVM volume groups layered on top.
func (p *Prober) Probe(ctx context.Context, includeLoop bool) (*model.Disks, error) {
	names, err := p.listBlockDeviceNames(includeLoop)
	if err != nil {
		return nil, err
	}

	disks := model.New()
	var failures []string
	for _, name := range names {
		disk, err := p.probeDisk(ctx, name)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		disks.Push(disk)
	}
	if len(failures) > 0 && len(disks.Disks) == 0 {
		return nil, errs.Wrap(types.StepInit, errs.KindIO, "", fmt.Errorf("no devices could be read: %s", strings.Join(failures, "; ")))
	}

	if err := p.probeLVM(ctx, disks); err != nil {
		return nil, err
	}

	return disks, nil
}

func (p *Prober) listBlockDeviceNames(includeLoop bool) ([]string, error) {
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return nil, errs.Wrap(types.StepInit, errs.KindIO, "/sys/block", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "ram") {
			continue
		}
		if strings.HasPrefix(name, "loop") {
			if includeLoop {
				names = append(names, name)
			}
			continue
		}
		if deviceNamePattern.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *Prober) probeDisk(ctx context.Context, name string) (*model.Disk, error) {
	devPath := "/dev/" + name
	disk := model.NewDisk(devPath)

	sizeBlocks, err := readSysfsUint(filepath.Join("/sys/block", name, "size"))
	if err != nil {
		return nil, err
	}
	disk.TotalSectors = sizeBlocks
	disk.SectorSize = 512
	if ssz, err := readSysfsUint(filepath.Join("/sys/block", name, "queue", "logical_block_size")); err == nil && ssz > 0 {
		disk.SectorSize = ssz
	}

	if removable, err := readSysfsUint(filepath.Join("/sys/block", name, "removable")); err == nil {
		disk.Removable = removable == 1
	}
	if rotational, err := readSysfsUint(filepath.Join("/sys/block", name, "queue", "rotational")); err == nil {
		disk.Rotational = rotational == 1
	}
	if modelBytes, err := os.ReadFile(filepath.Join("/sys/block", name, "device", "model")); err == nil {
		disk.Model = strings.TrimSpace(string(modelBytes))
	}
	if serial, err := p.Exec.Run(ctx, types.StepInit, "udevadm", "info", "--query=property", "--name="+devPath); err == nil {
		disk.Serial = extractUdevProperty(serial, "ID_SERIAL_SHORT")
	}

	p.readPartitionTable(devPath, disk)

	mounts, _ := readProcMounts()
	for _, part := range disk.Partitions {
		devicePath := part.DevicePath()
		if fs, label, uuid, err := p.blkidProbe(ctx, devicePath); err == nil {
			if part.Filesystem == model.FsNone {
				part.Filesystem = fs
			}
			part.Label = label
			part.UUID = uuid
		}
		if mp, ok := mounts[devicePath]; ok {
			part.MountPoint = mp
			part.Active = true
		}
		part.IsSource = true
	}

	return disk, nil
}

// efiSystemPartitionGUID is the well-known GPT partition-type GUID for
// an EFI System Partition, compared as an uppercase string against
// gpt.Partition.Type (itself a GUID-string-backed type) since the
// corpus doesn't confirm a named constant for it.
const efiSystemPartitionGUID = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"

// MBR partition-type byte values historically used for extended
// partitions (CHS, LBA, and the Linux variant respectively).
const (
	mbrTypeExtended      = 0x05
	mbrTypeExtendedLBA   = 0x0f
	mbrTypeLinuxExtended = 0x85
)

func (p *Prober) readPartitionTable(devPath string, disk *model.Disk) {
	f, err := diskfs.Open(devPath)
	if err != nil {
		disk.Table = model.TableNone
		return
	}
	defer f.Close()

	table, err := f.GetPartitionTable()
	if err != nil {
		disk.Table = model.TableNone
		return
	}

	switch t := table.(type) {
	case *gpt.Table:
		disk.Table = model.TableGPT
		for i, part := range t.Partitions {
			if part.Size == 0 {
				continue
			}
			startSector := part.Start
			endSector := part.End
			p := &model.Partition{
				Number: i + 1,
				Start:  startSector,
				End:    endSector,
				Type:   model.TypePrimary,
				Label:  part.Name,
			}
			if strings.EqualFold(string(part.Type), efiSystemPartitionGUID) {
				p.Flags = append(p.Flags, model.FlagESP, model.FlagBoot)
			}
			disk.AddProbedPartition(p)
		}
	case *mbr.Table:
		disk.Table = model.TableMSDOS
		for i, part := range t.Partitions {
			if part.Size == 0 {
				continue
			}
			ptype := model.TypePrimary
			switch uint8(part.Type) {
			case mbrTypeExtended, mbrTypeExtendedLBA, mbrTypeLinuxExtended:
				ptype = model.TypeExtended
			}
			p := &model.Partition{
				Number: i + 1,
				Start:  uint64(part.Start),
				End:    uint64(part.Start) + uint64(part.Size) - 1,
				Type:   ptype,
			}
			disk.AddProbedPartition(p)
		}
	default:
		disk.Table = model.TableNone
	}
}

// PartitionUUID returns the filesystem UUID of a device node, as
// reported by blkid. Used once a partition is formatted and mounted,
// to populate /etc/fstab and the configure collaborator's environment.
func (p *Prober) PartitionUUID(ctx context.Context, devicePath string) (string, error) {
	out, err := p.Exec.Run(ctx, types.StepPartition, "blkid", "-s", "UUID", "-o", "value", devicePath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// blkidProbe shells out to blkid to read a partition's filesystem type
// and label, mapping the string type onto a model.Filesystem.
func (p *Prober) blkidProbe(ctx context.Context, devicePath string) (model.Filesystem, string, string, error) {
	out, err := p.Exec.Run(ctx, types.StepInit, "blkid", "-o", "export", devicePath)
	if err != nil {
		return model.FsNone, "", "", err
	}
	var fsType, label, uuid string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "TYPE="):
			fsType = strings.TrimPrefix(line, "TYPE=")
		case strings.HasPrefix(line, "LABEL="):
			label = strings.TrimPrefix(line, "LABEL=")
		case strings.HasPrefix(line, "UUID="):
			uuid = strings.TrimPrefix(line, "UUID=")
		}
	}
	return mapBlkidType(fsType), label, uuid, nil
}

func mapBlkidType(t string) model.Filesystem {
	switch t {
	case "vfat":
		return model.FsFAT32
	case "ext2":
		return model.FsEXT2
	case "ext3":
		return model.FsEXT3
	case "ext4":
		return model.FsEXT4
	case "btrfs":
		return model.FsBTRFS
	case "xfs":
		return model.FsXFS
	case "f2fs":
		return model.FsF2FS
	case "ntfs":
		return model.FsNTFS
	case "exfat":
		return model.FsExFAT
	case "swap":
		return model.FsSwap
	case "crypto_LUKS":
		return model.FsLUKS
	case "LVM2_member":
		return model.FsLVM
	default:
		return model.FsNone
	}
}

func extractUdevProperty(out, key string) string {
	prefix := key + "="
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix)
		}
	}
	return ""
}

func readSysfsUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errs.Wrap(types.StepInit, errs.KindIO, path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, errs.Wrap(types.StepInit, errs.KindIO, path, err)
	}
	return v, nil
}

func readProcMounts() (map[string]string, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return nil, errs.Wrap(types.StepInit, errs.KindIO, "/proc/mounts", err)
	}
	out := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 {
			out[fields[0]] = fields[1]
		}
	}
	return out, nil
}

// DeviceLayoutHash hashes the set of /dev/ block-device and partition
// names, used by the executor to detect structural changes to /dev/
// between planning and apply (spec §4.1, §5).
func DeviceLayoutHash() (uint64, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return 0, errs.Wrap(types.StepInit, errs.KindIO, "/dev", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, n := range names {
		_, _ = h.Write([]byte(n))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64(), nil
}

// DeactivateLogicalDevices closes every active LUKS mapping and
// deactivates every active volume group so the disks they sit on can be
// safely re-probed and repartitioned.
func (p *Prober) DeactivateLogicalDevices(ctx context.Context) error {
	if out, err := p.Exec.Run(ctx, types.StepInit, "vgs", "--noheadings", "-o", "vg_name"); err == nil {
		sc := bufio.NewScanner(strings.NewReader(out))
		for sc.Scan() {
			vg := strings.TrimSpace(sc.Text())
			if vg == "" {
				continue
			}
			_, _ = p.Exec.Run(ctx, types.StepInit, "vgchange", "-an", vg)
		}
	}

	entries, err := os.ReadDir("/dev/mapper")
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.Name() == "control" {
			continue
		}
		_, _ = p.Exec.Run(ctx, types.StepInit, "cryptsetup", "close", e.Name())
	}
	return nil
}

// DeviceMapExists reports whether /dev/mapper/<name> exists.
func DeviceMapExists(name string) bool {
	_, err := os.Stat("/dev/mapper/" + name)
	return err == nil
}

func (p *Prober) probeLVM(ctx context.Context, disks *model.Disks) error {
	out, err := p.Exec.Run(ctx, types.StepInit, "vgs", "--noheadings", "--separator", "|", "-o", "vg_name,vg_extent_size,vg_extent_count")
	if err != nil {
		// No LVM tooling or no VGs present; this is not an error for probe.
		return nil
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(strings.TrimSpace(sc.Text()), "|")
		if len(fields) < 3 {
			continue
		}
		vg := model.NewLvmDevice(fields[0])
		vg.IsSource = true
		extentSize, _ := strconv.ParseUint(fields[1], 10, 64)
		extentCount, _ := strconv.ParseUint(fields[2], 10, 64)
		vg.SectorSize = 512
		vg.Sectors = (extentSize * extentCount) / vg.SectorSize
		if pvOut, err := p.Exec.Run(ctx, types.StepInit, "pvs", "--noheadings", "-o", "pv_name", "--select", "vg_name="+fields[0]); err == nil {
			pvSc := bufio.NewScanner(strings.NewReader(pvOut))
			for pvSc.Scan() {
				pv := strings.TrimSpace(pvSc.Text())
				if pv != "" {
					vg.PVPaths = append(vg.PVPaths, pv)
				}
			}
		}
		disks.LvmDevices = append(disks.LvmDevices, vg)
	}
	return nil
}
