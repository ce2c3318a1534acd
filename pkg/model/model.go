// Package model implements the mutable in-memory representation of a
// disk layout: physical Disks with ordered Partitions, LvmDevices with
// logical volumes, and the LuksEncryption descriptors that tie the two
// together. It is the layer the planner diffs (baseline vs intended)
// and the layer the CLI mutates directly from flags.
//
// Disks owns every Disk and LvmDevice it contains; a Disk owns its
// Partitions. References from an LvmDevice to its physical-volume
// partitions are by device path, never by pointer — this avoids a
// cyclic ownership graph between Disks, LvmDevices and their backing
// partitions (see DESIGN.md).
package model

import (
	"fmt"

	"github.com/frostyard/dinst/pkg/errs"
	"github.com/frostyard/dinst/pkg/sector"
	"github.com/frostyard/dinst/pkg/types"
)

// Filesystem enumerates the filesystem kinds the model understands.
type Filesystem string

const (
	FsNone  Filesystem = ""
	FsBTRFS Filesystem = "btrfs"
	FsEXT2  Filesystem = "ext2"
	FsEXT3  Filesystem = "ext3"
	FsEXT4  Filesystem = "ext4"
	FsF2FS  Filesystem = "f2fs"
	FsFAT16 Filesystem = "fat16"
	FsFAT32 Filesystem = "fat32"
	FsNTFS  Filesystem = "ntfs"
	FsSwap  Filesystem = "swap"
	FsXFS   Filesystem = "xfs"
	FsExFAT Filesystem = "exfat"
	FsLVM   Filesystem = "lvm"
	FsLUKS  Filesystem = "luks"
)

// MinMegabytes reports the minimum partition size, in megabytes, this
// model is willing to create for a given filesystem. Values are deliberately conservative;
// they exist to reject obviously-too-small requests, not to model exact
// filesystem minimums.
func (f Filesystem) MinMegabytes() uint64 {
	switch f {
	case FsFAT16, FsFAT32, FsExFAT:
		return 32
	case FsSwap:
		return 32
	case FsBTRFS:
		return 256
	case FsXFS:
		return 64
	default:
		return 16
	}
}

// Table enumerates the partition-table kind of a Disk.
type Table string

const (
	TableNone   Table = "none"
	TableGPT    Table = "gpt"
	TableMSDOS  Table = "msdos"
)

// PartType distinguishes MSDOS primary/logical/extended partitions; on
// GPT every partition is Primary.
type PartType string

const (
	TypePrimary  PartType = "primary"
	TypeLogical  PartType = "logical"
	TypeExtended PartType = "extended"
)

// Flag is a partition role flag.
type Flag string

const (
	FlagBoot       Flag = "boot"
	FlagESP        Flag = "esp"
	FlagRoot       Flag = "root"
	FlagSwap       Flag = "swap"
	FlagLVM        Flag = "lvm"
	FlagBiosGrub   Flag = "bios_grub"
	FlagLegacyBoot Flag = "legacy_boot"
	FlagMsftData   Flag = "msftdata"
	FlagIRST       Flag = "irst"
)

func hasFlag(flags []Flag, f Flag) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}

// LuksEncryption defines one LUKS container. Exactly one of Password or
// KeyfileID is set; if KeyfileID is set, a matching keyfile partition
// (one whose KeyfileID equals this id and whose MountPoint is non-empty)
// must exist somewhere in the owning Disks.
type LuksEncryption struct {
	PVName     string // becomes /dev/mapper/<PVName>
	Password   *string
	KeyfileID  *string
}

func (l *LuksEncryption) Validate() error {
	if l == nil {
		return nil
	}
	if l.PVName == "" {
		return errs.Wrap(types.StepInit, errs.KindInvalidInput, "", fmt.Errorf("luks encryption requires a pv name"))
	}
	hasPw := l.Password != nil
	hasKey := l.KeyfileID != nil
	if hasPw == hasKey {
		return errs.Wrap(types.StepInit, errs.KindInvalidInput, l.PVName, fmt.Errorf("luks encryption requires exactly one of password or keydata"))
	}
	return nil
}

// Partition is a region of a Disk, or (when embedded in an LvmDevice) a
// logical volume treated as a Partition per the data model.
type Partition struct {
	Number int
	Start  uint64
	End    uint64 // inclusive

	Type       PartType
	Filesystem Filesystem // currently-probed filesystem
	Label      string
	UUID       string // probed filesystem UUID; empty until formatted or probed
	Flags      []Flag

	MountPoint string

	// Intended mutations, set by the CLI/builder and consumed by the
	// planner; zero values mean "no change requested".
	FormatWith Filesystem // intended format filesystem, FsNone = no format
	LogicalVG  string     // non-empty: this partition is (or becomes) an LVM PV for this VG
	Encryption *LuksEncryption
	KeyfileID  string // non-empty: this partition defines a keyfile with this id

	Remove bool
	New    bool
	Active bool // mounted or dm-mapped
	Busy   bool
	IsSource bool // existed at probe time

	SectorsUsed   uint64 // from filesystem probe, 0 if unknown
	DetectedOS    string

	// owner device path, set by Disk.AddPartition/probe, e.g. "/dev/sda"
	diskPath string
}

// DevicePath returns the partition's device node path, e.g. /dev/sda1.
func (p *Partition) DevicePath() string {
	if p.diskPath == "" {
		return ""
	}
	return partitionDevicePath(p.diskPath, p.Number)
}

func partitionDevicePath(diskPath string, number int) string {
	if len(diskPath) > 0 {
		last := diskPath[len(diskPath)-1]
		if last >= '0' && last <= '9' {
			return fmt.Sprintf("%sp%d", diskPath, number)
		}
	}
	return fmt.Sprintf("%s%d", diskPath, number)
}

func (p *Partition) HasFlag(f Flag) bool { return hasFlag(p.Flags, f) }

func (p *Partition) Sectors() uint64 {
	if p.End < p.Start {
		return 0
	}
	return p.End - p.Start + 1
}

// PartitionBuilder is a value object describing a partition to add.
// Each configurator method returns the updated builder; no state is
// observable after AddPartition consumes it.
type PartitionBuilder struct {
	start, end sector.Sector
	ptype      PartType
	fs         Filesystem
	label      string
	mount      string
	flags      []Flag

	lvmVG  string
	lvmEnc *LuksEncryption

	keyfileID string
}

func NewPartitionBuilder(start, end sector.Sector, fs Filesystem) PartitionBuilder {
	return PartitionBuilder{start: start, end: end, fs: fs, ptype: TypePrimary}
}

func (b PartitionBuilder) WithType(t PartType) PartitionBuilder       { b.ptype = t; return b }
func (b PartitionBuilder) WithLabel(label string) PartitionBuilder   { b.label = label; return b }
func (b PartitionBuilder) WithMount(mount string) PartitionBuilder   { b.mount = mount; return b }
func (b PartitionBuilder) WithFlags(flags ...Flag) PartitionBuilder  { b.flags = append([]Flag{}, flags...); return b }
func (b PartitionBuilder) LogicalVolume(vg string, enc *LuksEncryption) PartitionBuilder {
	b.lvmVG = vg
	b.lvmEnc = enc
	return b
}
func (b PartitionBuilder) AssociateKeyfile(id string) PartitionBuilder { b.keyfileID = id; return b }

// Disk is a physical block device.
type Disk struct {
	DevicePath string
	Model      string
	Serial     string
	SectorSize uint64
	TotalSectors uint64
	ReadOnly   bool
	Removable  bool
	Rotational bool
	Table      Table

	Partitions []*Partition

	nextNumber int
}

// NewDisk constructs an empty Disk for the given device path.
func NewDisk(path string) *Disk {
	return &Disk{DevicePath: path, Table: TableNone, SectorSize: 512, nextNumber: 1}
}

func (d *Disk) sectorDisk() sector.Disk {
	return sector.Disk{Sectors: d.TotalSectors, SectorSize: d.SectorSize}
}

// GetSector resolves a Sector against this disk's geometry.
func (d *Disk) GetSector(s sector.Sector) (uint64, error) {
	v, err := s.Resolve(d.sectorDisk())
	if err != nil {
		return 0, errs.Wrap(types.StepInit, errs.KindInvalidInput, d.DevicePath, err)
	}
	return v, nil
}

func (d *Disk) GetPartition(num int) (*Partition, error) {
	for _, p := range d.Partitions {
		if p.Number == num && !p.Remove {
			return p, nil
		}
	}
	return nil, errs.New(types.StepInit, errs.KindPartitionNotFound, fmt.Sprintf("%s:%d", d.DevicePath, num))
}

func (d *Disk) GetPartitionByPath(path string) (*Partition, error) {
	for _, p := range d.Partitions {
		if p.DevicePath() == path {
			return p, nil
		}
	}
	return nil, errs.New(types.StepInit, errs.KindPartitionNotFound, path)
}

// AddProbedPartition appends a partition discovered by the probe layer,
// binding it to this disk's device path and advancing the numbering
// counter so subsequently added partitions don't collide. Unlike
// AddPartition it performs no validation: the probed state is taken as
// ground truth, not a request to be checked.
func (d *Disk) AddProbedPartition(p *Partition) {
	p.diskPath = d.DevicePath
	d.Partitions = append(d.Partitions, p)
	if p.Number >= d.nextNumber {
		d.nextNumber = p.Number + 1
	}
}

func (d *Disk) ListPartitions() []*Partition {
	out := make([]*Partition, 0, len(d.Partitions))
	for _, p := range d.Partitions {
		if !p.Remove {
			out = append(out, p)
		}
	}
	return out
}

// liveExtents returns the [start,end] ranges of every non-removed
// partition other than `exceptNumber`.
func (d *Disk) liveExtents(exceptNumber int) [][2]uint64 {
	var out [][2]uint64
	for _, p := range d.Partitions {
		if p.Remove || p.Number == exceptNumber {
			continue
		}
		out = append(out, [2]uint64{p.Start, p.End})
	}
	return out
}

func overlaps(a, b [2]uint64) bool {
	return a[0] <= b[1] && b[0] <= a[1]
}

func (d *Disk) checkOverlap(start, end uint64, exceptNumber int) error {
	candidate := [2]uint64{start, end}
	for _, extent := range d.liveExtents(exceptNumber) {
		if overlaps(candidate, extent) {
			return errs.New(types.StepInit, errs.KindOverlappingPartition, d.DevicePath)
		}
	}
	return nil
}

func (d *Disk) checkBounds(start, end uint64) error {
	if end < start {
		return errs.New(types.StepInit, errs.KindInvalidInput, d.DevicePath)
	}
	if d.TotalSectors > 0 && end >= d.TotalSectors {
		return errs.New(types.StepInit, errs.KindInvalidInput, d.DevicePath)
	}
	return nil
}

func (d *Disk) checkMinSize(start, end uint64, fs Filesystem) error {
	sectors := end - start + 1
	minBytes := fs.MinMegabytes() * 1_000_000
	sectorSize := d.SectorSize
	if sectorSize == 0 {
		sectorSize = 512
	}
	minSectors := minBytes / sectorSize
	if sectors < minSectors {
		return errs.New(types.StepInit, errs.KindTooSmall, d.DevicePath)
	}
	return nil
}

// msdosSlotsOK enforces: at most 4 primary or 3 primary + 1 extended;
// logical partitions must lie within the extended partition.
func (d *Disk) msdosSlotsOK(candidate *Partition) error {
	if d.Table != TableMSDOS {
		return nil
	}
	primaries, hasExtended := 0, false
	var extended *Partition
	for _, p := range d.Partitions {
		if p.Remove {
			continue
		}
		switch p.Type {
		case TypePrimary:
			primaries++
		case TypeExtended:
			hasExtended = true
			extended = p
		}
	}
	switch candidate.Type {
	case TypePrimary:
		if primaries+boolToInt(hasExtended) >= 4 {
			return errs.New(types.StepInit, errs.KindTableMismatch, d.DevicePath)
		}
	case TypeExtended:
		if hasExtended || primaries >= 4 {
			return errs.New(types.StepInit, errs.KindTableMismatch, d.DevicePath)
		}
	case TypeLogical:
		if extended == nil {
			return errs.New(types.StepInit, errs.KindTableMismatch, d.DevicePath)
		}
		if candidate.Start < extended.Start || candidate.End > extended.End {
			return errs.New(types.StepInit, errs.KindTableMismatch, d.DevicePath)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AddPartition validates and appends a new partition built from b.
// When b declares a logical volume with encryption, this implicitly
// creates a LUKS partition on this disk whose unlocked mapping becomes
// a PV for the stated VG; the LvmDevice itself is materialized later by
// Disks.InitializeVolumeGroups.
func (d *Disk) AddPartition(b PartitionBuilder) (*Partition, error) {
	start, err := d.GetSector(b.start)
	if err != nil {
		return nil, err
	}
	end, err := d.GetSector(b.end)
	if err != nil {
		return nil, err
	}
	// Megabyte, megabyte-from-end and percent ends resolve to an aligned
	// boundary that the next partition can start at, so the partition
	// ends on the sector before it.
	switch b.end.Kind {
	case sector.KindMegabyte, sector.KindMegabyteFromEnd, sector.KindPercent:
		if end > 0 {
			end--
		}
	}
	if err := d.checkBounds(start, end); err != nil {
		return nil, err
	}

	fs := b.fs
	if b.lvmVG != "" {
		if b.lvmEnc != nil {
			fs = FsLUKS
		} else {
			fs = FsLVM
		}
	}
	if err := d.checkOverlap(start, end, 0); err != nil {
		return nil, err
	}
	if err := d.checkMinSize(start, end, fs); err != nil {
		return nil, err
	}

	p := &Partition{
		Number:     d.nextNumber,
		Start:      start,
		End:        end,
		Type:       b.ptype,
		Label:      b.label,
		MountPoint: b.mount,
		Flags:      b.flags,
		FormatWith: fs,
		New:        true,
		diskPath:   d.DevicePath,
	}
	if b.lvmVG != "" {
		p.LogicalVG = b.lvmVG
		p.Encryption = b.lvmEnc
	}
	if b.keyfileID != "" {
		p.KeyfileID = b.keyfileID
	}
	if p.Encryption != nil {
		if err := p.Encryption.Validate(); err != nil {
			return nil, err
		}
	}

	if err := d.msdosSlotsOK(p); err != nil {
		return nil, err
	}

	d.Partitions = append(d.Partitions, p)
	d.nextNumber++
	return p, nil
}

// RemovePartition marks a partition for removal; it is not spliced out
// of the slice until the planner consumes it, so existing Partition
// pointers remain valid for the remainder of the planning phase.
func (d *Disk) RemovePartition(num int) error {
	p, err := d.GetPartition(num)
	if err != nil {
		return err
	}
	p.Remove = true
	return nil
}

// FormatPartition marks an existing partition for reformat with fs.
func (d *Disk) FormatPartition(num int, fs Filesystem) error {
	p, err := d.GetPartition(num)
	if err != nil {
		return err
	}
	if err := d.checkMinSize(p.Start, p.End, fs); err != nil {
		return err
	}
	p.FormatWith = fs
	return nil
}

// MovePartition relocates a partition, keeping its size, to newStart.
func (d *Disk) MovePartition(num int, newStart sector.Sector) error {
	p, err := d.GetPartition(num)
	if err != nil {
		return err
	}
	size := p.Sectors()
	start, err := d.GetSector(newStart)
	if err != nil {
		return err
	}
	end := start + size - 1
	if err := d.checkBounds(start, end); err != nil {
		return err
	}
	if err := d.checkOverlap(start, end, num); err != nil {
		return err
	}
	p.Start, p.End = start, end
	return nil
}

// ResizePartition changes a partition's end sector.
func (d *Disk) ResizePartition(num int, newEnd sector.Sector) error {
	p, err := d.GetPartition(num)
	if err != nil {
		return err
	}
	end, err := d.GetSector(newEnd)
	if err != nil {
		return err
	}
	if err := d.checkBounds(p.Start, end); err != nil {
		return err
	}
	if err := d.checkOverlap(p.Start, end, num); err != nil {
		return err
	}
	if err := d.checkMinSize(p.Start, end, p.Filesystem); err != nil {
		return err
	}
	p.End = end
	return nil
}

// Mklabel marks every existing partition for removal and sets the new
// table kind.
func (d *Disk) Mklabel(table Table) error {
	for _, p := range d.Partitions {
		p.Remove = true
	}
	d.Table = table
	d.nextNumber = 1
	return nil
}

// LvmDevice represents a volume group (or the decrypted filesystem
// exposed by a LUKS container holding a non-LVM filesystem). It is
// materialized by Disks.InitializeVolumeGroups once all physical
// partitions are final; its LogicalVolumes are never written to
// hardware until every dependent physical PV exists.
type LvmDevice struct {
	VGName         string
	DevicePath     string // /dev/mapper/<VGName>
	SectorSize     uint64
	Sectors        uint64
	LogicalVolumes []*Partition

	// PVPaths are device paths of the physical volumes backing this VG,
	// resolved by lookup rather than held as pointers (see package doc).
	PVPaths []string

	// IsSource mirrors Partition.IsSource: true when this VG already
	// existed at probe time (vgs found it), false when InitializeVolumeGroups
	// materialized it fresh from a --logical/-n lvm= assignment. The
	// planner uses this to decide whether vgcreate is needed at all.
	IsSource bool

	nextNumber int
	lastUsed   uint64
}

func NewLvmDevice(vgName string) *LvmDevice {
	return &LvmDevice{VGName: vgName, DevicePath: "/dev/mapper/" + vgName, SectorSize: 512, nextNumber: 1}
}

func (l *LvmDevice) GetPartition(num int) (*Partition, error) {
	for _, lv := range l.LogicalVolumes {
		if lv.Number == num && !lv.Remove {
			return lv, nil
		}
	}
	return nil, errs.New(types.StepInit, errs.KindPartitionNotFound, fmt.Sprintf("%s:%d", l.VGName, num))
}

// AddPartition packs a new logical volume left-to-right from
// last_used_sector, honoring Sectors as an upper bound.
func (l *LvmDevice) AddPartition(sectors uint64, fs Filesystem, label, mount string) (*Partition, error) {
	start := l.lastUsed
	end := start + sectors - 1
	if l.Sectors > 0 && end >= l.Sectors {
		return nil, errs.New(types.StepInit, errs.KindTooSmall, l.DevicePath)
	}
	lv := &Partition{
		Number:     l.nextNumber,
		Start:      start,
		End:        end,
		Type:       TypePrimary,
		Label:      label,
		MountPoint: mount,
		FormatWith: fs,
		New:        true,
		diskPath:   l.DevicePath,
	}
	l.LogicalVolumes = append(l.LogicalVolumes, lv)
	l.nextNumber++
	l.lastUsed = end + 1
	return lv, nil
}

func (l *LvmDevice) RemovePartition(num int) error {
	lv, err := l.GetPartition(num)
	if err != nil {
		return err
	}
	lv.Remove = true
	return nil
}

func (l *LvmDevice) ClearPartitions() {
	for _, lv := range l.LogicalVolumes {
		lv.Remove = true
	}
}

// Clone deep-copies a partition, including its encryption descriptor.
func (p *Partition) Clone() *Partition {
	cp := *p
	if p.Flags != nil {
		cp.Flags = append([]Flag{}, p.Flags...)
	}
	if p.Encryption != nil {
		enc := *p.Encryption
		cp.Encryption = &enc
	}
	return &cp
}

// Clone deep-copies a Disk and its Partitions, for taking a baseline
// snapshot before CLI flags mutate the probed graph in place.
func (d *Disk) Clone() *Disk {
	cp := *d
	cp.Partitions = make([]*Partition, len(d.Partitions))
	for i, p := range d.Partitions {
		cp.Partitions[i] = p.Clone()
	}
	return &cp
}

// Clone deep-copies an LvmDevice and its logical volumes.
func (l *LvmDevice) Clone() *LvmDevice {
	cp := *l
	cp.LogicalVolumes = make([]*Partition, len(l.LogicalVolumes))
	for i, lv := range l.LogicalVolumes {
		cp.LogicalVolumes[i] = lv.Clone()
	}
	cp.PVPaths = append([]string{}, l.PVPaths...)
	return &cp
}

// Disks is the top-level container owning every Disk and LvmDevice.
type Disks struct {
	Disks      []*Disk
	LvmDevices []*LvmDevice
}

func New() *Disks { return &Disks{} }

// Clone deep-copies every Disk and LvmDevice, for snapshotting the
// probed baseline before mutation.
func (d *Disks) Clone() *Disks {
	cp := &Disks{
		Disks:      make([]*Disk, len(d.Disks)),
		LvmDevices: make([]*LvmDevice, len(d.LvmDevices)),
	}
	for i, disk := range d.Disks {
		cp.Disks[i] = disk.Clone()
	}
	for i, lvm := range d.LvmDevices {
		cp.LvmDevices[i] = lvm.Clone()
	}
	return cp
}

func (d *Disks) Push(disk *Disk) { d.Disks = append(d.Disks, disk) }

func (d *Disks) List() []*Disk { return d.Disks }

func (d *Disks) ListLogical() []*LvmDevice { return d.LvmDevices }

func (d *Disks) GetLogicalDevice(vg string) (*LvmDevice, error) {
	for _, lvm := range d.LvmDevices {
		if lvm.VGName == vg {
			return lvm, nil
		}
	}
	return nil, errs.New(types.StepInit, errs.KindVgNotFound, vg)
}

// FindPartition looks up a partition by device path across every Disk
// and LvmDevice.
func (d *Disks) FindPartition(path string) (*Partition, error) {
	for _, disk := range d.Disks {
		if p, err := disk.GetPartitionByPath(path); err == nil {
			return p, nil
		}
	}
	for _, lvm := range d.LvmDevices {
		for _, lv := range lvm.LogicalVolumes {
			if lv.DevicePath() == path {
				return lv, nil
			}
		}
	}
	return nil, errs.New(types.StepInit, errs.KindPartitionNotFound, path)
}

// ContainsLuks reports whether any partition anywhere is LUKS-encrypted.
func (d *Disks) ContainsLuks() bool {
	for _, disk := range d.Disks {
		for _, p := range disk.Partitions {
			if p.Encryption != nil || p.Filesystem == FsLUKS || p.FormatWith == FsLUKS {
				return true
			}
		}
	}
	return false
}

// InitializeVolumeGroups materializes an LvmDevice for every distinct
// LogicalVG named by a non-removed physical partition, after all
// physical partitions are fixed. It does not write anything to
// hardware; it only builds the in-memory graph the planner's LVM pass
// consumes. A LogicalVG name already present in d.LvmDevices (probed at
// baseline time, IsSource true) is reused rather than replaced, so a new
// PV assigned into an already-active VG (--decrypt + --logical reusing
// an existing VG) doesn't shadow the probed device with a duplicate the
// planner would think needs vgcreate.
func (d *Disks) InitializeVolumeGroups() error {
	seen := map[string]*LvmDevice{}
	for _, vg := range d.LvmDevices {
		seen[vg.VGName] = vg
	}
	for _, disk := range d.Disks {
		for _, p := range disk.Partitions {
			if p.Remove || p.LogicalVG == "" {
				continue
			}
			vg := seen[p.LogicalVG]
			if vg == nil {
				vg = NewLvmDevice(p.LogicalVG)
				seen[p.LogicalVG] = vg
				d.LvmDevices = append(d.LvmDevices, vg)
			}
			pvPath := p.DevicePath()
			if p.Encryption != nil {
				pvPath = "/dev/mapper/" + p.Encryption.PVName
			}
			vg.PVPaths = append(vg.PVPaths, pvPath)
		}
	}
	return nil
}

// DecryptPartition attaches enc to the partition at path. It does not
// check the credential or the LUKS header, and the executor does not
// open such a partition: its PARTITION stage runs cryptsetup only for
// partitions it formats.
func (d *Disks) DecryptPartition(path string, enc *LuksEncryption) error {
	p, err := d.FindPartition(path)
	if err != nil {
		return err
	}
	if enc == nil {
		return errs.New(types.StepInit, errs.KindEncryptionKeyMissing, path)
	}
	p.Encryption = enc
	return nil
}

// ValidateKeyfileReferences checks that every keyid=K reference
// resolves to a partition with matching keyfile=K and a non-empty mount
// target (data-model invariant, spec §3/§8).
func (d *Disks) ValidateKeyfileReferences() error {
	keyfiles := map[string]*Partition{}
	for _, disk := range d.Disks {
		for _, p := range disk.Partitions {
			if p.Remove || p.KeyfileID == "" {
				continue
			}
			keyfiles[p.KeyfileID] = p
		}
	}
	for _, disk := range d.Disks {
		for _, p := range disk.Partitions {
			if p.Remove || p.Encryption == nil || p.Encryption.KeyfileID == nil {
				continue
			}
			kf, ok := keyfiles[*p.Encryption.KeyfileID]
			if !ok || kf.MountPoint == "" {
				return errs.New(types.StepInit, errs.KindKeyfileTargetMissing, p.DevicePath())
			}
		}
	}
	return nil
}
