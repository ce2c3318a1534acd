package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frostyard/dinst/pkg/collaborator"
	"github.com/frostyard/dinst/pkg/executor"
	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/plan"
	"github.com/frostyard/dinst/pkg/probe"
	"github.com/frostyard/dinst/pkg/reporter"
	"github.com/frostyard/dinst/pkg/sector"
	"github.com/frostyard/dinst/pkg/toolexec"
	"github.com/frostyard/dinst/pkg/types"
)

// installFlags mirrors the flag grammar: one repeatable string flag per
// mutation kind, parsed in the order cobra collected them. Declarative,
// not imperative: every flag describes a piece of the intended layout,
// and the planner (not the flag parser) decides how to get there.
type installFlags struct {
	squashfs       string
	removeManifest string
	hostname       string
	keyboard       string
	locale         string
	blockDevices   []string

	mklabel       []string
	newPartitions []string
	usePartitions []string
	deletions     []string
	moves         []string
	logicalNew    []string
	logicalModify []string
	logicalRemove []string
	decrypt       []string

	test      bool
	forceBIOS bool

	username    string
	realname    string
	profileIcon string
	timezone    string
}

func newInstallCmd() *cobra.Command {
	var f installFlags

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Partition disks, extract the base system, and install a bootloader",
		Long: `install applies a declarative set of partitioning, LVM and encryption
flags to the machine's disks, then extracts a squashfs base system onto
the resulting layout, configures it, and installs a bootloader.

Nothing is probed or changed until all flags parse successfully. With
--test, install prints the operation plan it would apply and exits
without touching any device.`,
		RunE: func(c *cobra.Command, args []string) error {
			return runInstall(c.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.squashfs, "squashfs", "s", "", "path to the squashfs base system image")
	flags.StringVarP(&f.removeManifest, "remove-manifest", "r", "", "path to a package-removal manifest")
	flags.StringVarP(&f.hostname, "hostname", "h", "", "hostname for the installed system")
	flags.StringVarP(&f.keyboard, "keyboard", "k", "", "keyboard layout")
	flags.StringVarP(&f.locale, "locale", "l", "", "system locale")
	flags.StringArrayVarP(&f.blockDevices, "block-device", "b", nil, "include a block device in the install (repeatable)")

	flags.StringArrayVarP(&f.mklabel, "mklabel", "t", nil, "DEV:TABLE, write a fresh partition table")
	flags.StringArrayVarP(&f.newPartitions, "new", "n", nil, "DEV:TYPE:START:END:FS[:mount=M][:flags=F1,F2][:lvm=VG][:enc=NAME,VG,pass=P|keyfile=K][:keyid=K]")
	flags.StringArrayVarP(&f.usePartitions, "use", "u", nil, "DEV:NUM:FS|reuse[:mount=M][:flags=F1,F2]")
	flags.StringArrayVarP(&f.deletions, "delete", "d", nil, "DEV:NUM[:NUM], remove existing partitions")
	flags.StringArrayVarP(&f.moves, "move", "m", nil, "DEV:NUM:START:END, move or resize an existing partition")
	flags.StringArrayVar(&f.logicalNew, "logical", nil, "VG:NAME:SIZE:FS[:mount=M], create a logical volume")
	flags.StringArrayVar(&f.logicalModify, "logical-modify", nil, "VG:NAME[:fs=X][:mount=M], modify a logical volume")
	flags.StringArrayVar(&f.logicalRemove, "logical-remove", nil, "VG:NAME, remove a logical volume")
	flags.StringArrayVar(&f.decrypt, "decrypt", nil, "DEV:VG:pass=P|keyfile=K, unlock an existing LUKS container")

	flags.BoolVar(&f.test, "test", false, "print the operation plan and exit without applying it")
	flags.BoolVar(&f.forceBIOS, "force-bios", false, "install a BIOS/GPT bootloader even when EFI is available")

	flags.StringVar(&f.username, "username", "", "primary user's login name")
	flags.StringVar(&f.realname, "realname", "", "primary user's display name")
	flags.StringVar(&f.profileIcon, "profile_icon", "", "primary user's profile icon")
	flags.StringVar(&f.timezone, "tz", "", "system timezone")

	return cmd
}

func init() {
	rootCmd.AddCommand(newInstallCmd())
}

// findDisk looks up a disk by device path, the same way every mutating
// flag addresses its target.
func findDisk(disks *model.Disks, device string) (*model.Disk, error) {
	for _, d := range disks.List() {
		if d.DevicePath == device {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown block device %q (pass -b to include it)", device)
}

// restrictToBlockDevices drops every disk not named by -b, when -b was
// given at all. Operations referencing a device outside that set fail
// at lookup time with a clear error instead of silently touching disks
// the caller never opted into.
func restrictToBlockDevices(disks *model.Disks, allow []string) {
	if len(allow) == 0 {
		return
	}
	allowed := map[string]bool{}
	for _, d := range allow {
		allowed[d] = true
	}
	var kept []*model.Disk
	for _, d := range disks.List() {
		if allowed[d.DevicePath] {
			kept = append(kept, d)
		}
	}
	disks.Disks = kept
}

// luksHeaderSectors approximates the sectors a LUKS2 header consumes
// (~16MiB), subtracted from an encrypted PV's contribution below.
const luksHeaderSectors = 32768

// estimateVolumeGroupCapacity fills in Sectors for every LvmDevice that
// InitializeVolumeGroups materialized, which only populates PVPaths. The
// real capacity (minus LVM metadata overhead) is only known once vgcreate
// has actually run; until then this sums the constituent PV partitions'
// sectors, trimming a fixed estimate for any LUKS header so --logical's
// Sector-grammar SIZE field (including end-relative forms like "-4096M")
// has a real disk geometry to resolve against during planning.
func estimateVolumeGroupCapacity(disks *model.Disks) {
	for _, vg := range disks.ListLogical() {
		if vg.Sectors > 0 {
			continue
		}
		var total uint64
		var sectorSize uint64
		for _, pvPath := range vg.PVPaths {
			p, err := disks.FindPartition(pvPath)
			if err != nil {
				// An encrypted PV is addressed by its /dev/mapper path;
				// count the LUKS partition that backs it.
				p = nil
				for _, d := range disks.List() {
					for _, cand := range d.ListPartitions() {
						if cand.Encryption != nil && "/dev/mapper/"+cand.Encryption.PVName == pvPath {
							p = cand
						}
					}
				}
				if p == nil {
					continue
				}
			}
			sectors := p.Sectors()
			if p.Encryption != nil && sectors > luksHeaderSectors {
				sectors -= luksHeaderSectors
			}
			total += sectors
			if sectorSize == 0 {
				sectorSize = 512
			}
		}
		vg.Sectors = total
		vg.SectorSize = sectorSize
	}
}

func applyMklabelFlags(disks *model.Disks, specs []string) error {
	for _, spec := range specs {
		device, table, err := parseMklabel(spec)
		if err != nil {
			return err
		}
		disk, err := findDisk(disks, device)
		if err != nil {
			return err
		}
		if err := disk.Mklabel(table); err != nil {
			return err
		}
	}
	return nil
}

func applyNewPartitionFlags(disks *model.Disks, specs []string) error {
	for _, spec := range specs {
		parsed, ptype, err := parseNew(spec)
		if err != nil {
			return err
		}
		disk, err := findDisk(disks, parsed.device)
		if err != nil {
			return err
		}

		b := model.NewPartitionBuilder(parsed.start, parsed.end, parsed.fs).WithType(ptype)
		if parsed.mount != "" {
			b = b.WithMount(parsed.mount)
		}
		if len(parsed.flags) > 0 {
			b = b.WithFlags(parsed.flags...)
		}

		vg := parsed.lvmVG
		if vg == "" {
			vg = parsed.encVG
		}
		if vg != "" {
			var enc *model.LuksEncryption
			if parsed.encName != "" {
				enc = &model.LuksEncryption{PVName: parsed.encName, Password: parsed.encPass, KeyfileID: parsed.encKeyfile}
			}
			b = b.LogicalVolume(vg, enc)
		}
		if parsed.keyID != "" {
			b = b.AssociateKeyfile(parsed.keyID)
		}

		if _, err := disk.AddPartition(b); err != nil {
			return err
		}
	}
	return nil
}

func applyUsePartitionFlags(disks *model.Disks, specs []string) error {
	for _, spec := range specs {
		parsed, err := parseUse(spec)
		if err != nil {
			return err
		}
		disk, err := findDisk(disks, parsed.device)
		if err != nil {
			return err
		}
		part, err := disk.GetPartition(parsed.number)
		if err != nil {
			return err
		}
		if parsed.mount != "" {
			part.MountPoint = parsed.mount
		}
		if len(parsed.flags) > 0 {
			part.Flags = parsed.flags
		}
		if !parsed.reuse {
			if err := disk.FormatPartition(parsed.number, parsed.fs); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyDeleteFlags(disks *model.Disks, specs []string) error {
	for _, spec := range specs {
		device, numbers, err := parseDelete(spec)
		if err != nil {
			return err
		}
		disk, err := findDisk(disks, device)
		if err != nil {
			return err
		}
		for _, num := range numbers {
			if err := disk.RemovePartition(num); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyMoveFlags(disks *model.Disks, specs []string) error {
	for _, spec := range specs {
		device, number, start, end, err := parseMove(spec)
		if err != nil {
			return err
		}
		disk, err := findDisk(disks, device)
		if err != nil {
			return err
		}
		if err := disk.MovePartition(number, start); err != nil {
			return err
		}
		if err := disk.ResizePartition(number, end); err != nil {
			return err
		}
	}
	return nil
}

// applyLogicalNewFlags creates logical volumes, packing each VG
// left-to-right the same way LvmDevice.AddPartition does internally.
// SIZE is resolved as the LV's end boundary (not a raw length), so
// "-4096M" means "end 4096M before the VG's end", consistent with how
// partitions use End() against a disk.
func applyLogicalNewFlags(disks *model.Disks, specs []string) error {
	nextStart := map[string]uint64{}
	for _, spec := range specs {
		parsed, err := parseLogicalNew(spec)
		if err != nil {
			return err
		}
		vg, err := disks.GetLogicalDevice(parsed.vg)
		if err != nil {
			return err
		}

		end, err := parsed.size.Resolve(sector.Disk{Sectors: vg.Sectors, SectorSize: vg.SectorSize, Alignment: 1})
		if err != nil {
			return fmt.Errorf("--logical %s: %w", parsed.vg, err)
		}
		start := nextStart[parsed.vg]
		if end < start {
			return fmt.Errorf("--logical %s:%s: resolved size leaves no space", parsed.vg, parsed.name)
		}
		sectors := end - start + 1

		if _, err := vg.AddPartition(sectors, parsed.fs, parsed.name, parsed.mount); err != nil {
			return err
		}
		nextStart[parsed.vg] = end + 1
	}
	return nil
}

func findLogicalVolume(vg *model.LvmDevice, name string) *model.Partition {
	for _, lv := range vg.LogicalVolumes {
		if lv.Label == name && !lv.Remove {
			return lv
		}
	}
	return nil
}

func applyLogicalModifyFlags(disks *model.Disks, specs []string) error {
	for _, spec := range specs {
		parsed, err := parseLogicalModify(spec)
		if err != nil {
			return err
		}
		vg, err := disks.GetLogicalDevice(parsed.vg)
		if err != nil {
			return err
		}
		lv := findLogicalVolume(vg, parsed.name)
		if lv == nil {
			return fmt.Errorf("--logical-modify: no logical volume %s:%s", parsed.vg, parsed.name)
		}
		if parsed.fs != nil {
			lv.FormatWith = *parsed.fs
		}
		if parsed.mount != nil {
			lv.MountPoint = *parsed.mount
		}
	}
	return nil
}

func applyLogicalRemoveFlags(disks *model.Disks, specs []string) error {
	for _, spec := range specs {
		vgName, name, err := parseLogicalRemove(spec)
		if err != nil {
			return err
		}
		vg, err := disks.GetLogicalDevice(vgName)
		if err != nil {
			return err
		}
		lv := findLogicalVolume(vg, name)
		if lv == nil {
			return fmt.Errorf("--logical-remove: no logical volume %s:%s", vgName, name)
		}
		if err := vg.RemovePartition(lv.Number); err != nil {
			return err
		}
	}
	return nil
}

func applyDecryptFlags(disks *model.Disks, specs []string) error {
	for _, spec := range specs {
		parsed, err := parseDecrypt(spec)
		if err != nil {
			return err
		}
		enc := &model.LuksEncryption{PVName: parsed.vg, Password: parsed.pass, KeyfileID: parsed.keyfile}
		if err := disks.DecryptPartition(parsed.device, enc); err != nil {
			return err
		}
	}
	return nil
}

// buildIntendedDisks applies every mutating flag to a clone of the
// probed baseline, in the fixed order physical changes must precede the
// LVM pass: table writes, then partition creation/reuse/deletion/moves,
// then volume-group materialization and capacity estimation, then the
// logical-volume and decryption flags that depend on it.
func buildIntendedDisks(baseline *model.Disks, f installFlags) (*model.Disks, error) {
	intended := baseline.Clone()
	restrictToBlockDevices(intended, f.blockDevices)

	if err := applyMklabelFlags(intended, f.mklabel); err != nil {
		return nil, err
	}
	if err := applyNewPartitionFlags(intended, f.newPartitions); err != nil {
		return nil, err
	}
	if err := applyUsePartitionFlags(intended, f.usePartitions); err != nil {
		return nil, err
	}
	if err := applyDeleteFlags(intended, f.deletions); err != nil {
		return nil, err
	}
	if err := applyMoveFlags(intended, f.moves); err != nil {
		return nil, err
	}

	if err := intended.InitializeVolumeGroups(); err != nil {
		return nil, err
	}
	estimateVolumeGroupCapacity(intended)

	if err := applyLogicalNewFlags(intended, f.logicalNew); err != nil {
		return nil, err
	}
	if err := applyLogicalModifyFlags(intended, f.logicalModify); err != nil {
		return nil, err
	}
	if err := applyLogicalRemoveFlags(intended, f.logicalRemove); err != nil {
		return nil, err
	}
	if err := applyDecryptFlags(intended, f.decrypt); err != nil {
		return nil, err
	}

	if err := intended.ValidateKeyfileReferences(); err != nil {
		return nil, err
	}

	return intended, nil
}

func runInstall(ctx context.Context, f installFlags) error {
	exec := toolexec.NewRunner()
	prober := probe.New(exec)

	baseline, err := prober.Probe(ctx, false)
	if err != nil {
		return fmt.Errorf("probe disks: %w", err)
	}

	intended, err := buildIntendedDisks(baseline, f)
	if err != nil {
		return fmt.Errorf("build intended layout: %w", err)
	}

	builtPlan, err := plan.Build(baseline, intended)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	var rep reporter.Reporter = reporter.NewTextReporter(os.Stdout)
	if viper.GetBool("json") {
		rep = reporter.NewJSONReporter(os.Stdout)
	}

	if f.test {
		out := builtPlan.Output()
		rep.MessagePlain("Planned %d operation(s):", len(out.Operations))
		for _, op := range out.Operations {
			if op.Number != 0 {
				rep.MessagePlain("  %-16s %s:%d %s", op.Kind, op.Device, op.Number, op.Detail)
			} else {
				rep.MessagePlain("  %-16s %s %s", op.Kind, op.Device, op.Detail)
			}
		}
		return nil
	}

	in := executor.New(exec, prober, rep)
	in.Extractor = collaborator.NewSquashfsExtractor(exec)
	in.Configure = collaborator.NewChrootConfigurator(exec)
	in.Bootloader = collaborator.NewGrubBootloaderInstaller(exec)
	in.Inhibit = func() (executor.SuspendInhibitor, error) {
		return collaborator.AcquireInhibitor()
	}

	cfg := executor.Config{
		Hostname:       f.hostname,
		KeyboardLayout: f.keyboard,
		Lang:           f.locale,
		RemoveManifest: f.removeManifest,
		Squashfs:       f.squashfs,
		Username:       f.username,
		Realname:       f.realname,
		ProfileIcon:    f.profileIcon,
		Timezone:       f.timezone,
		ForceBIOS:      f.forceBIOS,
	}

	rep.Step(types.StepInit, 1, 5)
	return in.Install(ctx, baseline, intended, cfg)
}
