package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/sector"
)

// This file parses the colon-separated flag grammar of the install
// command (`-t`, `-n`, `-u`, `-d`, `-m`, `--logical*`, `--decrypt`) into
// pkg/model values. Each spec string is split on ':' for its positional
// fields, then any trailing `key=value` fields are parsed independently
// so their order relative to each other doesn't matter.

// keyValueFields splits the tail of a colon-separated spec into a
// key->value map. A bare field with no '=' is recorded as a key with an
// empty value.
func keyValueFields(fields []string) map[string]string {
	out := map[string]string{}
	for _, f := range fields {
		if f == "" {
			continue
		}
		if idx := strings.IndexByte(f, '='); idx >= 0 {
			out[f[:idx]] = f[idx+1:]
		} else {
			out[f] = ""
		}
	}
	return out
}

func parseTable(s string) (model.Table, error) {
	switch strings.ToLower(s) {
	case "gpt":
		return model.TableGPT, nil
	case "msdos":
		return model.TableMSDOS, nil
	default:
		return "", fmt.Errorf("unknown partition table %q (want gpt or msdos)", s)
	}
}

func parseFilesystem(s string) (model.Filesystem, error) {
	switch strings.ToLower(s) {
	case "btrfs":
		return model.FsBTRFS, nil
	case "ext2":
		return model.FsEXT2, nil
	case "ext3":
		return model.FsEXT3, nil
	case "ext4":
		return model.FsEXT4, nil
	case "f2fs":
		return model.FsF2FS, nil
	case "fat16":
		return model.FsFAT16, nil
	case "fat32":
		return model.FsFAT32, nil
	case "ntfs":
		return model.FsNTFS, nil
	case "swap":
		return model.FsSwap, nil
	case "xfs":
		return model.FsXFS, nil
	case "exfat":
		return model.FsExFAT, nil
	default:
		return "", fmt.Errorf("unknown filesystem %q", s)
	}
}

func parseFlags(s string) ([]model.Flag, error) {
	if s == "" {
		return nil, nil
	}
	var flags []model.Flag
	for _, name := range strings.Split(s, ",") {
		switch strings.ToLower(name) {
		case "boot":
			flags = append(flags, model.FlagBoot)
		case "esp":
			flags = append(flags, model.FlagESP)
		case "root":
			flags = append(flags, model.FlagRoot)
		case "swap":
			flags = append(flags, model.FlagSwap)
		case "lvm":
			flags = append(flags, model.FlagLVM)
		case "bios_grub":
			flags = append(flags, model.FlagBiosGrub)
		case "legacy_boot":
			flags = append(flags, model.FlagLegacyBoot)
		case "msftdata":
			flags = append(flags, model.FlagMsftData)
		case "irst":
			flags = append(flags, model.FlagIRST)
		default:
			return nil, fmt.Errorf("unknown partition flag %q", name)
		}
	}
	return flags, nil
}

// parseMklabel parses "DEV:TABLE".
func parseMklabel(spec string) (device string, table model.Table, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("-t expects DEV:TABLE, got %q", spec)
	}
	table, err = parseTable(parts[1])
	if err != nil {
		return "", "", err
	}
	return parts[0], table, nil
}

// newPartitionSpec is the parsed form of a -n flag, before resolution
// against a specific disk (the VG/encryption fields need a disk-wide
// view to validate, so resolution happens in the caller).
type newPartitionSpec struct {
	device string
	start  sector.Sector
	end    sector.Sector
	fs     model.Filesystem
	mount  string
	flags  []model.Flag

	lvmVG      string
	encName    string
	encVG      string
	encPass    *string
	encKeyfile *string

	keyID string
}

// parseNew parses
// "DEV:TYPE:START:END:FS[:mount=M][:flags=F1,F2][:lvm=VG][:enc=NAME,VG,pass=P|keyfile=K][:keyid=K]".
// TYPE is parsed into a model.PartType here; only MSDOS disks act on
// it, since GPT has no primary/logical distinction.
func parseNew(spec string) (*newPartitionSpec, model.PartType, error) {
	fields := strings.Split(spec, ":")
	if len(fields) < 5 {
		return nil, "", fmt.Errorf("-n expects DEV:TYPE:START:END:FS[...], got %q", spec)
	}
	device := fields[0]
	ptype := model.PartType(strings.ToLower(fields[1]))
	switch ptype {
	case model.TypePrimary, model.TypeLogical, model.TypeExtended:
	default:
		return nil, "", fmt.Errorf("-n: unknown partition type %q", fields[1])
	}

	start, err := sector.FromStr(fields[2])
	if err != nil {
		return nil, "", fmt.Errorf("-n: start: %w", err)
	}
	end, err := sector.FromStr(fields[3])
	if err != nil {
		return nil, "", fmt.Errorf("-n: end: %w", err)
	}
	fs, err := parseFilesystem(fields[4])
	if err != nil {
		return nil, "", fmt.Errorf("-n: %w", err)
	}

	kv := keyValueFields(fields[5:])
	out := &newPartitionSpec{device: device, start: start, end: end, fs: fs, mount: kv["mount"]}

	if flagList, ok := kv["flags"]; ok {
		flags, err := parseFlags(flagList)
		if err != nil {
			return nil, "", fmt.Errorf("-n: %w", err)
		}
		out.flags = flags
	}
	if vg, ok := kv["lvm"]; ok {
		out.lvmVG = vg
	}
	if enc, ok := kv["enc"]; ok {
		encFields := strings.Split(enc, ",")
		if len(encFields) < 2 {
			return nil, "", fmt.Errorf("-n: enc expects NAME,VG,pass=P|keyfile=K, got %q", enc)
		}
		out.encName = encFields[0]
		out.encVG = encFields[1]
		encKV := keyValueFields(encFields[2:])
		if p, ok := encKV["pass"]; ok {
			out.encPass = &p
		}
		if k, ok := encKV["keyfile"]; ok {
			out.encKeyfile = &k
		}
		if (out.encPass == nil) == (out.encKeyfile == nil) {
			return nil, "", fmt.Errorf("-n: enc requires exactly one of pass= or keyfile=")
		}
	}
	if k, ok := kv["keyid"]; ok {
		out.keyID = k
	}
	return out, ptype, nil
}

// usePartitionSpec is the parsed form of a -u flag.
type usePartitionSpec struct {
	device string
	number int
	reuse  bool
	fs     model.Filesystem
	mount  string
	flags  []model.Flag
}

// parseUse parses "DEV:NUM:FS|reuse[:mount=M][:flags=...]".
func parseUse(spec string) (*usePartitionSpec, error) {
	fields := strings.Split(spec, ":")
	if len(fields) < 3 {
		return nil, fmt.Errorf("-u expects DEV:NUM:FS|reuse[...], got %q", spec)
	}
	num, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("-u: partition number: %w", err)
	}
	out := &usePartitionSpec{device: fields[0], number: num}

	if strings.EqualFold(fields[2], "reuse") {
		out.reuse = true
	} else {
		fs, err := parseFilesystem(fields[2])
		if err != nil {
			return nil, fmt.Errorf("-u: %w", err)
		}
		out.fs = fs
	}

	kv := keyValueFields(fields[3:])
	out.mount = kv["mount"]
	if flagList, ok := kv["flags"]; ok {
		flags, err := parseFlags(flagList)
		if err != nil {
			return nil, fmt.Errorf("-u: %w", err)
		}
		out.flags = flags
	}
	return out, nil
}

// parseDelete parses "DEV:NUM[:NUM]".
func parseDelete(spec string) (device string, numbers []int, err error) {
	fields := strings.Split(spec, ":")
	if len(fields) < 2 {
		return "", nil, fmt.Errorf("-d expects DEV:NUM[:NUM], got %q", spec)
	}
	for _, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil {
			return "", nil, fmt.Errorf("-d: partition number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return fields[0], numbers, nil
}

// parseMove parses "DEV:NUM:START:END".
func parseMove(spec string) (device string, number int, start, end sector.Sector, err error) {
	fields := strings.Split(spec, ":")
	if len(fields) != 4 {
		return "", 0, sector.Sector{}, sector.Sector{}, fmt.Errorf("-m expects DEV:NUM:START:END, got %q", spec)
	}
	number, err = strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, sector.Sector{}, sector.Sector{}, fmt.Errorf("-m: partition number: %w", err)
	}
	start, err = sector.FromStr(fields[2])
	if err != nil {
		return "", 0, sector.Sector{}, sector.Sector{}, fmt.Errorf("-m: start: %w", err)
	}
	end, err = sector.FromStr(fields[3])
	if err != nil {
		return "", 0, sector.Sector{}, sector.Sector{}, fmt.Errorf("-m: end: %w", err)
	}
	return fields[0], number, start, end, nil
}

// logicalNewSpec is the parsed form of a --logical flag.
type logicalNewSpec struct {
	vg    string
	name  string
	size  sector.Sector
	fs    model.Filesystem
	mount string
}

// parseLogicalNew parses "VG:NAME:SIZE:FS[:mount=M]".
func parseLogicalNew(spec string) (*logicalNewSpec, error) {
	fields := strings.Split(spec, ":")
	if len(fields) < 4 {
		return nil, fmt.Errorf("--logical expects VG:NAME:SIZE:FS[...], got %q", spec)
	}
	size, err := sector.FromStr(fields[2])
	if err != nil {
		return nil, fmt.Errorf("--logical: size: %w", err)
	}
	fs, err := parseFilesystem(fields[3])
	if err != nil {
		return nil, fmt.Errorf("--logical: %w", err)
	}
	kv := keyValueFields(fields[4:])
	return &logicalNewSpec{vg: fields[0], name: fields[1], size: size, fs: fs, mount: kv["mount"]}, nil
}

// logicalModifySpec is the parsed form of a --logical-modify flag.
type logicalModifySpec struct {
	vg    string
	name  string
	fs    *model.Filesystem
	mount *string
}

// parseLogicalModify parses "VG:NAME[:fs=X][:mount=M]".
func parseLogicalModify(spec string) (*logicalModifySpec, error) {
	fields := strings.Split(spec, ":")
	if len(fields) < 2 {
		return nil, fmt.Errorf("--logical-modify expects VG:NAME[...], got %q", spec)
	}
	kv := keyValueFields(fields[2:])
	out := &logicalModifySpec{vg: fields[0], name: fields[1]}
	if fsStr, ok := kv["fs"]; ok {
		fs, err := parseFilesystem(fsStr)
		if err != nil {
			return nil, fmt.Errorf("--logical-modify: %w", err)
		}
		out.fs = &fs
	}
	if mount, ok := kv["mount"]; ok {
		out.mount = &mount
	}
	return out, nil
}

// parseLogicalRemove parses "VG:NAME".
func parseLogicalRemove(spec string) (vg, name string, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("--logical-remove expects VG:NAME, got %q", spec)
	}
	return parts[0], parts[1], nil
}

// decryptSpec is the parsed form of a --decrypt flag.
type decryptSpec struct {
	device string
	vg     string
	pass   *string
	keyfile *string
}

// parseDecrypt parses "DEV:VG:pass=P|keyfile=K".
func parseDecrypt(spec string) (*decryptSpec, error) {
	fields := strings.Split(spec, ":")
	if len(fields) < 3 {
		return nil, fmt.Errorf("--decrypt expects DEV:VG:pass=P|keyfile=K, got %q", spec)
	}
	kv := keyValueFields(fields[2:])
	out := &decryptSpec{device: fields[0], vg: fields[1]}
	if p, ok := kv["pass"]; ok {
		out.pass = &p
	}
	if k, ok := kv["keyfile"]; ok {
		out.keyfile = &k
	}
	if (out.pass == nil) == (out.keyfile == nil) {
		return nil, fmt.Errorf("--decrypt requires exactly one of pass= or keyfile=")
	}
	return out, nil
}
