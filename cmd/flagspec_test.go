package cmd

import (
	"testing"

	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/sector"
)

func TestParseTable(t *testing.T) {
	t.Run("accepts known tables case-insensitively", func(t *testing.T) {
		cases := map[string]model.Table{
			"gpt":   model.TableGPT,
			"GPT":   model.TableGPT,
			"msdos": model.TableMSDOS,
			"MSDOS": model.TableMSDOS,
		}
		for in, want := range cases {
			got, err := parseTable(in)
			if err != nil {
				t.Fatalf("parseTable(%q): %v", in, err)
			}
			if got != want {
				t.Errorf("parseTable(%q) = %q, want %q", in, got, want)
			}
		}
	})

	t.Run("rejects unknown table", func(t *testing.T) {
		if _, err := parseTable("apm"); err == nil {
			t.Fatal("expected error for unknown table")
		}
	})
}

func TestParseFilesystem(t *testing.T) {
	t.Run("accepts known filesystems", func(t *testing.T) {
		cases := map[string]model.Filesystem{
			"ext4":  model.FsEXT4,
			"btrfs": model.FsBTRFS,
			"fat32": model.FsFAT32,
			"swap":  model.FsSwap,
			"xfs":   model.FsXFS,
		}
		for in, want := range cases {
			got, err := parseFilesystem(in)
			if err != nil {
				t.Fatalf("parseFilesystem(%q): %v", in, err)
			}
			if got != want {
				t.Errorf("parseFilesystem(%q) = %q, want %q", in, got, want)
			}
		}
	})

	t.Run("rejects unknown filesystem", func(t *testing.T) {
		if _, err := parseFilesystem("zfs"); err == nil {
			t.Fatal("expected error for unknown filesystem")
		}
	})
}

func TestParseFlags(t *testing.T) {
	t.Run("empty string yields no flags", func(t *testing.T) {
		flags, err := parseFlags("")
		if err != nil {
			t.Fatalf("parseFlags(\"\"): %v", err)
		}
		if flags != nil {
			t.Errorf("expected nil flags, got %v", flags)
		}
	})

	t.Run("parses a comma-separated list", func(t *testing.T) {
		flags, err := parseFlags("boot,esp,lvm")
		if err != nil {
			t.Fatalf("parseFlags: %v", err)
		}
		want := []model.Flag{model.FlagBoot, model.FlagESP, model.FlagLVM}
		if len(flags) != len(want) {
			t.Fatalf("got %v, want %v", flags, want)
		}
		for i := range want {
			if flags[i] != want[i] {
				t.Errorf("flags[%d] = %q, want %q", i, flags[i], want[i])
			}
		}
	})

	t.Run("rejects unknown flag", func(t *testing.T) {
		if _, err := parseFlags("boot,bogus"); err == nil {
			t.Fatal("expected error for unknown flag")
		}
	})
}

func TestParseMklabel(t *testing.T) {
	device, table, err := parseMklabel("/dev/sda:gpt")
	if err != nil {
		t.Fatalf("parseMklabel: %v", err)
	}
	if device != "/dev/sda" || table != model.TableGPT {
		t.Errorf("got (%q, %q), want (/dev/sda, gpt)", device, table)
	}

	if _, _, err := parseMklabel("/dev/sda"); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestParseNew(t *testing.T) {
	t.Run("minimal spec", func(t *testing.T) {
		out, ptype, err := parseNew("/dev/sda:primary:2048:end:ext4")
		if err != nil {
			t.Fatalf("parseNew: %v", err)
		}
		if out.device != "/dev/sda" || ptype != model.TypePrimary || out.fs != model.FsEXT4 {
			t.Fatalf("unexpected parse result: %+v, type=%q", out, ptype)
		}
	})

	t.Run("mount, flags and lvm tail fields", func(t *testing.T) {
		out, _, err := parseNew("/dev/sda:primary:0:-1:btrfs:mount=/:flags=root,boot:lvm=vg0")
		if err != nil {
			t.Fatalf("parseNew: %v", err)
		}
		if out.mount != "/" {
			t.Errorf("mount = %q, want /", out.mount)
		}
		if len(out.flags) != 2 || out.flags[0] != model.FlagRoot || out.flags[1] != model.FlagBoot {
			t.Errorf("flags = %v", out.flags)
		}
		if out.lvmVG != "vg0" {
			t.Errorf("lvmVG = %q, want vg0", out.lvmVG)
		}
	})

	t.Run("enc requires exactly one of pass or keyfile", func(t *testing.T) {
		if _, _, err := parseNew("/dev/sda:primary:0:-1:ext4:enc=cryptroot,vg0"); err == nil {
			t.Fatal("expected error when neither pass= nor keyfile= is given")
		}
		if _, _, err := parseNew("/dev/sda:primary:0:-1:ext4:enc=cryptroot,vg0,pass=hunter2,keyfile=/k"); err == nil {
			t.Fatal("expected error when both pass= and keyfile= are given")
		}

		out, _, err := parseNew("/dev/sda:primary:0:-1:ext4:enc=cryptroot,vg0,pass=hunter2")
		if err != nil {
			t.Fatalf("parseNew: %v", err)
		}
		if out.encName != "cryptroot" || out.encVG != "vg0" || out.encPass == nil || *out.encPass != "hunter2" {
			t.Errorf("unexpected enc fields: %+v", out)
		}
	})

	t.Run("rejects unknown partition type", func(t *testing.T) {
		if _, _, err := parseNew("/dev/sda:bogus:0:-1:ext4"); err == nil {
			t.Fatal("expected error for unknown partition type")
		}
	})

	t.Run("rejects too few fields", func(t *testing.T) {
		if _, _, err := parseNew("/dev/sda:primary:0:-1"); err == nil {
			t.Fatal("expected error for missing filesystem field")
		}
	})
}

func TestParseUse(t *testing.T) {
	t.Run("reuse sentinel skips filesystem parsing", func(t *testing.T) {
		out, err := parseUse("/dev/sda:2:reuse")
		if err != nil {
			t.Fatalf("parseUse: %v", err)
		}
		if !out.reuse || out.number != 2 {
			t.Errorf("got %+v, want reuse=true number=2", out)
		}
	})

	t.Run("explicit filesystem with mount", func(t *testing.T) {
		out, err := parseUse("/dev/sda:1:ext4:mount=/boot")
		if err != nil {
			t.Fatalf("parseUse: %v", err)
		}
		if out.reuse || out.fs != model.FsEXT4 || out.mount != "/boot" {
			t.Errorf("unexpected parse result: %+v", out)
		}
	})

	t.Run("rejects non-numeric partition number", func(t *testing.T) {
		if _, err := parseUse("/dev/sda:x:reuse"); err == nil {
			t.Fatal("expected error for non-numeric number")
		}
	})
}

func TestParseDelete(t *testing.T) {
	device, numbers, err := parseDelete("/dev/sda:1:2:3")
	if err != nil {
		t.Fatalf("parseDelete: %v", err)
	}
	if device != "/dev/sda" {
		t.Errorf("device = %q, want /dev/sda", device)
	}
	if len(numbers) != 3 || numbers[0] != 1 || numbers[1] != 2 || numbers[2] != 3 {
		t.Errorf("numbers = %v, want [1 2 3]", numbers)
	}
}

func TestParseMove(t *testing.T) {
	device, number, start, end, err := parseMove("/dev/sda:1:0:end")
	if err != nil {
		t.Fatalf("parseMove: %v", err)
	}
	if device != "/dev/sda" || number != 1 {
		t.Errorf("got device=%q number=%d", device, number)
	}
	if start.Kind != sector.KindUnit || end.Kind != sector.KindEnd {
		t.Errorf("unexpected sector kinds: start=%v end=%v", start, end)
	}
}

func TestParseLogicalNew(t *testing.T) {
	out, err := parseLogicalNew("vg0:root:-4096M:ext4:mount=/")
	if err != nil {
		t.Fatalf("parseLogicalNew: %v", err)
	}
	if out.vg != "vg0" || out.name != "root" || out.fs != model.FsEXT4 || out.mount != "/" {
		t.Errorf("unexpected parse result: %+v", out)
	}
	if out.size.Kind != sector.KindMegabyteFromEnd || out.size.Value != 4096 {
		t.Errorf("size = %+v, want megabyte-from-end 4096", out.size)
	}
}

func TestParseLogicalModify(t *testing.T) {
	t.Run("no optional fields", func(t *testing.T) {
		out, err := parseLogicalModify("vg0:root")
		if err != nil {
			t.Fatalf("parseLogicalModify: %v", err)
		}
		if out.fs != nil || out.mount != nil {
			t.Errorf("expected nil optional fields, got %+v", out)
		}
	})

	t.Run("fs and mount overrides", func(t *testing.T) {
		out, err := parseLogicalModify("vg0:root:fs=xfs:mount=/mnt")
		if err != nil {
			t.Fatalf("parseLogicalModify: %v", err)
		}
		if out.fs == nil || *out.fs != model.FsXFS {
			t.Errorf("fs = %v, want xfs", out.fs)
		}
		if out.mount == nil || *out.mount != "/mnt" {
			t.Errorf("mount = %v, want /mnt", out.mount)
		}
	})
}

func TestParseLogicalRemove(t *testing.T) {
	vg, name, err := parseLogicalRemove("vg0:root")
	if err != nil {
		t.Fatalf("parseLogicalRemove: %v", err)
	}
	if vg != "vg0" || name != "root" {
		t.Errorf("got (%q, %q), want (vg0, root)", vg, name)
	}
}

func TestParseDecrypt(t *testing.T) {
	t.Run("pass form", func(t *testing.T) {
		out, err := parseDecrypt("/dev/sda2:vg0:pass=hunter2")
		if err != nil {
			t.Fatalf("parseDecrypt: %v", err)
		}
		if out.device != "/dev/sda2" || out.vg != "vg0" || out.pass == nil || *out.pass != "hunter2" {
			t.Errorf("unexpected parse result: %+v", out)
		}
	})

	t.Run("keyfile form", func(t *testing.T) {
		out, err := parseDecrypt("/dev/sda2:vg0:keyfile=/root/key")
		if err != nil {
			t.Fatalf("parseDecrypt: %v", err)
		}
		if out.keyfile == nil || *out.keyfile != "/root/key" {
			t.Errorf("unexpected parse result: %+v", out)
		}
	})

	t.Run("requires exactly one credential form", func(t *testing.T) {
		if _, err := parseDecrypt("/dev/sda2:vg0"); err == nil {
			t.Fatal("expected error when neither pass= nor keyfile= is given")
		}
		if _, err := parseDecrypt("/dev/sda2:vg0:pass=a:keyfile=b"); err == nil {
			t.Fatal("expected error when both pass= and keyfile= are given")
		}
	})
}
