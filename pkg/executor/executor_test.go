package executor

import (
	"os"
	"testing"

	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/probe"
	"github.com/frostyard/dinst/pkg/reporter"
	"github.com/frostyard/dinst/pkg/toolexec"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:              "Idle",
		StatePlanning:          "Planning",
		StatePartitioning:      "Partitioning",
		StateExtracting:        "Extracting",
		StateConfiguring:       "Configuring",
		StateBootloaderInstall: "BootloaderInstall",
		StateDone:              "Done",
		StateFailed:            "Failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestFlagHas(t *testing.T) {
	f := FlagKeepOldRoot | FlagRunUbuntuDrivers
	if !f.Has(FlagKeepOldRoot) {
		t.Error("expected FlagKeepOldRoot set")
	}
	if f.Has(FlagModifyBootOrder) {
		t.Error("did not expect FlagModifyBootOrder set")
	}
}

func TestNewInstallerStartsIdle(t *testing.T) {
	in := New(toolexec.NewRunner(), probe.New(toolexec.NewRunner()), reporter.NewTextReporter(nil))
	if in.State() != StateIdle {
		t.Errorf("expected new installer to start Idle, got %s", in.State())
	}
}

func TestReadManifestLinesSkipsBlankAndComments(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/manifest.txt"
	content := "pkg-a\n\n# a comment\npkg-b\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := readManifestLines(path)
	if len(got) != 2 || got[0] != "pkg-a" || got[1] != "pkg-b" {
		t.Errorf("readManifestLines = %v", got)
	}
}

func TestReadManifestLinesMissingFile(t *testing.T) {
	if got := readManifestLines("/nonexistent/path/manifest.txt"); got != nil {
		t.Errorf("expected nil for missing manifest, got %v", got)
	}
}

func diskWithRoot(isSource bool, formatWith model.Filesystem) *model.Disks {
	d := model.NewDisk("/dev/sda")
	d.AddProbedPartition(&model.Partition{
		Number:     1,
		Start:      2048,
		End:        1000000,
		Type:       model.TypePrimary,
		Filesystem: model.FsEXT4,
		MountPoint: "/",
		FormatWith: formatWith,
		IsSource:   isSource,
		DetectedOS: "Ubuntu",
	})
	disks := model.New()
	disks.Push(d)
	return disks
}

func TestOldRootToBackUp_RefreshReformat(t *testing.T) {
	r := &install{disks: diskWithRoot(true, model.FsEXT4)}
	root := r.oldRootToBackUp()
	if root == nil {
		t.Fatal("expected a pre-existing root scheduled for reformat")
	}
	if root.DevicePath() != "/dev/sda1" {
		t.Errorf("DevicePath() = %q, want /dev/sda1", root.DevicePath())
	}
}

func TestOldRootToBackUp_NoReformatIsNil(t *testing.T) {
	r := &install{disks: diskWithRoot(true, model.FsNone)}
	if root := r.oldRootToBackUp(); root != nil {
		t.Errorf("expected nil when root isn't being reformatted, got %v", root)
	}
}

func TestOldRootToBackUp_FreshPartitionIsNil(t *testing.T) {
	r := &install{disks: diskWithRoot(false, model.FsEXT4)}
	if root := r.oldRootToBackUp(); root != nil {
		t.Errorf("expected nil for a brand new (non-IsSource) root, got %v", root)
	}
}

func TestStageBackup_NoOpWithoutFlag(t *testing.T) {
	r := &install{
		in:    New(toolexec.NewRunner(), probe.New(toolexec.NewRunner()), reporter.NewTextReporter(nil)),
		disks: diskWithRoot(true, model.FsEXT4),
		cfg:   Config{OldRoot: "/tmp/old-root"},
	}
	if err := r.stageBackup(); err != nil {
		t.Fatalf("stageBackup without FlagKeepOldRoot: %v", err)
	}
}

func TestStageBackup_NoOpWithoutOldRoot(t *testing.T) {
	r := &install{
		in:    New(toolexec.NewRunner(), probe.New(toolexec.NewRunner()), reporter.NewTextReporter(nil)),
		disks: diskWithRoot(true, model.FsEXT4),
		cfg:   Config{Flags: FlagKeepOldRoot},
	}
	if err := r.stageBackup(); err != nil {
		t.Fatalf("stageBackup without Config.OldRoot: %v", err)
	}
}
