package collaborator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/frostyard/dinst/pkg/executor"
	"github.com/frostyard/dinst/pkg/toolexec"
)

func TestPrepareMachineIDWritesUninitialized(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "etc"), 0o755); err != nil {
		t.Fatalf("mkdir etc: %v", err)
	}
	if err := prepareMachineID(dir); err != nil {
		t.Fatalf("prepareMachineID: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "etc", "machine-id"))
	if err != nil {
		t.Fatalf("read machine-id: %v", err)
	}
	if string(got) != "uninitialized\n" {
		t.Errorf("machine-id = %q, want \"uninitialized\\n\"", got)
	}
}

func TestPrepareMachineIDLeavesRealIDAlone(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "etc"), 0o755); err != nil {
		t.Fatalf("mkdir etc: %v", err)
	}
	path := filepath.Join(dir, "etc", "machine-id")
	if err := os.WriteFile(path, []byte("abcdef0123456789\n"), 0o444); err != nil {
		t.Fatalf("seed machine-id: %v", err)
	}
	if err := prepareMachineID(dir); err != nil {
		t.Fatalf("prepareMachineID: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read machine-id: %v", err)
	}
	if string(got) != "abcdef0123456789\n" {
		t.Errorf("machine-id was overwritten: %q", got)
	}
}

func TestSetupSystemDirectoriesCreatesExpectedTree(t *testing.T) {
	dir := t.TempDir()
	if err := setupSystemDirectories(dir); err != nil {
		t.Fatalf("setupSystemDirectories: %v", err)
	}
	for _, sub := range []string{"dev", "proc", "sys", "run", "tmp", "var/tmp", "mnt", "media", "opt", "srv"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", sub)
		}
	}
}

func TestChrootConfiguratorSkipsMissingScript(t *testing.T) {
	dir := t.TempDir()
	c := NewChrootConfigurator(toolexec.NewRunner())
	c.ScriptPath = "/usr/lib/dinst/configure"
	err := c.Configure(nil, dir, executor.ConfigureEnv{Hostname: "host"})
	if err != nil {
		t.Errorf("expected nil error when configure script is absent, got %v", err)
	}
}

func TestParsePartitionDeviceTraditional(t *testing.T) {
	disk, num, err := parsePartitionDevice("/dev/sda1")
	if err != nil {
		t.Fatalf("parsePartitionDevice: %v", err)
	}
	if disk != "/dev/sda" || num != "1" {
		t.Errorf("got disk=%q num=%q, want /dev/sda, 1", disk, num)
	}
}

func TestParsePartitionDeviceNVMe(t *testing.T) {
	disk, num, err := parsePartitionDevice("/dev/nvme0n1p2")
	if err != nil {
		t.Fatalf("parsePartitionDevice: %v", err)
	}
	if disk != "/dev/nvme0n1" || num != "2" {
		t.Errorf("got disk=%q num=%q, want /dev/nvme0n1, 2", disk, num)
	}
}

func TestAcquireInhibitorThenConflict(t *testing.T) {
	dir := t.TempDir()
	old := LockDir
	LockDir = dir
	defer func() { LockDir = old }()

	first, err := AcquireInhibitor()
	if err != nil {
		t.Fatalf("AcquireInhibitor: %v", err)
	}
	defer first.Close()

	if _, err := AcquireInhibitor(); err != ErrInhibitHeld {
		t.Errorf("expected ErrInhibitHeld for second acquire, got %v", err)
	}
}

func TestFileInhibitorCloseNil(t *testing.T) {
	var f *FileInhibitor
	if err := f.Close(); err != nil {
		t.Errorf("expected nil closing nil inhibitor, got %v", err)
	}
}
