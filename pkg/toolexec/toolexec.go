// Package toolexec wraps every external tool invocation (sgdisk, mkfs.*,
// mount, cryptsetup, pvcreate, blkid, udevadm, ...) behind one call so
// failures come back as a single errs.InstallError shape instead of a
// dozen ad-hoc fmt.Errorf("failed to run %s: %w\nOutput: %s", ...) sites.
package toolexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/frostyard/dinst/pkg/errs"
	"github.com/frostyard/dinst/pkg/types"
)

// Runner executes external tools with a context deadline and turns
// non-zero exits into errs.ToolFailure.
type Runner struct {
	// DryRun logs the command it would run instead of executing it.
	// Nothing in this package sets it; callers that need a dry-run
	// install path construct a Runner with DryRun: true directly.
	DryRun bool
}

func NewRunner() *Runner {
	return &Runner{}
}

// Run executes tool with args under ctx and returns its stdout.
// A non-zero exit is reported as errs.ToolFailure(step, tool, code, stderr);
// a tool that isn't on PATH is reported as errs.KindExternalToolFailure too,
// with exit code -1.
func (r *Runner) Run(ctx context.Context, step types.Step, tool string, args ...string) (string, error) {
	if r.DryRun {
		return "", nil
	}

	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", errs.ToolFailure(step, tool, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", errs.ToolFailure(step, tool, -1, err.Error())
	}
	return string(out), nil
}

// RunQuiet is Run with stdout discarded, for commands invoked only for
// their side effect (partprobe, udevadm settle, vgchange -an).
func (r *Runner) RunQuiet(ctx context.Context, step types.Step, tool string, args ...string) error {
	_, err := r.Run(ctx, step, tool, args...)
	return err
}

// RunStdin is Run with stdin fed from the given string, for commands
// that take sensitive input that way instead of as an argument
// (cryptsetup luksFormat --key-file=-, chpasswd -R).
func (r *Runner) RunStdin(ctx context.Context, step types.Step, stdin string, tool string, args ...string) (string, error) {
	if r.DryRun {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", errs.ToolFailure(step, tool, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", errs.ToolFailure(step, tool, -1, err.Error())
	}
	return string(out), nil
}

// RunEnv is Run with extra environment variables appended to the
// current process environment, for collaborators that pass state
// (hostname, locale, UUIDs) to a script instead of command-line args.
func (r *Runner) RunEnv(ctx context.Context, step types.Step, env []string, tool string, args ...string) (string, error) {
	if r.DryRun {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Env = append(os.Environ(), env...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", errs.ToolFailure(step, tool, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", errs.ToolFailure(step, tool, -1, err.Error())
	}
	return string(out), nil
}

// LookPath reports whether tool is resolvable on PATH.
func (r *Runner) LookPath(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

// RequiredTools is the set of external binaries the installer depends on
// across partitioning, formatting, encryption, LVM, and bootloader setup.
var RequiredTools = []string{
	"sgdisk",
	"mkfs.vfat",
	"mkfs.ext4",
	"mount",
	"umount",
	"blkid",
	"partprobe",
	"udevadm",
	"rsync",
	"cryptsetup",
	"pvcreate",
	"vgcreate",
	"lvcreate",
	"vgchange",
	"vgs",
	"pvs",
	"lvs",
	"unsquashfs",
}

// CheckRequiredTools reports every required tool missing from PATH as a
// single combined error, or nil if all are present.
func (r *Runner) CheckRequiredTools() error {
	var missing []string
	for _, tool := range RequiredTools {
		if !r.LookPath(tool) {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return errs.Wrap(types.StepInit, errs.KindIO, "", fmt.Errorf("missing required tools: %s", strings.Join(missing, ", ")))
	}
	return nil
}
