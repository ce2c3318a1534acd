package collaborator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/frostyard/dinst/pkg/executor"
	"github.com/frostyard/dinst/pkg/toolexec"
	"github.com/frostyard/dinst/pkg/types"
)

// ChrootConfigurator runs a first-boot configuration script inside the
// target root via chroot, passing the installer's resolved state as
// environment variables. Grounded on the teacher's ChrootCommand
// (pkg/container.go) for the chroot invocation shape and
// SetRootPasswordInTarget (pkg/system.go) for passing sensitive state
// through the environment/stdin rather than argv.
//
// The caller (pkg/executor) is responsible for bind-mounting
// dev/proc/sys/run into targetRoot before Configure runs and for
// unmounting them afterward; this type only runs the script.
type ChrootConfigurator struct {
	Exec *toolexec.Runner

	// ScriptPath is the script to run inside the chroot, relative to
	// targetRoot's own root (i.e. as seen from inside the chroot).
	// Defaults to /usr/lib/dinst/configure.
	ScriptPath string
}

func NewChrootConfigurator(exec *toolexec.Runner) *ChrootConfigurator {
	return &ChrootConfigurator{Exec: exec, ScriptPath: "/usr/lib/dinst/configure"}
}

func (c *ChrootConfigurator) Configure(ctx context.Context, targetRoot string, env executor.ConfigureEnv) error {
	script := c.ScriptPath
	if script == "" {
		script = "/usr/lib/dinst/configure"
	}

	envVars := []string{
		"HOSTNAME=" + env.Hostname,
		"LANG=" + env.Lang,
		"KBD_LAYOUT=" + env.KeyboardLayout,
		"KBD_MODEL=" + env.KeyboardModel,
		"KBD_VARIANT=" + env.KeyboardVariant,
		"ROOT_UUID=" + env.RootUUID,
		"EFI_UUID=" + env.EFIUUID,
		"LUKS_UUID=" + env.LuksUUID,
		"RECOVERY_UUID=" + env.RecoveryUUID,
		"PACKAGES_REMOVE=" + strings.Join(env.PackagesRemove, " "),
		"INSTALL_USERNAME=" + env.Username,
		"INSTALL_REALNAME=" + env.Realname,
		"INSTALL_PROFILE_ICON=" + env.ProfileIcon,
		"INSTALL_TIMEZONE=" + env.Timezone,
	}

	if _, err := os.Stat(targetRoot + script); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat configure script: %w", err)
	}

	_, err := c.Exec.RunEnv(ctx, types.StepConfigure, envVars, "chroot", targetRoot, script)
	return err
}
