package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frostyard/dinst/pkg/plan"
	"github.com/frostyard/dinst/pkg/probe"
	"github.com/frostyard/dinst/pkg/toolexec"
)

// newPlanCmd builds the "plan" command, which accepts the same
// partitioning/LVM/encryption flags as install but only ever prints the
// resulting operation sequence; it never extracts, configures or
// installs a bootloader. It exists alongside install's own --test flag
// so a caller can preview a layout without knowing install's full flag
// surface (hostname, locale, squashfs path) up front.
func newPlanCmd() *cobra.Command {
	var f installFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the partitioning plan for a layout without applying it",
		Long: `plan accepts the same partitioning, LVM and encryption flags as
install and prints the ordered operation sequence the planner computed,
without extracting a base system or touching any device.`,
		RunE: func(c *cobra.Command, args []string) error {
			return runPlan(c.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&f.blockDevices, "block-device", "b", nil, "include a block device in the plan (repeatable)")
	flags.StringArrayVarP(&f.mklabel, "mklabel", "t", nil, "DEV:TABLE, write a fresh partition table")
	flags.StringArrayVarP(&f.newPartitions, "new", "n", nil, "DEV:TYPE:START:END:FS[:mount=M][:flags=F1,F2][:lvm=VG][:enc=NAME,VG,pass=P|keyfile=K][:keyid=K]")
	flags.StringArrayVarP(&f.usePartitions, "use", "u", nil, "DEV:NUM:FS|reuse[:mount=M][:flags=F1,F2]")
	flags.StringArrayVarP(&f.deletions, "delete", "d", nil, "DEV:NUM[:NUM], remove existing partitions")
	flags.StringArrayVarP(&f.moves, "move", "m", nil, "DEV:NUM:START:END, move or resize an existing partition")
	flags.StringArrayVar(&f.logicalNew, "logical", nil, "VG:NAME:SIZE:FS[:mount=M], create a logical volume")
	flags.StringArrayVar(&f.logicalModify, "logical-modify", nil, "VG:NAME[:fs=X][:mount=M], modify a logical volume")
	flags.StringArrayVar(&f.logicalRemove, "logical-remove", nil, "VG:NAME, remove a logical volume")
	flags.StringArrayVar(&f.decrypt, "decrypt", nil, "DEV:VG:pass=P|keyfile=K, unlock an existing LUKS container")

	return cmd
}

func init() {
	rootCmd.AddCommand(newPlanCmd())
}

func runPlan(ctx context.Context, f installFlags) error {
	jsonOutput := viper.GetBool("json")

	prober := probe.New(toolexec.NewRunner())
	baseline, err := prober.Probe(ctx, false)
	if err != nil {
		if jsonOutput {
			return outputJSONError("failed to probe disks", err)
		}
		return fmt.Errorf("probe disks: %w", err)
	}

	intended, err := buildIntendedDisks(baseline, f)
	if err != nil {
		if jsonOutput {
			return outputJSONError("failed to build intended layout", err)
		}
		return fmt.Errorf("build intended layout: %w", err)
	}

	builtPlan, err := plan.Build(baseline, intended)
	if err != nil {
		if jsonOutput {
			return outputJSONError("failed to build plan", err)
		}
		return fmt.Errorf("build plan: %w", err)
	}

	out := builtPlan.Output()
	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Planned %d operation(s):\n", len(out.Operations))
	for _, op := range out.Operations {
		if op.Number != 0 {
			fmt.Printf("  %-16s %s:%d %s\n", op.Kind, op.Device, op.Number, op.Detail)
		} else {
			fmt.Printf("  %-16s %s %s\n", op.Kind, op.Device, op.Detail)
		}
	}
	return nil
}
