package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frostyard/dinst/pkg/model"
	"github.com/frostyard/dinst/pkg/probe"
	"github.com/frostyard/dinst/pkg/toolexec"
	"github.com/frostyard/dinst/pkg/types"
)

var probeCmd = &cobra.Command{
	Use:     "probe",
	Aliases: []string{"list", "disks"},
	Short:   "Probe and list the machine's block devices",
	Long: `Probe reads the current partition table, filesystem, mount and LVM
state of every block device on the machine and prints it.

With --json, output is a types.ListOutput suitable for a driver to parse
instead of a human reading it.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	jsonOutput := viper.GetBool("json")

	prober := probe.New(toolexec.NewRunner())
	disks, err := prober.Probe(context.Background(), false)
	if err != nil {
		if jsonOutput {
			return outputJSONError("failed to probe disks", err)
		}
		return fmt.Errorf("failed to probe disks: %w", err)
	}

	if jsonOutput {
		return outputJSON(toListOutput(disks))
	}

	printDisks(disks)
	return nil
}

func toListOutput(disks *model.Disks) types.ListOutput {
	out := types.ListOutput{Disks: make([]types.DiskOutput, 0, len(disks.List()))}
	for _, d := range disks.List() {
		diskOut := types.DiskOutput{
			Device:      d.DevicePath,
			Model:       d.Model,
			Serial:      d.Serial,
			Size:        d.TotalSectors * d.SectorSize,
			SizeHuman:   formatSize(d.TotalSectors * d.SectorSize),
			SectorSize:  d.SectorSize,
			Table:       string(d.Table),
			IsRemovable: d.Removable,
			Partitions:  make([]types.PartitionOutput, 0, len(d.Partitions)),
		}
		for _, p := range d.ListPartitions() {
			size := p.Sectors() * d.SectorSize
			flags := make([]string, 0, len(p.Flags))
			for _, f := range p.Flags {
				flags = append(flags, string(f))
			}
			diskOut.Partitions = append(diskOut.Partitions, types.PartitionOutput{
				Number:     p.Number,
				Device:     p.DevicePath(),
				Start:      p.Start,
				End:        p.End,
				Size:       size,
				SizeHuman:  formatSize(size),
				Filesystem: string(p.Filesystem),
				Label:      p.Label,
				MountPoint: p.MountPoint,
				Flags:      flags,
			})
		}
		out.Disks = append(out.Disks, diskOut)
	}
	return out
}

// formatSize renders a byte count as a human-readable string, matching
// the teacher's FormatSize scale (binary units, one decimal place).
func formatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func printDisks(disks *model.Disks) {
	if len(disks.List()) == 0 {
		fmt.Println("No disks found.")
		return
	}

	fmt.Println("Available disks:")
	fmt.Println()
	for _, d := range disks.List() {
		fmt.Printf("Device: %s\n", d.DevicePath)
		fmt.Printf("  Size:      %s (%d bytes)\n", formatSize(d.TotalSectors*d.SectorSize), d.TotalSectors*d.SectorSize)
		if d.Model != "" {
			fmt.Printf("  Model:     %s\n", d.Model)
		}
		fmt.Printf("  Table:     %s\n", d.Table)
		fmt.Printf("  Removable: %v\n", d.Removable)

		parts := d.ListPartitions()
		if len(parts) == 0 {
			fmt.Printf("  Partitions: none\n")
			fmt.Println()
			continue
		}
		fmt.Printf("  Partitions:\n")
		for _, p := range parts {
			fmt.Printf("    %d: %s (%s)", p.Number, p.DevicePath(), formatSize(p.Sectors()*d.SectorSize))
			if p.Filesystem != model.FsNone {
				fmt.Printf(" [%s]", p.Filesystem)
			}
			if p.MountPoint != "" {
				fmt.Printf(" mounted at %s", p.MountPoint)
			}
			fmt.Println()
		}
		fmt.Println()
	}

	for _, vg := range disks.ListLogical() {
		fmt.Printf("Volume group: %s (%s)\n", vg.VGName, formatSize(vg.Sectors*vg.SectorSize))
		for _, lv := range vg.LogicalVolumes {
			fmt.Printf("  %s: %s", lv.Label, formatSize(lv.Sectors()*vg.SectorSize))
			if lv.MountPoint != "" {
				fmt.Printf(" mounted at %s", lv.MountPoint)
			}
			fmt.Println()
		}
		fmt.Println()
	}
}

// outputJSON writes data as indented JSON to stdout, matching the
// teacher's list.go helper of the same name and signature.
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputJSONError writes a structured JSON error object to stdout and
// still returns a Go error so the process exits non-zero.
func outputJSONError(message string, err error) error {
	errOutput := map[string]interface{}{
		"error":   true,
		"message": message,
		"details": err.Error(),
	}
	_ = outputJSON(errOutput)
	return fmt.Errorf("%s: %w", message, err)
}
