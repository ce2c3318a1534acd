// Package types provides JSON wire types for dinst's streaming progress
// output and structured command results.
//
// External tools that drive dinst non-interactively (installers, test
// harnesses) parse these types from the --json output of the CLI.
//
// Example usage:
//
//	import "github.com/frostyard/dinst/pkg/types"
//
//	var ev types.ProgressEvent
//	json.Unmarshal(line, &ev)
package types

// EventType identifies the kind of a single streamed progress event.
type EventType string

const (
	EventTypeStep     EventType = "step"
	EventTypeProgress EventType = "progress"
	EventTypeMessage  EventType = "message"
	EventTypeWarning  EventType = "warning"
	EventTypeError    EventType = "error"
	EventTypeComplete EventType = "complete"
)

// Step identifies an executor stage. Stages run INIT, then BACKUP (only
// when a refresh install keeps its old root), then PARTITION, EXTRACT,
// CONFIGURE and BOOTLOADER.
type Step string

const (
	StepBackup      Step = "BACKUP"
	StepInit        Step = "INIT"
	StepPartition   Step = "PARTITION"
	StepExtract     Step = "EXTRACT"
	StepConfigure   Step = "CONFIGURE"
	StepBootloader  Step = "BOOTLOADER"
)

// LogLevel mirrors the severity scale of the log callback.
type LogLevel string

const (
	LogTrace LogLevel = "TRACE"
	LogDebug LogLevel = "DEBUG"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// ProgressEvent is a single line of JSON Lines output for streaming
// progress, emitted by the executor's status/error callbacks.
type ProgressEvent struct {
	Type       EventType `json:"type"`
	Timestamp  string    `json:"timestamp"`
	Step       Step      `json:"step,omitempty"`
	StepIndex  int       `json:"step_index,omitzero"`
	TotalSteps int       `json:"total_steps,omitzero"`
	Percent    int       `json:"percent,omitzero"`
	Message    string    `json:"message,omitempty"`
	Level      LogLevel  `json:"level,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Device     string    `json:"device,omitempty"`
	Details    any       `json:"details,omitempty"`
}

// PartitionOutput represents a probed or planned partition in JSON output.
type PartitionOutput struct {
	Number     int      `json:"number"`
	Device     string   `json:"device"`
	Start      uint64   `json:"start"`
	End        uint64   `json:"end"`
	Size       uint64   `json:"size"`
	SizeHuman  string   `json:"size_human"`
	Filesystem string   `json:"filesystem,omitempty"`
	Label      string   `json:"label,omitempty"`
	MountPoint string   `json:"mount_point,omitempty"`
	Flags      []string `json:"flags,omitzero"`
}

// DiskOutput represents a probed disk in JSON output.
type DiskOutput struct {
	Device      string            `json:"device"`
	Model       string            `json:"model,omitempty"`
	Serial      string            `json:"serial,omitempty"`
	Size        uint64            `json:"size"`
	SizeHuman   string            `json:"size_human"`
	SectorSize  uint64            `json:"sector_size"`
	Table       string            `json:"table"`
	IsRemovable bool              `json:"is_removable"`
	Partitions  []PartitionOutput `json:"partitions"`
}

// ListOutput is the JSON output structure for the probe/list command.
type ListOutput struct {
	Disks []DiskOutput `json:"disks"`
}

// PlanOperationOutput represents a single planned operation in JSON output.
type PlanOperationOutput struct {
	Kind   string `json:"kind"`
	Device string `json:"device"`
	Number int    `json:"number,omitzero"`
	Detail string `json:"detail,omitempty"`
}

// PlanOutput is the JSON output structure of the plan command's --json
// output.
type PlanOutput struct {
	Operations []PlanOperationOutput `json:"operations"`
	DryRun     bool                  `json:"dry_run"`
}
