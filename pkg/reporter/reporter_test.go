package reporter

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/frostyard/dinst/pkg/types"
)

func TestTextReporter_Step(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)

	r.Step(types.StepPartition, 1, 3)

	got := buf.String()
	want := "Step 1/3: PARTITION...\n"
	if got != want {
		t.Errorf("Step output = %q, want %q", got, want)
	}
}

func TestTextReporter_StepAddsNewlineAfterFirst(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)

	r.Step(types.StepInit, 1, 3)
	r.Step(types.StepPartition, 2, 3)
	r.Step(types.StepExtract, 3, 3)

	got := buf.String()
	want := "Step 1/3: INIT...\n\nStep 2/3: PARTITION...\n\nStep 3/3: EXTRACT...\n"
	if got != want {
		t.Errorf("Step output = %q, want %q", got, want)
	}
}

func TestTextReporter_Progress(t *testing.T) {
	t.Run("non-empty message", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewTextReporter(&buf)

		r.Progress(types.StepExtract, 50, "halfway there")

		got := buf.String()
		want := "  halfway there\n"
		if got != want {
			t.Errorf("Progress output = %q, want %q", got, want)
		}
	})

	t.Run("empty message prints nothing", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewTextReporter(&buf)

		r.Progress(types.StepExtract, 50, "")

		if got := buf.String(); got != "" {
			t.Errorf("Progress with empty message should produce no output, got %q", got)
		}
	})
}

func TestTextReporter_Error(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)

	r.Error(types.StepPartition, "TooSmall", "/dev/loop0p2", errors.New("need 512M"))

	got := buf.String()
	want := "Error: PARTITION: TooSmall: /dev/loop0p2: need 512M\n"
	if got != want {
		t.Errorf("Error output = %q, want %q", got, want)
	}
}

func TestTextReporter_Complete(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)

	r.Complete("Installation complete!", nil)

	sep := "================================================================="
	want := "\n" + sep + "\n" + "Installation complete!" + "\n" + sep + "\n"
	if got := buf.String(); got != want {
		t.Errorf("Complete output = %q, want %q", got, want)
	}
}

func TestTextReporter_IsJSON(t *testing.T) {
	if (&TextReporter{}).IsJSON() {
		t.Error("TextReporter.IsJSON() = true, want false")
	}
}

func TestJSONReporter_Step(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf)

	r.Step(types.StepConfigure, 4, 5)

	var event types.ProgressEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if event.Type != types.EventTypeStep {
		t.Errorf("event.Type = %q, want %q", event.Type, types.EventTypeStep)
	}
	if event.Step != types.StepConfigure {
		t.Errorf("event.Step = %q, want %q", event.Step, types.StepConfigure)
	}
	if event.StepIndex != 4 || event.TotalSteps != 5 {
		t.Errorf("event.StepIndex/TotalSteps = %d/%d, want 4/5", event.StepIndex, event.TotalSteps)
	}
	if event.Timestamp == "" {
		t.Error("event.Timestamp should not be empty")
	}
}

func TestJSONReporter_Error(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf)

	r.Error(types.StepBootloader, "BootloaderRequirementUnmet", "/dev/loop0", errors.New("no ESP"))

	var event types.ProgressEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if event.Type != types.EventTypeError {
		t.Errorf("event.Type = %q, want %q", event.Type, types.EventTypeError)
	}
	if event.ErrorKind != "BootloaderRequirementUnmet" {
		t.Errorf("event.ErrorKind = %q", event.ErrorKind)
	}
	if event.Device != "/dev/loop0" {
		t.Errorf("event.Device = %q", event.Device)
	}
	if event.Message != "no ESP" {
		t.Errorf("event.Message = %q", event.Message)
	}
}

func TestJSONReporter_MultipleEvents(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf)

	r.Step(types.StepInit, 1, 2)
	r.Message("info")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d: %q", len(lines), buf.String())
	}

	var event1 types.ProgressEvent
	if err := json.Unmarshal([]byte(lines[0]), &event1); err != nil {
		t.Fatalf("failed to parse first JSON line: %v", err)
	}
	if event1.Type != types.EventTypeStep {
		t.Errorf("first event type = %q, want %q", event1.Type, types.EventTypeStep)
	}

	var event2 types.ProgressEvent
	if err := json.Unmarshal([]byte(lines[1]), &event2); err != nil {
		t.Fatalf("failed to parse second JSON line: %v", err)
	}
	if event2.Type != types.EventTypeMessage {
		t.Errorf("second event type = %q, want %q", event2.Type, types.EventTypeMessage)
	}
}

func TestNoopReporter(t *testing.T) {
	r := NoopReporter{}

	r.Step(types.StepInit, 1, 3)
	r.Progress(types.StepInit, 50, "test")
	r.Message("hello %s", "world")
	r.MessagePlain("hello %s", "world")
	r.Warning("careful %s", "now")
	r.Log(types.LogInfo, "info %s", "line")
	r.Error(types.StepInit, "IoError", "", errors.New("boom"))
	r.Complete("done", nil)

	if r.IsJSON() {
		t.Error("NoopReporter.IsJSON() = true, want false")
	}
}
