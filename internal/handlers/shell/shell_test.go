package shell

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ok, _ := json.Marshal(Cmd{Command: "sh", Args: []string{"-c", `test "$ERRAND" = yes`}, Env: map[string]string{"ERRAND": "yes"}})
	if err := (Shell{}).Handle(context.Background(), ok); err != nil {
		t.Fatalf("Handle err=%v", err)
	}

	fail, _ := json.Marshal(Cmd{Command: "sh", Args: []string{"-c", "echo broken; exit 3"}})
	err := (Shell{}).Handle(context.Background(), fail)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("Handle err=%v, want failure carrying output", err)
	}
}

func TestHandleRequiresCommand(t *testing.T) {
	t.Parallel()
	if err := (Shell{}).Handle(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for missing command")
	}
	if err := (Shell{}).Handle(context.Background(), json.RawMessage(`[`)); err == nil {
		t.Fatal("expected error for bad payload")
	}
}
