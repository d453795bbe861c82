package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rohan/waypoint/internal/schema"
)

func TestPromptManager_GetRolePrompt(t *testing.T) {
	tempDir := t.TempDir()

	files := map[string]string{
		"identity.md":     "Identity Content",
		"capabilities.md": "Capabilities Content",
		"planner.md":      "Planner Directive",
		"navigator.md":    "Navigator Directive",
	}

	for name, content := range files {
		err := os.WriteFile(filepath.Join(tempDir, name), []byte(content), 0644)
		if err != nil {
			t.Fatal(err)
		}
	}

	pm := NewPromptManager(tempDir)

	prompt, err := pm.GetRolePrompt(schema.RolePlanner)
	if err != nil {
		t.Fatal(err)
	}

	for _, part := range []string{"Identity Content", "Capabilities Content", "Planner Directive"} {
		if !strings.Contains(prompt, part) {
			t.Errorf("Planner prompt missing expected part: %s", part)
		}
	}
	if strings.Contains(prompt, "Navigator Directive") {
		t.Error("Planner prompt should not include the navigator directive")
	}

	// Verify order: shared context precedes the role directive
	if strings.Index(prompt, "Identity Content") >= strings.Index(prompt, "Capabilities Content") {
		t.Error("Identity should be before Capabilities")
	}
	if strings.Index(prompt, "Capabilities Content") >= strings.Index(prompt, "Planner Directive") {
		t.Error("Shared context should be before the role directive")
	}

	navPrompt, err := pm.GetRolePrompt(schema.RoleNavigator)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(navPrompt, "Navigator Directive") {
		t.Error("Navigator prompt missing its directive")
	}
	if strings.Contains(navPrompt, "Planner Directive") {
		t.Error("Navigator prompt should not include the planner directive")
	}
}

func TestPromptManager_MissingRoleFile(t *testing.T) {
	pm := NewPromptManager(t.TempDir())
	if _, err := pm.GetRolePrompt(schema.RolePlanner); err == nil {
		t.Error("expected error for missing planner.md")
	}
}
