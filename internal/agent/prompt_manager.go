package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rohan/waypoint/internal/schema"
)

// roleFiles are the per-role prompt files; everything else in the
// directory is shared context prepended to both roles.
var roleFiles = map[string]bool{
	"planner.md":   true,
	"navigator.md": true,
}

type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetRolePrompt assembles a role's system prompt: the shared prompt
// files in deterministic order, then the role's own file.
func (pm *PromptManager) GetRolePrompt(role schema.Role) (string, error) {
	shared, err := pm.sharedPrompt()
	if err != nil {
		log.Printf("Warning: failed to load shared prompts: %v", err)
	}

	roleFile := "planner.md"
	if role == schema.RoleNavigator {
		roleFile = "navigator.md"
	}
	data, err := os.ReadFile(filepath.Join(pm.Directory, roleFile))
	if err != nil {
		return "", fmt.Errorf("failed to read %s prompt: %v", role, err)
	}

	if shared == "" {
		return string(data), nil
	}
	return shared + "\n\n---\n\n" + string(data), nil
}

func (pm *PromptManager) sharedPrompt() (string, error) {
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %v", err)
	}

	// Sort files to ensure deterministic prompt order:
	// identity, capabilities, then anything else alphabetically.
	order := map[string]int{
		"identity.md":     1,
		"capabilities.md": 2,
		"user.md":         3,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".md") || roleFiles[name] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", name, err)
			continue
		}
		contents = append(contents, string(data))
	}

	return strings.Join(contents, "\n\n---\n\n"), nil
}
