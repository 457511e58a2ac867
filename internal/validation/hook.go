package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"engram/internal/logging"
)

// hookMarker identifies an engram-managed hook script. Install refuses to
// overwrite a foreign hook; Uninstall removes only marked scripts.
const hookMarker = "ENGRAM_PRE_COMMIT_HOOK"

const hookScript = `#!/usr/bin/env bash
# ` + hookMarker + `
# Installed by "engram hook install". Validates the pending commit message
# against the engram rule set. Remove with "engram hook uninstall".
msg_file="$(git rev-parse --git-dir)/COMMIT_EDITMSG"
if [ -f "$msg_file" ]; then
    exec engram validate --message-file "$msg_file"
fi
exit 0
`

func hookPath(workspace string) string {
	return filepath.Join(workspace, ".git", "hooks", "pre-commit")
}

// InstallHook writes the pre-commit hook script into the workspace's git
// hooks directory.
func InstallHook(workspace string) error {
	path := hookPath(workspace)

	if content, err := os.ReadFile(path); err == nil {
		if !strings.Contains(string(content), hookMarker) {
			return fmt.Errorf("refusing to overwrite existing pre-commit hook at %s", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create hooks directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hookScript), 0755); err != nil {
		return fmt.Errorf("failed to write hook: %w", err)
	}

	logging.Get(logging.CategoryHook).Info("Installed pre-commit hook at %s", path)
	return nil
}

// HookInstalled reports whether an engram-managed hook is present.
func HookInstalled(workspace string) (bool, error) {
	content, err := os.ReadFile(hookPath(workspace))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read hook: %w", err)
	}
	return strings.Contains(string(content), hookMarker), nil
}

// UninstallHook removes the hook if engram installed it.
func UninstallHook(workspace string) error {
	path := hookPath(workspace)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read hook: %w", err)
	}
	if !strings.Contains(string(content), hookMarker) {
		return fmt.Errorf("pre-commit hook at %s was not installed by engram", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove hook: %w", err)
	}
	logging.Get(logging.CategoryHook).Info("Removed pre-commit hook at %s", path)
	return nil
}
