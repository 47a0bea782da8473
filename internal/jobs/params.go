package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Sync modes accepted by publish.
var syncModes = []string{"Add", "Clean", "Development", "ForceSync"}

// DefaultSyncMode is used when PublishParams.SyncMode is empty.
const DefaultSyncMode = "Add"

// ParamError reports an invalid operation parameter.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CompileParams configures a compile.
type CompileParams struct {
	AppFolder        string
	PackageCachePath string
	OutputFolder     string
}

// PublishParams configures a publish.
type PublishParams struct {
	AppFolder string

	// AppFile publishes an existing .app instead of compiling AppFolder.
	AppFile  string
	SyncMode string
}

// TestParams configures a test run or execution.
type TestParams struct {
	AppFolder   string
	CodeunitIDs []int
	MethodName  string

	// ExtensionID limits execution to one app's test codeunits.
	ExtensionID string
}

func (p *CompileParams) payload() (map[string]any, error) {
	folder, err := resolveFolder("app folder", p.AppFolder)
	if err != nil {
		return nil, err
	}

	m := map[string]any{"appFolder": folder}

	if p.PackageCachePath != "" {
		m["packageCachePath"] = absPath(p.PackageCachePath)
	}

	if p.OutputFolder != "" {
		m["outputFolder"] = absPath(p.OutputFolder)
	}

	return m, nil
}

func (p *PublishParams) payload() (map[string]any, error) {
	mode := p.SyncMode
	if mode == "" {
		mode = DefaultSyncMode
	}

	idx := slices.IndexFunc(syncModes, func(s string) bool { return strings.EqualFold(s, mode) })
	if idx < 0 {
		return nil, &ParamError{Field: "sync mode", Reason: fmt.Sprintf("%q is not one of %s", mode, strings.Join(syncModes, ", "))}
	}

	m := map[string]any{"syncMode": syncModes[idx]}

	if p.AppFile != "" {
		info, err := os.Stat(p.AppFile)
		if err != nil || info.IsDir() || !strings.EqualFold(filepath.Ext(p.AppFile), ".app") {
			return nil, &ParamError{Field: "app file", Reason: fmt.Sprintf("%s is not an .app file", p.AppFile)}
		}

		m["appFile"] = absPath(p.AppFile)

		return m, nil
	}

	folder, err := resolveFolder("app folder", p.AppFolder)
	if err != nil {
		return nil, err
	}

	m["appFolder"] = folder

	return m, nil
}

func (p *TestParams) payload() (map[string]any, error) {
	folder, err := resolveFolder("app folder", p.AppFolder)
	if err != nil {
		return nil, err
	}

	for _, id := range p.CodeunitIDs {
		if id <= 0 {
			return nil, &ParamError{Field: "codeunit id", Reason: fmt.Sprintf("%d is not a positive object id", id)}
		}
	}

	if p.MethodName != "" && len(p.CodeunitIDs) != 1 {
		return nil, &ParamError{Field: "method", Reason: "a method filter needs exactly one codeunit"}
	}

	m := map[string]any{"appFolder": folder}

	if len(p.CodeunitIDs) > 0 {
		m["codeunitIds"] = slices.Clone(p.CodeunitIDs)
	}

	if p.MethodName != "" {
		m["methodName"] = p.MethodName
	}

	if p.ExtensionID != "" {
		m["extensionId"] = p.ExtensionID
	}

	return m, nil
}

// resolveFolder requires dir to be an existing directory holding app.json.
func resolveFolder(field, dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}

	abs := absPath(dir)

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", &ParamError{Field: field, Reason: fmt.Sprintf("%s is not a directory", dir)}
	}

	if _, err := os.Stat(filepath.Join(abs, "app.json")); err != nil {
		return "", &ParamError{Field: field, Reason: fmt.Sprintf("%s has no app.json", dir)}
	}

	return abs, nil
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}

	return abs
}
