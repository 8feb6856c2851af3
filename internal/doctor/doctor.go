package doctor

import (
	"encoding/json"
	"fmt"
	"os"

	"claudecfg/internal/config"
	"claudecfg/internal/scope"
	"claudecfg/internal/store"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Report struct {
	Healthy      bool      `json:"healthy"`
	Findings     []Finding `json:"findings"`
	CheckedFiles []string  `json:"checkedFiles,omitempty"`
}

// Service inspects the tool config and every reachable settings file and
// reports what a load would silently degrade. The engine never fails on
// a corrupt settings file; doctor is where that corruption becomes
// visible.
type Service struct {
	ConfigPath  string
	Store       *store.Store
	ProjectRoot string
}

func (s *Service) Run() Report {
	findings := []Finding{}
	var checked []string

	if _, err := os.Stat(s.ConfigPath); err != nil {
		findings = append(findings, Finding{Code: "DOC_CONFIG_MISSING", Level: "warn", Message: err.Error()})
	} else if _, err := config.Load(s.ConfigPath); err != nil {
		findings = append(findings, Finding{Code: "DOC_CONFIG_INVALID", Level: "error", Message: err.Error()})
	}

	scopes := []scope.Scope{scope.User(), scope.UserMCP()}
	if s.ProjectRoot != "" {
		scopes = append(scopes, scope.ProjectScopes(s.ProjectRoot)...)
	} else {
		findings = append(findings, Finding{
			Code:    "DOC_NO_PROJECT",
			Level:   "info",
			Message: "no project root; only user scopes checked",
		})
	}

	for _, sc := range scopes {
		path := s.Store.Path(sc)
		checked = append(checked, path)
		findings = append(findings, checkFile(sc, path)...)
	}

	healthy := true
	for _, f := range findings {
		if f.Level == "error" {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings, CheckedFiles: checked}
}

func checkFile(sc scope.Scope, path string) []Finding {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return []Finding{{
			Code:    "DOC_SCOPE_MISSING",
			Level:   "info",
			Message: fmt.Sprintf("%s: %s does not exist", sc.Kind, path),
		}}
	}
	if err != nil {
		return []Finding{{
			Code:    "DOC_SCOPE_STAT",
			Level:   "error",
			Message: fmt.Sprintf("%s: %v", sc.Kind, err),
		}}
	}
	if info.IsDir() {
		return []Finding{{
			Code:    "DOC_SCOPE_NOT_FILE",
			Level:   "error",
			Message: fmt.Sprintf("%s: %s is a directory", sc.Kind, path),
		}}
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return []Finding{{
			Code:    "DOC_SCOPE_READ",
			Level:   "error",
			Message: fmt.Sprintf("%s: %v", sc.Kind, err),
		}}
	}
	var doc map[string]any
	if err := json.Unmarshal(blob, &doc); err != nil {
		return []Finding{{
			Code:    "DOC_SCOPE_CORRUPT",
			Level:   "error",
			Message: fmt.Sprintf("%s: %s: %v", sc.Kind, path, err),
		}}
	}
	return nil
}
