// Package deps checks the external tools the client shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"ogreclient/internal/config"
)

// Requirement defines an external binary the client relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of one requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements derives the active requirement set from config.
func Requirements(cfg *config.Config) []Requirement {
	command := cfg.Calibre.EbookMetaBin
	if command == "" {
		command = "ebook-meta"
	}
	reqs := []Requirement{
		{
			Name:        "calibre",
			Command:     command,
			Description: "metadata extraction and tag writes (ebook-meta)",
		},
	}
	reqs = append(reqs, Requirement{
		Name:        "dedrm",
		Command:     cfg.DeDRM.Binary,
		Description: "DRM removal tool",
		Optional:    !cfg.DeDRM.Enabled,
	})
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable non-optional tools.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Optional && !status.Available {
			missing = append(missing, status.Name)
		}
	}
	return missing
}
