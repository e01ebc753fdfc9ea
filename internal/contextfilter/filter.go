// Package contextfilter narrows configured groups to those eligible in the
// current desktop context (frontmost application and weekday).
package contextfilter

import (
	"context"
	"runtime"
	"slices"
	"strings"
	"time"

	"keyflow/internal/model"
)

// Snapshot is the context a filter decision is made against.
// An empty FrontmostApp means the frontmost application is unknown.
type Snapshot struct {
	FrontmostApp string
	Weekday      time.Weekday
}

// Provider supplies the current context on demand.
type Provider interface {
	Current(ctx context.Context) (Snapshot, error)
}

// caseInsensitiveApps is true where app identifiers are executable names.
var caseInsensitiveApps = runtime.GOOS == "windows"

// Filter returns the groups whose rule admits snap, preserving input order.
func Filter(groups []model.Group, snap Snapshot) []model.Group {
	out := make([]model.Group, 0, len(groups))
	for _, g := range groups {
		if Eligible(g.Rule, snap) {
			out = append(out, g)
		}
	}
	return out
}

// Eligible reports whether rule admits snap.
func Eligible(rule model.Rule, snap Snapshot) bool {
	if len(rule.Applications) > 0 {
		if snap.FrontmostApp == "" || !matchesApplication(rule.Applications, snap.FrontmostApp) {
			return false
		}
	}
	if len(rule.Days) > 0 && !slices.Contains(rule.Days, snap.Weekday) {
		return false
	}
	return true
}

func matchesApplication(apps []string, frontmost string) bool {
	for _, app := range apps {
		if app == frontmost {
			return true
		}
		if caseInsensitiveApps && strings.EqualFold(app, frontmost) {
			return true
		}
	}
	return false
}
