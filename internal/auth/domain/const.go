// Package domain defines capability token and caller identity domain models.
// A capability token scopes one session to one user, one domain and a fixed set of actions.
package domain

import (
	"fmt"
	"strings"
)

// Action is a kind of browser interaction a session may be permitted to perform.
// The set is closed: only the constants below are valid.
type Action string

const (
	// OpenAction navigates the page to the requested URL.
	OpenAction Action = "open"

	// FillAction types values into form fields.
	FillAction Action = "fill"

	// UploadAction attaches files to file inputs.
	UploadAction Action = "upload"

	// ClickAction clicks the submit control.
	ClickAction Action = "click"
)

// AllActions lists the closed action set in canonical order.
var AllActions = []Action{OpenAction, FillAction, UploadAction, ClickAction}

// Valid reports whether a is a member of the closed action set.
func (a Action) Valid() bool {
	switch a {
	case OpenAction, FillAction, UploadAction, ClickAction:
		return true
	}
	return false
}

// ParseActions converts raw strings into actions, rejecting unknown or duplicated kinds.
// Order is preserved.
func ParseActions(raw []string) ([]Action, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one action is required")
	}

	seen := make(map[Action]struct{}, len(raw))
	actions := make([]Action, 0, len(raw))
	for _, r := range raw {
		a := Action(strings.ToLower(strings.TrimSpace(r)))
		if !a.Valid() {
			return nil, fmt.Errorf("unknown action %q", r)
		}
		if _, dup := seen[a]; dup {
			return nil, fmt.Errorf("duplicate action %q", r)
		}
		seen[a] = struct{}{}
		actions = append(actions, a)
	}

	return actions, nil
}

// ActionStrings converts actions to their string form.
func ActionStrings(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

// ContainsAll reports whether every action in subset is present in set.
func ContainsAll(set, subset []Action) bool {
	for _, s := range subset {
		found := false
		for _, a := range set {
			if a == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
