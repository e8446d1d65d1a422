package tui

import (
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Key scopes.
const (
	scopeDatasets = "datasets"
	scopeRows     = "rows"
	scopeFlag     = "flag"
	scopeMessage  = "message"
)

// Actions.
const (
	actQuit        = "quit"
	actUp          = "up"
	actDown        = "down"
	actOpen        = "open"
	actRefresh     = "refresh"
	actAcceptAll   = "accept-all"
	actBack        = "back"
	actClick       = "click"
	actShiftClick  = "shift-click"
	actClear       = "clear"
	actFlag        = "flag"
	actAccept      = "accept"
	actNextPage    = "next-page"
	actPrevPage    = "prev-page"
	actMarkDone    = "mark-reviewed"
	actNextFlag    = "next-flag"
	actPrevFlag    = "prev-flag"
	actSuggest     = "suggest"
	actConfirm     = "confirm"
	actCancel      = "cancel"
	actOnlyPending = "only-pending"
)

type KeyBinding struct {
	Keys        []string
	Action      string
	Description string
	Scopes      []string
}

type KeyRegistry struct {
	bindings []KeyBinding
}

func NewKeyRegistry(bindings []KeyBinding) *KeyRegistry {
	return &KeyRegistry{bindings: slices.Clone(bindings)}
}

func DefaultKeys() *KeyRegistry {
	return NewKeyRegistry([]KeyBinding{
		{Keys: []string{"ctrl+c"}, Action: actQuit, Description: "quit"},
		{Keys: []string{"q"}, Action: actQuit, Description: "quit", Scopes: []string{scopeDatasets, scopeRows}},
		{Keys: []string{"up", "k"}, Action: actUp, Description: "up", Scopes: []string{scopeDatasets, scopeRows}},
		{Keys: []string{"down", "j"}, Action: actDown, Description: "down", Scopes: []string{scopeDatasets, scopeRows}},
		{Keys: []string{"enter"}, Action: actOpen, Description: "open", Scopes: []string{scopeDatasets}},
		{Keys: []string{"r"}, Action: actRefresh, Description: "refresh", Scopes: []string{scopeDatasets}},
		{Keys: []string{"A"}, Action: actAcceptAll, Description: "accept automatic QC for all unreviewed rows", Scopes: []string{scopeDatasets}},
		{Keys: []string{"esc"}, Action: actBack, Description: "back", Scopes: []string{scopeRows}},
		{Keys: []string{"space"}, Action: actClick, Description: "select", Scopes: []string{scopeRows}},
		{Keys: []string{"X"}, Action: actShiftClick, Description: "select range", Scopes: []string{scopeRows}},
		{Keys: []string{"c"}, Action: actClear, Description: "clear", Scopes: []string{scopeRows}},
		{Keys: []string{"f"}, Action: actFlag, Description: "flag", Scopes: []string{scopeRows}},
		{Keys: []string{"a"}, Action: actAccept, Description: "accept automatic", Scopes: []string{scopeRows}},
		{Keys: []string{"n", "pgdown"}, Action: actNextPage, Description: "next page", Scopes: []string{scopeRows}},
		{Keys: []string{"p", "pgup"}, Action: actPrevPage, Description: "prev page", Scopes: []string{scopeRows}},
		{Keys: []string{"u"}, Action: actOnlyPending, Description: "toggle unreviewed only", Scopes: []string{scopeRows}},
		{Keys: []string{"w"}, Action: actMarkDone, Description: "mark reviewed", Scopes: []string{scopeRows}},
		{Keys: []string{"tab"}, Action: actNextFlag, Description: "next flag", Scopes: []string{scopeFlag}},
		{Keys: []string{"shift+tab"}, Action: actPrevFlag, Description: "prev flag", Scopes: []string{scopeFlag}},
		{Keys: []string{"ctrl+n"}, Action: actSuggest, Description: "use suggestion", Scopes: []string{scopeFlag}},
		{Keys: []string{"enter"}, Action: actConfirm, Description: "confirm", Scopes: []string{scopeFlag, scopeMessage}},
		{Keys: []string{"esc"}, Action: actCancel, Description: "cancel", Scopes: []string{scopeFlag, scopeMessage}},
	})
}

func (r *KeyRegistry) Register(binding KeyBinding) {
	r.bindings = append(r.bindings, binding)
}

func (r *KeyRegistry) BindingsForScope(scope string) []KeyBinding {
	out := make([]KeyBinding, 0, len(r.bindings))
	for _, b := range r.bindings {
		if scopeMatch(scope, b.Scopes) {
			out = append(out, b)
		}
	}
	return out
}

func (r *KeyRegistry) IsAction(msg tea.KeyMsg, action, scope string) bool {
	pressed := normalizeKey(msg.String())
	for _, b := range r.bindings {
		if b.Action != action || !scopeMatch(scope, b.Scopes) {
			continue
		}
		for _, k := range b.Keys {
			if normalizeKey(k) == pressed {
				return true
			}
		}
	}
	return false
}

// Help renders "[keys] description" hints for a scope, one per action.
func (r *KeyRegistry) Help(scope string) string {
	var parts []string
	seen := map[string]bool{}
	for _, b := range r.BindingsForScope(scope) {
		if seen[b.Action] || len(b.Scopes) == 0 {
			continue
		}
		seen[b.Action] = true
		parts = append(parts, "["+b.Keys[0]+"] "+b.Description)
	}
	return strings.Join(parts, "  ")
}

// normalizeKey folds named keys to lower case. Single characters keep their
// case so "x" and "X" stay distinct.
func normalizeKey(k string) string {
	if k == " " {
		return "space"
	}
	k = strings.TrimSpace(k)
	if len([]rune(k)) > 1 {
		return strings.ToLower(k)
	}
	return k
}

func scopeMatch(scope string, scopes []string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}
