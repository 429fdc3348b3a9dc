package form

import "github.com/zeusync/islandsync/internal/core/store"

// State is a read-only view of a form for rendering.
type State struct {
	Values          store.Fields
	Errors          map[string][]string
	Touched         []string
	Types           map[string]string
	Required        []string
	LocalVersion    int64
	ServerVersion   int64
	LastSentVersion int64
	Syncing         bool
	Valid           bool
}

// FieldProps binds one input to the form. Boolean fields bind Checked and
// leave Value nil; every other field binds Value, defaulting to "".
type FieldProps struct {
	Name    string
	Type    string
	Value   any
	Checked *bool
}

// IsBoolType reports whether a declared field type is rendered as a checkbox.
func IsBoolType(t string) bool {
	return t == "boolean" || t == "bool"
}

func (f *Form) fieldPropsLocked(name string) FieldProps {
	t := f.types[name]
	value := f.localValues[name]
	if IsBoolType(t) {
		checked, _ := value.(bool)
		return FieldProps{Name: name, Type: t, Checked: &checked}
	}
	if value == nil {
		value = ""
	}
	return FieldProps{Name: name, Type: t, Value: value}
}

func (f *Form) snapshotLocked() State {
	touched := make([]string, 0, len(f.touched))
	for name := range f.touched {
		touched = append(touched, name)
	}
	required := make([]string, 0, len(f.required))
	for name := range f.required {
		required = append(required, name)
	}
	types := make(map[string]string, len(f.types))
	for k, v := range f.types {
		types[k] = v
	}

	syncing := f.localVersion > f.serverVersion
	return State{
		Values:          f.localValues,
		Errors:          copyErrors(f.serverErrors),
		Touched:         touched,
		Types:           types,
		Required:        required,
		LocalVersion:    f.localVersion,
		ServerVersion:   f.serverVersion,
		LastSentVersion: f.lastSentVersion,
		Syncing:         syncing,
		Valid:           !syncing && f.serverValid,
	}
}
