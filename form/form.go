// Package form is a minimal form builder for profile fields to render their
// controls into.
package form

import "impractical.co/filefield"

var _ filefield.Form = &Form{}

// Form is an ordered set of controls. The zero value is an empty form.
type Form struct {
	controls []filefield.Control
}

// AddElement appends c, replacing any control with the same name.
func (f *Form) AddElement(c filefield.Control) {
	if i := f.index(c.Name); i >= 0 {
		f.controls[i] = c
		return
	}
	f.controls = append(f.controls, c)
}

func (f *Form) RemoveElement(name string) {
	i := f.index(name)
	if i < 0 {
		return
	}
	f.controls = append(f.controls[:i], f.controls[i+1:]...)
}

func (f *Form) ElementExists(name string) bool {
	return f.index(name) >= 0
}

func (f *Form) HardFreeze(name, value string) {
	i := f.index(name)
	if i < 0 {
		return
	}
	f.controls[i].Frozen = true
	f.controls[i].Value = value
}

// Element returns the named control, and whether it exists.
func (f *Form) Element(name string) (filefield.Control, bool) {
	i := f.index(name)
	if i < 0 {
		return filefield.Control{}, false
	}
	return f.controls[i], true
}

// Elements returns the controls in the order they were added.
func (f *Form) Elements() []filefield.Control {
	out := make([]filefield.Control, len(f.controls))
	copy(out, f.controls)
	return out
}

func (f *Form) index(name string) int {
	for i, c := range f.controls {
		if c.Name == name {
			return i
		}
	}
	return -1
}
