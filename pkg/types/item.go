package types

import (
	"strings"
)

// Attribute is a single named value carried by a work item, e.g. the
// StudyDescription or Modality of a study.
type Attribute struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// AttributeSet is an ordered collection of attributes. Order is preserved so
// that comparison output is stable; lookups are by exact name.
type AttributeSet []Attribute

// Get returns the value for name and whether it is present.
func (s AttributeSet) Get(name string) (string, bool) {
	for _, a := range s {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Set replaces the value for name, appending when the name is new.
func (s AttributeSet) Set(name, value string) AttributeSet {
	for i, a := range s {
		if a.Name == name {
			s[i].Value = value
			return s
		}
	}
	return append(s, Attribute{Name: name, Value: value})
}

// Clone returns an independent copy of the set.
func (s AttributeSet) Clone() AttributeSet {
	if len(s) == 0 {
		return nil
	}
	out := make(AttributeSet, len(s))
	copy(out, s)
	return out
}

// Names returns the attribute names in set order.
func (s AttributeSet) Names() []string {
	names := make([]string, len(s))
	for i, a := range s {
		names[i] = a.Name
	}
	return names
}

// Equal reports whether the value for name matches want after trimming
// surrounding whitespace, the comparison the router's stores use.
func (s AttributeSet) Equal(name, want string) bool {
	got, ok := s.Get(name)
	if !ok {
		return false
	}
	return strings.TrimSpace(got) == strings.TrimSpace(want)
}

// WorkItem is one unit of work driven through the router: an opaque payload
// identified by a caller-assigned study UID, together with the attributes the
// payload carries and the attributes the router is expected to produce for it.
// Immutable once created.
type WorkItem struct {
	StudyUID   string       `json:"study_uid" yaml:"study_uid"`
	SourceFile string       `json:"source_file,omitempty" yaml:"source_file,omitempty"`
	Payload    []byte       `json:"-" yaml:"-"`
	Attributes AttributeSet `json:"attributes" yaml:"attributes"`
	Expected   AttributeSet `json:"expected,omitempty" yaml:"expected,omitempty"`
}
