package permission

// Subject is anything authorization decisions can be made for.
type Subject interface {
	Superuser() bool
	Granted(name string) bool
}

// Can reports whether subject holds the named permission. Superusers hold every
// permission regardless of role. A nil subject holds nothing.
func Can(subject Subject, name string) bool {
	if subject == nil {
		return false
	}
	if subject.Superuser() {
		return true
	}
	return name != "" && subject.Granted(name)
}

// Protected is an action or navigation entry gated by a permission. An empty
// RequiredPermission means the entry is visible to every authenticated subject.
type Protected interface {
	RequiredPermission() string
}

// Filter returns the items subject may see, preserving order.
func Filter[T Protected](subject Subject, items []T) []T {
	out := make([]T, 0, len(items))
	if subject == nil {
		return out
	}
	for _, it := range items {
		perm := it.RequiredPermission()
		if perm == "" || Can(subject, perm) {
			out = append(out, it)
		}
	}
	return out
}

// NameSet is the denormalized set of permission names carried by a user.
type NameSet map[string]struct{}

// NewNameSet builds a set from names, skipping empty entries.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}
