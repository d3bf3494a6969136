package permission

import (
	"errors"
	"sort"
	"sync"
)

// Catalog indexes the collaborator's permission list by id, name, and category.
//
// A Catalog is loaded once per fetch of the permission list and then read
// concurrently. Load replaces the whole index.
type Catalog struct {
	mu         sync.RWMutex
	byID       map[int]Permission
	byName     map[string]int
	categories []Category
}

// NewCatalog returns a catalog loaded with perms.
func NewCatalog(perms []Permission) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Load(perms); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCatalogFromCategories returns a catalog loaded from the grouped listing
// returned by the collaborator.
func NewCatalogFromCategories(groups []Category) (*Catalog, error) {
	c := &Catalog{}
	if err := c.LoadCategories(groups); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCategories flattens groups and loads them. A permission without a category
// takes its group's name.
func (c *Catalog) LoadCategories(groups []Category) error {
	var perms []Permission
	for _, g := range groups {
		for _, p := range g.Permissions {
			if p.Category == "" {
				p.Category = g.Category
			}
			perms = append(perms, p)
		}
	}
	return c.Load(perms)
}

// Load replaces the catalog contents. Duplicate ids or names are rejected and
// leave the previous contents in place.
func (c *Catalog) Load(perms []Permission) error {
	byID := make(map[int]Permission, len(perms))
	byName := make(map[string]int, len(perms))
	grouped := make(map[string][]Permission)
	var order []string

	for _, p := range perms {
		if p.Name == "" {
			return errors.New("permission name cannot be empty")
		}
		if _, dup := byID[p.ID]; dup {
			return errors.New("duplicate permission id")
		}
		if _, dup := byName[p.Name]; dup {
			return errors.New("duplicate permission name: " + p.Name)
		}
		byID[p.ID] = p
		byName[p.Name] = p.ID
		if _, seen := grouped[p.Category]; !seen {
			order = append(order, p.Category)
		}
		grouped[p.Category] = append(grouped[p.Category], p)
	}

	sort.Strings(order)
	cats := make([]Category, 0, len(order))
	for _, name := range order {
		ps := grouped[name]
		sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
		cats = append(cats, Category{Category: name, Permissions: ps})
	}

	c.mu.Lock()
	c.byID = byID
	c.byName = byName
	c.categories = cats
	c.mu.Unlock()
	return nil
}

// ByID returns the permission with the given id.
func (c *Catalog) ByID(id int) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// ID returns the id for the named permission.
func (c *Catalog) ID(name string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	return id, ok
}

// Category returns the named category.
func (c *Catalog) Category(name string) (Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cat := range c.categories {
		if cat.Category == name {
			return cat, true
		}
	}
	return Category{}, false
}

// Categories returns categories sorted by name, permissions sorted by name.
func (c *Catalog) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// IDs resolves names to an id set. Unknown names are returned separately.
func (c *Catalog) IDs(names ...string) (IDSet, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(IDSet, len(names))
	var unknown []string
	for _, n := range names {
		if id, ok := c.byName[n]; ok {
			out.Add(id)
		} else {
			unknown = append(unknown, n)
		}
	}
	return out, unknown
}

// Count returns the number of known permissions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
