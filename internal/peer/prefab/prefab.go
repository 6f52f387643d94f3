// Package prefab holds named component templates that peers instantiate by handle.
package prefab

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zeusync/tachyon/internal/core/models"
)

var ErrNotFound = errors.New("prefab not found")

// Catalog maps prefab handles to template components. It is read-only after
// construction.
type Catalog struct {
	templates map[string]models.Components
}

// NewCatalog copies the given templates.
func NewCatalog(templates map[string]map[string]any) *Catalog {
	c := &Catalog{templates: make(map[string]models.Components, len(templates))}
	for handle, components := range templates {
		bag := make(models.Components, len(components))
		for typeHandle, value := range components {
			bag[typeHandle] = value
		}
		c.templates[handle] = bag
	}
	return c
}

// Has reports whether handle is known.
func (c *Catalog) Has(handle string) bool {
	_, ok := c.templates[handle]
	return ok
}

// Handles lists the known prefab handles, sorted.
func (c *Catalog) Handles() []string {
	handles := make([]string, 0, len(c.templates))
	for h := range c.templates {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	return handles
}

// Instantiate returns a fresh bag holding the template's components with overrides
// applied on top. Overrides may replace template components or add new ones.
func (c *Catalog) Instantiate(handle string, overrides models.Components) (models.Components, error) {
	template, ok := c.templates[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, handle)
	}

	bag := make(models.Components, template.Len()+overrides.Len())
	for typeHandle, value := range template {
		bag[typeHandle] = value
	}

	for typeHandle, value := range overrides {
		if bag.Has(typeHandle) {
			_ = bag.Replace(typeHandle, value)
			continue
		}
		if err := bag.Add(typeHandle, value); err != nil {
			return nil, err
		}
	}

	return bag, nil
}
