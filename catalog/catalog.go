package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	checkin "github.com/goliatone/go-checkin"
)

// Catalog is an in-memory, read-only place directory loaded from a YAML
// file. Places are never mutated after load.
type Catalog struct {
	places map[string]checkin.Place
	order  []string
}

type catalogFile struct {
	Places []checkin.Place `yaml:"places"`
}

// Load reads a catalog file from disk.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse builds a catalog from YAML bytes.
func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(file.Places) == 0 {
		return nil, fmt.Errorf("catalog has no places")
	}

	places := make(map[string]checkin.Place, len(file.Places))
	order := make([]string, 0, len(file.Places))
	for i, p := range file.Places {
		if p.ID == "" || p.LocationID == "" {
			return nil, fmt.Errorf("place %d requires id and location_id", i)
		}
		if p.RadiusMeters <= 0 {
			return nil, fmt.Errorf("place %s requires a positive check-in radius", p.ID)
		}
		if _, exists := places[p.ID]; exists {
			return nil, fmt.Errorf("duplicate place id %s", p.ID)
		}
		places[p.ID] = p
		order = append(order, p.ID)
	}
	return &Catalog{places: places, order: order}, nil
}

// Place resolves one place by id.
func (c *Catalog) Place(_ context.Context, id string) (*checkin.Place, error) {
	p, ok := c.places[id]
	if !ok {
		return nil, fmt.Errorf("place %s not found", id)
	}
	cp := p
	return &cp, nil
}

// Places returns every place in file order.
func (c *Catalog) Places() []checkin.Place {
	out := make([]checkin.Place, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.places[id])
	}
	return out
}
