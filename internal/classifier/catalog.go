package classifier

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed departments.yaml
var defaultCatalogYAML []byte

// Department is one municipal body a complaint can be routed to.
type Department struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// Catalog is the set of departments known to the classifier.
type Catalog struct {
	City        string       `yaml:"city"`
	Departments []Department `yaml:"departments"`

	byCode map[string]Department
}

// DefaultCatalog returns the embedded Porto Velho catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic("classifier: embedded catalog is invalid: " + err.Error())
	}
	return c
}

// LoadCatalog reads a YAML catalog from path. An empty path yields the
// embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read department catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parse department catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if len(c.Departments) == 0 {
		return nil, errors.New("catalog has no departments")
	}

	c.byCode = make(map[string]Department, len(c.Departments))
	for i, d := range c.Departments {
		code := strings.ToUpper(strings.TrimSpace(d.Code))
		if code == "" {
			return nil, fmt.Errorf("department %d has no code", i)
		}
		if _, dup := c.byCode[code]; dup {
			return nil, fmt.Errorf("duplicate department code %q", code)
		}
		d.Code = code
		c.Departments[i] = d
		c.byCode[code] = d
	}
	return &c, nil
}

// Codes returns the department codes in catalog order.
func (c *Catalog) Codes() []string {
	codes := make([]string, len(c.Departments))
	for i, d := range c.Departments {
		codes[i] = d.Code
	}
	return codes
}

// Lookup finds a department by code, ignoring case.
func (c *Catalog) Lookup(code string) (Department, bool) {
	d, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return d, ok
}
