package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogDocument is the top-level YAML document shape
type catalogDocument struct {
	Entities []*EntityType `json:"entities" yaml:"entities"`
}

// ParseCatalog builds a catalog from a YAML document of the form:
//
//	entities:
//	  - name: User
//	    fields:
//	      - {name: username, type: string}
//	    relationships:
//	      - {name: posts, target: Post, direction: toward_many}
//
// Defaults (table name, primary key, cascade flags) are applied exactly as
// in NewCatalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog document: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("catalog document declares no entities")
	}
	return NewCatalog(doc.Entities...)
}

// LoadCatalog reads and parses a YAML catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}
