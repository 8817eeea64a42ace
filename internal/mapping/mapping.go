// Package mapping reads the external group-to-channel mapping file.
//
// The file is a JSON object whose keys are identity-provider group names and
// whose values are arrays of channel names:
//
//	{"engineering": ["general", "eng-announce"], "sales": ["general"]}
package mapping

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("channel_mapping.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("channel_mapping.json")
})

// Mapping maps a group identifier to the channels its members belong to.
type Mapping map[string][]string

func Load(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Mapping, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile mapping schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	return m, nil
}

// Groups returns the group identifiers in sorted order.
func (m Mapping) Groups() []string {
	groups := make([]string, 0, len(m))
	for group := range m {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

// ChannelNames returns every channel named anywhere in the mapping, each once,
// in first-seen order across Groups().
func (m Mapping) ChannelNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, group := range m.Groups() {
		for _, name := range m[group] {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}
