package project

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/reqlens/internal/model"
)

type requirementFile struct {
	Requirements []*model.Requirement `json:"requirements" yaml:"requirements"`
}

// ReadFile reads requirements from a YAML or JSON file. The file holds
// either a list of requirements or a mapping with a requirements key.
func ReadFile(path string) ([]*model.Requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var reqs []*model.Requirement
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		reqs, err = decodeJSON(data)
	default:
		reqs, err = decodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := Validate(reqs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}

func decodeJSON(data []byte) ([]*model.Requirement, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	if data[0] == '[' {
		var reqs []*model.Requirement
		err := json.Unmarshal(data, &reqs)
		return reqs, err
	}
	var f requirementFile
	err := json.Unmarshal(data, &f)
	return f.Requirements, err
}

func decodeYAML(data []byte) ([]*model.Requirement, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("empty file")
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var reqs []*model.Requirement
		err := root.Decode(&reqs)
		return reqs, err
	case yaml.MappingNode:
		var f requirementFile
		err := root.Decode(&f)
		return f.Requirements, err
	default:
		return nil, fmt.Errorf("expected a list or mapping at line %d", root.Line)
	}
}

// Validate defaults each ID to its item code and rejects missing or
// duplicate IDs.
func Validate(reqs []*model.Requirement) error {
	seen := make(map[string]bool, len(reqs))
	for i, r := range reqs {
		if r == nil {
			return fmt.Errorf("requirement %d is empty", i+1)
		}
		r.ID = strings.TrimSpace(r.ID)
		r.ItemCode = strings.TrimSpace(r.ItemCode)
		if r.ID == "" {
			r.ID = r.ItemCode
		}
		if r.ID == "" {
			return fmt.Errorf("requirement %d has neither id nor item_code", i+1)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate requirement id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
