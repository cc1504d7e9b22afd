package meter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DemoUsers is the roster simulated when none is configured.
var DemoUsers = []string{"user-1", "user-2", "user-3", "user-4", "user-5"}

type roster struct {
	Users []string `yaml:"users" json:"users"`
}

// LoadRoster reads a YAML or JSON roster file. The format is chosen from the
// extension; anything but .json is parsed as YAML.
func LoadRoster(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return DecodeRoster(f, format)
}

// DecodeRoster parses either {"users": [...]} or a bare list of user ids.
// Blank and duplicate ids are dropped.
func DecodeRoster(r io.Reader, format string) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var ids []string
	switch format {
	case "json":
		if data[0] == '[' {
			err = json.Unmarshal(data, &ids)
		} else {
			var ro roster
			err = json.Unmarshal(data, &ro)
			ids = ro.Users
		}
	case "yaml", "yml":
		var node yaml.Node
		if err = yaml.Unmarshal(data, &node); err == nil {
			if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
				err = node.Decode(&ids)
			} else {
				var ro roster
				err = node.Decode(&ro)
				ids = ro.Users
			}
		}
	default:
		return nil, fmt.Errorf("unsupported roster format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return normalize(ids), nil
}

func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
