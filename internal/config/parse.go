package config

import (
	"bytes"
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"taskgate/pkg/logx"
)

// ParseFile reads the task-set document. Records failing decoding or
// validation are dropped with a diagnostic; the remainder are returned.
// A missing or wholly unparseable file yields an empty set with the
// error.
func ParseFile(path string, log logx.Logger) ([]ExtendedConfig, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc, err := parse(b)
	if err != nil {
		return nil, err
	}

	configs := make([]ExtendedConfig, 0, len(doc.Tasks))
	seen := map[string]bool{}
	for i := range doc.Tasks {
		node := &doc.Tasks[i]
		spec, err := decodeSpec(node)
		if err != nil {
			// A malformed record only costs itself, never its siblings.
			log.Warn("dropping malformed task record",
				logx.String("task", nodeTaskName(node)),
				logx.Int("index", i),
				logx.Err(err))
			continue
		}
		if reason := spec.validate(); reason != "" {
			log.Warn("dropping invalid task record",
				logx.String("task", spec.Name),
				logx.String("reason", reason))
			continue
		}
		// Names must be unique within the document; later duplicates lose.
		if seen[spec.Name] {
			log.Warn("dropping duplicate task record", logx.String("task", spec.Name))
			continue
		}
		seen[spec.Name] = true
		configs = append(configs, spec.resolve())
	}

	if len(configs) == 0 {
		log.Warn("no valid task records", logx.String("path", path))
	} else {
		log.Debug("parsed task set", logx.String("path", path), logx.Int("tasks", len(configs)))
	}
	return configs, nil
}

// parse decodes only the document skeleton; task records stay as raw
// nodes so each can fail strict decoding on its own.
func parse(b []byte) (document, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return document{}, fmt.Errorf("task set: %w", err)
	}
	return doc, nil
}

// decodeSpec strict-decodes a single task node, so an unknown field on
// one record rejects that record only.
func decodeSpec(node *yaml.Node) (TaskSpec, error) {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return TaskSpec{}, err
	}
	var spec TaskSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return TaskSpec{}, err
	}
	return spec, nil
}

// nodeTaskName best-effort extracts the record's name for diagnostics on
// records that failed to decode.
func nodeTaskName(node *yaml.Node) string {
	if node.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "name" {
			return node.Content[i+1].Value
		}
	}
	return ""
}
