package config

// changeSet is the outcome of diffing the declared set against the
// current one.
type changeSet struct {
	create []ExtendedConfig
	update []ExtendedConfig
	remove []string
}

// diff computes the operations taking old to declared. Unchanged records
// produce nothing, so re-applying the same document is a no-op.
func diff(old map[string]ExtendedConfig, declared []ExtendedConfig) changeSet {
	var cs changeSet

	newByName := make(map[string]ExtendedConfig, len(declared))
	for _, c := range declared {
		newByName[c.Task.Name] = c
	}

	for _, c := range declared {
		prev, exists := old[c.Task.Name]
		switch {
		case !exists:
			cs.create = append(cs.create, c)
		case prev != c:
			cs.update = append(cs.update, c)
		}
	}

	for name := range old {
		if _, stillWanted := newByName[name]; !stillWanted {
			cs.remove = append(cs.remove, name)
		}
	}
	return cs
}

// asMap indexes a parsed set by task name.
func asMap(configs []ExtendedConfig) map[string]ExtendedConfig {
	m := make(map[string]ExtendedConfig, len(configs))
	for _, c := range configs {
		m[c.Task.Name] = c
	}
	return m
}
