package schedule

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chimeworks/chime/errors"
	"github.com/chimeworks/chime/logger"
)

// jobFile is the on-disk shape of a declarative job source
type jobFile struct {
	Service string     `yaml:"service"`
	Jobs    []jobEntry `yaml:"jobs"`
}

type jobEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Enabled     *bool          `yaml:"enabled"` // nil = enabled
	Type        string         `yaml:"type"`    // cron | interval
	Schedule    string         `yaml:"schedule"`
	Function    string         `yaml:"function"`
	Args        []any          `yaml:"args"`
	Kwargs      map[string]any `yaml:"kwargs"`
}

// ItemError records a single job entry that failed to register
type ItemError struct {
	Key string
	Err error
}

// LoadResult reports the outcome of loading a declarative job source.
// Registration is collect-and-report: one bad entry never blocks the rest.
type LoadResult struct {
	Registered []*JobDefinition
	Errors     []ItemError
}

// LoadFile reads a YAML job source and registers each entry with the
// store. Entries that fail validation or already exist are collected in
// the result; remaining entries still register.
func LoadFile(store *Store, path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read job source %s", path)
	}

	var file jobFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse job source %s", path)
	}
	if file.Service == "" {
		return nil, errors.Newf("job source %s missing service name", path)
	}

	result := &LoadResult{}
	for _, entry := range file.Jobs {
		def := &JobDefinition{
			OwnerService: file.Service,
			Name:         entry.Name,
			Description:  entry.Description,
			Enabled:      entry.Enabled == nil || *entry.Enabled,
			Kind:         ScheduleKind(entry.Type),
			Spec:         entry.Schedule,
			Target:       entry.Function,
			Args:         entry.Args,
			Kwargs:       entry.Kwargs,
		}

		if err := store.Register(def); err != nil {
			logger.Logger.Warnw("Skipping job entry",
				"source", path,
				"job", def.Key(),
				"error", err,
			)
			result.Errors = append(result.Errors, ItemError{Key: def.Key(), Err: err})
			continue
		}

		logger.Logger.Debugw("Registered job from source",
			"source", path,
			"job", def.Key(),
			"schedule_kind", def.Kind,
			"schedule_spec", def.Spec,
		)
		result.Registered = append(result.Registered, def)
	}

	return result, nil
}

// LoadFiles loads multiple job sources, concatenating their results.
// A source that cannot be read or parsed at all fails the whole load.
func LoadFiles(store *Store, paths []string) (*LoadResult, error) {
	combined := &LoadResult{}
	for _, path := range paths {
		result, err := LoadFile(store, path)
		if err != nil {
			return nil, err
		}
		combined.Registered = append(combined.Registered, result.Registered...)
		combined.Errors = append(combined.Errors, result.Errors...)
	}
	return combined, nil
}
