// Package cfgx parses configuration into a struct from several sources, applied
// in priority order so that a higher priority source overrides a lower one:
//
//	flags (100) > docker secrets (75, opt-in) > environment (50) > defaults (0)
//
// Field names are derived from the struct path ("Redis.URL" reads REDIS_URL
// and -redis-url) and can be overridden with struct tags:
//
//	env:"NAME"      environment variable name
//	flag:"name"     long flag name
//	short:"n"       additional short flag
//	dsec:"name"     docker secret file name
//	default:"v"     default value
//	desc:"text"     flag usage text
//	optional:"true" field may stay empty
//
// Supported field types are string, bool, the int, uint and float kinds,
// time.Duration and []string (comma separated).
package cfgx

import (
	"cmp"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"runtime/debug"
	"slices"
	"strings"
)

const (
	tagEnv         = "env"
	tagFlag        = "flag"
	tagDefault     = "default"
	tagDescription = "desc"
	tagOptional    = "optional"
	tagShort       = "short"

	tagDockerSecret = "dsec"
)

// Priorities of the built-in sources.
const (
	PriorityDefaults = 0
	PriorityEnv      = 50
	PrioritySecrets  = 75
	PriorityFlags    = 100
)

var (
	ErrNotPointerToStruct = errors.New("cfgx: config must be a pointer to a struct")
	ErrMissingRequired    = errors.New("cfgx: missing required value")
)

// Source processes the configField map and applies values to the
// config struct. Choose a priority to process before or after other sources.
type Source interface {
	Priority() int
	Process(map[string]ConfigField) error
}

// Options holds options for the Parse function.
type Options struct {
	// ProgramName is the name of the running program (defaults to os.Args[0]).
	ProgramName string
	// EnvPrefix is prepended, with an underscore, to derived environment
	// variable names. Names set with the env tag are used as is.
	EnvPrefix string
	// SkipFlags ignores command line flags.
	SkipFlags bool
	// SkipEnv ignores environment variables.
	SkipEnv bool
	// SkipBuildInfo leaves a top level Version field alone.
	SkipBuildInfo bool
	// Args provides command line arguments (defaults to os.Args[1:]).
	Args []string
	// ErrorHandling determines how parsing errors are handled.
	ErrorHandling flag.ErrorHandling
	// Sources adds additional sources.
	Sources []Source
}

// Parse populates the config struct from the default tags, the environment,
// command line flags and any additional sources, lowest priority first.
// Fields that are already set when Parse is called are left alone.
//
// A top level string field named Version receives the module version from
// the build info unless SkipBuildInfo is set.
func Parse(cfg any, options Options) error {
	opts := setOptions(options)

	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return handleError(opts.ErrorHandling, ErrNotPointerToStruct)
	}

	fields := walkStruct(v.Elem(), "")

	sources := []Source{&defaultSource{priority: PriorityDefaults}}
	if !opts.SkipEnv {
		sources = append(sources, &envSource{priority: PriorityEnv, prefix: opts.EnvPrefix})
	}
	if !opts.SkipFlags {
		sources = append(sources, &flagSource{priority: PriorityFlags, opts: opts})
	}
	sources = append(sources, opts.Sources...)

	if version, ok := fields["Version"]; ok && !opts.SkipBuildInfo && version.Kind == reflect.String {
		version.Value.SetString(buildVersion())
	}

	slices.SortStableFunc(sources, func(a, b Source) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})

	var errs []error
	for _, source := range sources {
		if err := source.Process(fields); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateRequired(fields); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return handleError(opts.ErrorHandling, err)
	}
	return nil
}

func buildVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)"
	}
	return cmp.Or(bi.Main.Version, "(devel)")
}

// ConfigField represents a field in the config struct.
type ConfigField struct {
	Path        string
	Value       reflect.Value
	Kind        reflect.Kind
	Name        string
	StructField reflect.StructField
	Tag         reflect.StructTag
	Description string
}

// walkStruct maps the dotted path of every settable leaf field to its
// ConfigField. Nested structs are flattened.
func walkStruct(v reflect.Value, parent string) map[string]ConfigField {
	fields := map[string]ConfigField{}

	t := v.Type()
	for i := range v.NumField() {
		sf := t.Field(i)
		fv := v.Field(i)
		if !sf.IsExported() || !fv.IsZero() {
			continue
		}

		path := sf.Name
		if parent != "" {
			path = parent + "." + sf.Name
		}

		if fv.Kind() == reflect.Struct {
			for p, f := range walkStruct(fv, path) {
				fields[p] = f
			}
			continue
		}

		fields[path] = ConfigField{
			Path:        path,
			Value:       fv,
			Kind:        fv.Kind(),
			Name:        sf.Name,
			StructField: sf,
			Tag:         sf.Tag,
			Description: cmp.Or(sf.Tag.Get(tagDescription), path),
		}
	}
	return fields
}

// validateRequired reports every non-optional field left at its zero value.
func validateRequired(fields map[string]ConfigField) error {
	var missing []string
	for path, field := range fields {
		val, ok := field.Tag.Lookup(tagOptional)
		if ok && val != "false" {
			continue
		}
		if field.Value.IsZero() {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
}

func handleError(errHandling flag.ErrorHandling, err error) error {
	switch errHandling {
	case flag.ExitOnError:
		slog.Error("Error parsing config struct.", "error", err)
		os.Exit(1)
	case flag.PanicOnError:
		panic(err)
	}
	return err
}
