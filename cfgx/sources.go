package cfgx

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/erlorenz/go-eventbus/cfgx/internal/casing"
)

const (
	dockerPath    = "/run/secrets"
	maxSecretSize = 1 << 20 // 1MB - max size for secret files
)

// Default ===================================================================
type defaultSource struct {
	priority int
}

func (s *defaultSource) Priority() int {
	return s.priority
}

func (s *defaultSource) Process(fields map[string]ConfigField) error {
	var errs []error
	for _, field := range fields {
		if def, ok := field.Tag.Lookup(tagDefault); ok {
			errs = append(errs, setValue(field, def))
		}
	}
	return errors.Join(errs...)
}

// Env ====================================================================
type envSource struct {
	priority int
	prefix   string
}

func (s *envSource) Priority() int {
	return s.priority
}

func (s *envSource) Process(fields map[string]ConfigField) error {
	var errs []error
	for _, field := range fields {
		val, ok := os.LookupEnv(s.name(field))
		if !ok {
			continue
		}
		errs = append(errs, setValue(field, val))
	}
	return errors.Join(errs...)
}

func (s *envSource) name(field ConfigField) string {
	if name, ok := field.Tag.Lookup(tagEnv); ok {
		return name
	}
	name := casing.ToScreamingSnake(field.Path)
	if s.prefix != "" {
		name = s.prefix + "_" + name
	}
	return name
}

// Flag ===================================================================
type flagSource struct {
	priority int
	opts     Options
}

func (s *flagSource) Priority() int {
	return s.priority
}

func (s *flagSource) Process(fields map[string]ConfigField) error {
	flags := flag.NewFlagSet(s.opts.ProgramName, s.opts.ErrorHandling)

	for _, field := range fields {
		name := casing.ToKebab(field.Path)
		if tagVal, ok := field.Tag.Lookup(tagFlag); ok {
			name = tagVal
		}

		val := fieldValue{field: field}
		flags.Var(val, name, field.Description)
		if short := field.Tag.Get(tagShort); short != "" {
			flags.Var(val, short, field.Description)
		}
	}

	if err := flags.Parse(s.opts.Args); err != nil {
		return fmt.Errorf("failed parsing flags: %w", err)
	}
	return nil
}

// ====================================================================
// Docker Secrets

// DockerSecretsSource wraps a [FileContentSource].
// It reads the docker secret file at “/run/secrets/<secret_name>“.
// It defaults to snake case based on the struct path.
// Override the name with the tag "dsec".
type DockerSecretsSource struct {
	SecretsPath string
	FileContentSource
}

// Process opens an [os.Root] and calls the underlying [FileContentSource]'s
// Process method with the [os.Root.FS]. A missing secrets directory is not an
// error: there is simply nothing to read.
func (s *DockerSecretsSource) Process(fields map[string]ConfigField) error {
	root, err := os.OpenRoot(s.SecretsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open docker path: %w", err)
	}
	defer root.Close()

	s.FileContentSource.FS = root.FS()
	return s.FileContentSource.Process(fields)
}

// NewDockerSecretsSource sets a priority of PrioritySecrets (75), a tag of "dsec",
// and a secrets path of `/run/secrets`.
func NewDockerSecretsSource() *DockerSecretsSource {
	return &DockerSecretsSource{
		SecretsPath: dockerPath,
		FileContentSource: FileContentSource{
			PriorityLevel: PrioritySecrets,
			Tag:           tagDockerSecret,
			// Assign the fs.FS in the Process method so we can use os.Root.
		},
	}
}

// FileContentSource sets fields from the content of one file each, named
// after the snake case field path or the value of Tag. Missing files are
// skipped.
type FileContentSource struct {
	PriorityLevel int
	Tag           string
	FS            fs.FS
}

// Priority implements [Source].
func (s *FileContentSource) Priority() int {
	return s.PriorityLevel
}

// Process implements [Source].
func (s *FileContentSource) Process(fields map[string]ConfigField) error {
	if s.FS == nil {
		return fmt.Errorf("process FileContentSource: fs.FS cannot be nil")
	}

	var errs []error
	for path, field := range fields {
		name := casing.ToSnake(path)
		if tagVal, ok := field.Tag.Lookup(s.Tag); ok {
			name = tagVal
		}

		val, err := readSecret(s.FS, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, setValue(field, val))
	}
	return errors.Join(errs...)
}

func readSecret(fsys fs.FS, name string) (string, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer file.Close()

	// Limit read size to prevent memory exhaustion
	b, err := io.ReadAll(io.LimitReader(file, maxSecretSize+1))
	if err != nil {
		return "", fmt.Errorf("cannot read file %s: %w", name, err)
	}
	if len(b) > maxSecretSize {
		return "", fmt.Errorf("file %s exceeds max size of %d bytes", name, maxSecretSize)
	}
	return strings.TrimSpace(string(b)), nil
}
