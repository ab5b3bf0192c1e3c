package cfgx

import (
	"flag"
	"os"
)

// DefaultConfigOptions are the options Parse starts from. Non-zero fields of
// the Options passed to Parse override them.
var DefaultConfigOptions = Options{
	ProgramName:   os.Args[0],
	Args:          os.Args[1:],
	ErrorHandling: flag.ContinueOnError,
}

func setOptions(options Options) Options {
	opts := DefaultConfigOptions

	if options.ProgramName != "" {
		opts.ProgramName = options.ProgramName
	}
	if options.EnvPrefix != "" {
		opts.EnvPrefix = options.EnvPrefix
	}
	if options.Args != nil {
		opts.Args = options.Args
	}
	if options.ErrorHandling != flag.ContinueOnError {
		opts.ErrorHandling = options.ErrorHandling
	}
	opts.SkipFlags = options.SkipFlags
	opts.SkipEnv = options.SkipEnv
	opts.SkipBuildInfo = options.SkipBuildInfo
	opts.Sources = options.Sources

	return opts
}
