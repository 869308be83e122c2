// Package shader compiles shader source to the bytecode pipeline states are created from
package shader

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"
	"github.com/vkngwrapper/viddriver/vidutils"
	"golang.org/x/exp/slog"
)

// Compiler turns shader source into bytecode. args are compiler options in the conventional
// "-E <entry>" / "-T <target>" form.
type Compiler interface {
	Compile(source string, args []string) ([]byte, error)
}

// CompileError carries the diagnostic produced by a failed compilation
type CompileError struct {
	Entry      string
	Target     string
	Diagnostic string
}

func (e *CompileError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("shader compilation failed: %s", e.Diagnostic)
	}
	return fmt.Sprintf("shader compilation of %s (%s) failed: %s", e.Entry, e.Target, e.Diagnostic)
}

// Stage is the pipeline stage a target profile compiles for
type Stage int

const (
	StageAny Stage = iota
	StageVertex
	StagePixel
)

var stageAttributes = map[Stage]string{
	StageVertex: "@vertex",
	StagePixel:  "@fragment",
}

// Options are the parsed compiler arguments
type Options struct {
	Entry  string
	Target string
	Stage  Stage
}

// ParseArgs parses "-E <entry>" and "-T <target>" arguments. Each flag and its value may be
// passed as one argument or two.
func ParseArgs(args []string) (Options, error) {
	var options Options
	fields := strings.Fields(strings.Join(args, " "))

	for i := 0; i < len(fields); i++ {
		flag := fields[i]
		if flag != "-E" && flag != "-T" {
			return options, errors.Newf("unknown compiler argument %q", flag)
		}
		if i+1 >= len(fields) {
			return options, errors.Newf("compiler argument %s requires a value", flag)
		}

		i++
		if flag == "-E" {
			options.Entry = fields[i]
			continue
		}

		options.Target = fields[i]
		switch {
		case strings.HasPrefix(options.Target, "vs_"):
			options.Stage = StageVertex
		case strings.HasPrefix(options.Target, "ps_"):
			options.Stage = StagePixel
		default:
			return options, errors.Newf("unsupported target profile %q", options.Target)
		}
	}

	return options, nil
}

// NagaCompiler compiles WGSL to SPIR-V
type NagaCompiler struct {
	logger *slog.Logger
}

var _ Compiler = &NagaCompiler{}

func NewNagaCompiler(logger *slog.Logger) *NagaCompiler {
	return &NagaCompiler{logger: logger}
}

// Compile verifies the requested entry point exists in source for the requested stage, then
// compiles the module to SPIR-V. Failures are *CompileError marked with vidutils.ErrCompilation.
func (c *NagaCompiler) Compile(source string, args []string) ([]byte, error) {
	options, err := ParseArgs(args)
	if err != nil {
		return nil, compileFailure(options, err.Error())
	}

	if options.Entry != "" {
		err = checkEntryPoint(source, options)
		if err != nil {
			return nil, compileFailure(options, err.Error())
		}
	}

	c.logger.Debug("NagaCompiler::Compile", "entry", options.Entry, "target", options.Target)

	code, err := naga.Compile(source)
	if err != nil {
		return nil, compileFailure(options, err.Error())
	}

	return code, nil
}

func checkEntryPoint(source string, options Options) error {
	pattern := `(@\w+\s+)*fn\s+` + regexp.QuoteMeta(options.Entry) + `\s*\(`
	if attribute, ok := stageAttributes[options.Stage]; ok {
		pattern = regexp.QuoteMeta(attribute) + `\s+` + pattern
	}

	if !regexp.MustCompile(pattern).MatchString(source) {
		if options.Stage == StageAny {
			return errors.Newf("entry point %q not found", options.Entry)
		}
		return errors.Newf("entry point %q not found for target %s", options.Entry, options.Target)
	}

	return nil
}

func compileFailure(options Options, diagnostic string) error {
	return errors.Mark(&CompileError{
		Entry:      options.Entry,
		Target:     options.Target,
		Diagnostic: diagnostic,
	}, vidutils.ErrCompilation)
}
