package output

import (
	"fmt"
	"io"
	"os"

	"github.com/yairfalse/cyclictest/internal/allocbench"
	"github.com/yairfalse/cyclictest/internal/engine"
)

// Formatter renders measurement and benchmark results
type Formatter interface {
	PrintRun(result *engine.Result) error
	PrintBench(results []allocbench.Result) error
}

// NewFormatter creates a formatter writing to stdout
func NewFormatter(format string) Formatter {
	return NewFormatterWithWriter(format, os.Stdout)
}

// NewFormatterWithWriter creates a formatter for format writing to w
func NewFormatterWithWriter(format string, w io.Writer) Formatter {
	if w == nil {
		w = os.Stdout
	}

	switch ParseFormat(format) {
	case "json":
		return &JSONFormatter{Writer: w, Indent: true}
	case "yaml":
		return &YAMLFormatter{Writer: w}
	default:
		return NewHumanFormatter(w)
	}
}

var (
	_ Formatter = (*HumanFormatter)(nil)
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
)

// ValidateFormat checks if the format string is valid
func ValidateFormat(format string) error {
	switch format {
	case "human", "text", "json", "yaml", "yml", "":
		return nil
	default:
		return fmt.Errorf("invalid output format: %s (must be one of: human, json, yaml)", format)
	}
}

// ParseFormat normalizes the format string
func ParseFormat(format string) string {
	switch format {
	case "json", "JSON":
		return "json"
	case "yaml", "YAML", "yml":
		return "yaml"
	default:
		return "human"
	}
}
