package output

import (
	"github.com/fatih/color"
)

// Colors used by the human formatter. fatih/color disables them when
// stdout is not a terminal.
var Colors = struct {
	Success func(a ...interface{}) string
	Error   func(a ...interface{}) string
	Warning func(a ...interface{}) string
	Heading func(a ...interface{}) string
}{
	Success: color.New(color.FgGreen).SprintFunc(),
	Error:   color.New(color.FgRed, color.Bold).SprintFunc(),
	Warning: color.New(color.FgYellow).SprintFunc(),
	Heading: color.New(color.FgWhite, color.Bold).SprintFunc(),
}
