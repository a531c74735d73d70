package mining

import "github.com/fatih/color"

// The coloured helpers below give the CLI's stdout the same
// informational/warning/success texture the original miner's
// ColouredMsg helpers did.
var (
	informationMsg = color.New(color.FgCyan).SprintFunc()
	warningMsg     = color.New(color.FgYellow).SprintFunc()
	successMsg     = color.New(color.FgGreen).SprintFunc()
)
