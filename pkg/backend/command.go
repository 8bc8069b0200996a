package backend

import (
	"strings"
)

// QuoteArgument quotes s so the command interpreter and the platform shell
// treat it as a single argument.
func QuoteArgument(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// SymbolsAddCommand returns the command that attaches the symbol file at
// symbolPath to the module loaded from platformPath on the target.
func SymbolsAddCommand(platformPath, symbolPath string) string {
	cmd := "target symbols add"
	if platformPath != "" {
		cmd += " -s " + QuoteArgument(platformPath)
	}
	return cmd + " " + QuoteArgument(symbolPath)
}
