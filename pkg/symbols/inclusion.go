package symbols

import (
	"fmt"
	"regexp"
	"strings"
)

// InclusionSettings decides which modules get their files loaded. Patterns
// are file name wildcards ('*' and '?'), matched case insensitively.
type InclusionSettings struct {
	// IsManualLoad selects the include list: only modules matching it are
	// loaded. Otherwise every module not matching the exclude list is.
	IsManualLoad bool
	ExcludeList  []string
	IncludeList  []string
}

// ModuleExcludedMessage is the reason reported for modules skipped because
// of the inclusion settings.
func ModuleExcludedMessage(name string) string {
	return fmt.Sprintf("Symbol loading for %s disabled by Include/Exclude setting.", name)
}

// IsModuleIncluded returns true if files of the module called name should
// be loaded. A nil receiver includes everything.
func (s *InclusionSettings) IsModuleIncluded(name string) bool {
	if s == nil {
		return true
	}
	if s.IsManualLoad {
		return matchesAny(name, s.IncludeList)
	}
	return !matchesAny(name, s.ExcludeList)
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if wildcardRegexp(p).MatchString(name) {
			return true
		}
	}
	return false
}

func wildcardRegexp(pattern string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.Replace(quoted, `\*`, ".*", -1)
	quoted = strings.Replace(quoted, `\?`, ".", -1)
	return regexp.MustCompile("(?i)^" + quoted + "$")
}
