package policy

import (
	"regexp"
	"sync"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/canon"
)

// matchArgumentPattern applies pattern, case-insensitively, to the
// canonical JSON serialization of arguments. Unredacted: redaction is an
// audit-persistence concern only, applied separately before a canonical
// form is written to the hash chain. A rule written to catch a leaked
// secret value must see the real value.
func matchArgumentPattern(pattern string, arguments map[string]interface{}) (bool, error) {
	re, err := compiledArgPattern(pattern)
	if err != nil {
		return false, err
	}
	serialized, err := canon.Serialize(arguments)
	if err != nil {
		return false, err
	}
	return re.Match(serialized), nil
}

var (
	argPatternCacheMu sync.RWMutex
	argPatternCache   = map[string]*regexp.Regexp{}
)

func compiledArgPattern(pattern string) (*regexp.Regexp, error) {
	argPatternCacheMu.RLock()
	re, ok := argPatternCache[pattern]
	argPatternCacheMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}

	argPatternCacheMu.Lock()
	argPatternCache[pattern] = re
	argPatternCacheMu.Unlock()
	return re, nil
}

// scheduleMatches reports whether now falls within s's day-of-week set
// and [start_hour, end_hour] inclusive range, in s's timezone (system
// zone when Timezone is empty or fails to load).
func scheduleMatches(s *Schedule, now time.Time) bool {
	loc := time.Local
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if len(s.Days) > 0 {
		day := int(local.Weekday())
		found := false
		for _, d := range s.Days {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	hour := local.Hour()
	return hour >= s.StartHour && hour <= s.EndHour
}
