package scheduler

import (
	"cmp"
	"slices"
	"strings"
)

// Substitute replaces {key} placeholders in body with their values. Longer
// keys are replaced first so {user2} is never consumed by {user}.
func Substitute(body string, values []SensitiveValue) string {
	if len(values) == 0 {
		return body
	}
	ordered := slices.Clone(values)
	slices.SortStableFunc(ordered, func(a, b SensitiveValue) int {
		return cmp.Compare(len(b.Key), len(a.Key))
	})
	for _, v := range ordered {
		if v.Key == "" {
			continue
		}
		body = strings.ReplaceAll(body, "{"+v.Key+"}", v.Value)
	}
	return body
}
