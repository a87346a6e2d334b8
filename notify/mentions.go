package notify

import "regexp"

var mentionRe = regexp.MustCompile(`@([A-Za-z0-9_]+)`)

// ExtractMentions returns the distinct handles mentioned in content, in the
// order they first appear. Handles are case-sensitive.
func ExtractMentions(content string) []string {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	handles := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		handles = append(handles, m[1])
	}
	return handles
}
