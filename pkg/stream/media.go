package stream

import (
	"regexp"
	"strings"
)

// Patterns for media references embedded in upstream message text.
var (
	markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
	videoTagPattern      = regexp.MustCompile(`<video[^>]*\ssrc="([^"]+)"`)
)

// extractRefs collects media references from message text plus the explicit
// URL lists of the terminal frame, deduplicated in first-seen order.
// References that already point at the cache are skipped so re-processing a
// rewritten message is a no-op.
func extractRefs(message, publicBase string, explicit ...[]string) []string {
	seen := make(map[string]bool)
	var refs []string

	add := func(ref string) {
		if ref == "" || seen[ref] {
			return
		}
		if strings.HasPrefix(ref, publicBase+"/") || strings.HasPrefix(ref, "data:") {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	for _, m := range markdownImagePattern.FindAllStringSubmatch(message, -1) {
		add(m[1])
	}
	for _, m := range videoTagPattern.FindAllStringSubmatch(message, -1) {
		add(m[1])
	}
	for _, list := range explicit {
		for _, ref := range list {
			add(ref)
		}
	}
	return refs
}

// rewriteMessage replaces every fetched reference in the message with its
// rewritten URL. References that failed to fetch are left untouched.
func rewriteMessage(message string, rewritten map[string]string) string {
	for ref, url := range rewritten {
		message = strings.ReplaceAll(message, ref, url)
	}
	return message
}
