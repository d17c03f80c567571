package gateway

import "strings"

// DefaultBaseURL is used when no backend address is configured.
const DefaultBaseURL = "http://127.0.0.1:8000"

// Root normalizes a configured backend address: surrounding whitespace and
// trailing slashes are removed, then one trailing "/api" segment.
func Root(base string) string {
	root := strings.TrimRight(strings.TrimSpace(base), "/")
	if root == "" {
		root = DefaultBaseURL
	}
	root = strings.TrimSuffix(root, "/api")
	return strings.TrimRight(root, "/")
}

// Candidates returns the bulk-import URLs for resource, in the order they are
// tried: the "/api"-prefixed form first, then the bare form.
func Candidates(base, resource string) []string {
	return candidateURLs(base, resource, "bulk_import")
}

// SchemaCandidates returns the schema URLs for resource in trial order.
func SchemaCandidates(base, resource string) []string {
	return candidateURLs(base, resource, "schema")
}

func candidateURLs(base, resource, action string) []string {
	root := Root(base)
	path := strings.Trim(resource, "/") + "/" + action

	urls := []string{
		root + "/api/" + path,
		root + "/" + path,
	}
	return dedupe(urls)
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
