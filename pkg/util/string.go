package util

import (
	"path/filepath"
	"strings"
)

// ParseTags parses a comma-separated tag string into a clean slice.
// Surrounding brackets and quotes are tolerated so both `a, b` and
// `["a","b"]` style inputs work.
func ParseTags(tagStr string) []string {
	if tagStr == "" {
		return []string{}
	}

	tagStr = strings.Trim(tagStr, "[]")

	var tags []string
	for _, tag := range strings.Split(tagStr, ",") {
		tag = strings.TrimSpace(tag)
		tag = strings.Trim(tag, "\"'")
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	if tags == nil {
		return []string{}
	}
	return tags
}

// TitleFromFilename derives a human-readable title from an asset path:
// the base name without extension, with separator characters folded to
// spaces.
func TitleFromFilename(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.NewReplacer("_", " ", ".", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
