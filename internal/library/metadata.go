package library

import (
	"strings"
)

// Metadata is the part description parsed from a script's leading docstring
// or comment block. All fields are optional; a script with no metadata block
// is indexed under its filename alone.
type Metadata struct {
	Name        string
	Description string
	Author      string
	Tags        []string
}

// parseMetadata extracts `Key: Value` lines from the leading docstring or
// leading comment block of a script. Keys are matched case-insensitively;
// tags are comma-split and lowercased. Lines whose key contains spaces are
// prose, not metadata, and are skipped.
func parseMetadata(script string) Metadata {
	var meta Metadata
	for _, line := range headerLines(script) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		switch strings.ToLower(key) {
		case "name", "part":
			meta.Name = value
		case "description":
			meta.Description = value
		case "author":
			meta.Author = value
		case "tags":
			for _, tag := range strings.Split(value, ",") {
				tag = strings.ToLower(strings.TrimSpace(tag))
				if tag != "" {
					meta.Tags = append(meta.Tags, tag)
				}
			}
		}
	}
	return meta
}

// headerLines returns the lines of the leading docstring (triple-quoted
// string at the top of the file) or, failing that, the leading # comment
// block.
func headerLines(script string) []string {
	lines := strings.Split(script, "\n")

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) {
		return nil
	}

	first := strings.TrimSpace(lines[i])
	for _, delim := range []string{`"""`, "'''"} {
		if !strings.HasPrefix(first, delim) {
			continue
		}
		rest := strings.TrimPrefix(first, delim)
		// Single-line docstring.
		if end := strings.Index(rest, delim); end >= 0 {
			return []string{rest[:end]}
		}
		var header []string
		if rest != "" {
			header = append(header, rest)
		}
		for j := i + 1; j < len(lines); j++ {
			if end := strings.Index(lines[j], delim); end >= 0 {
				header = append(header, lines[j][:end])
				return header
			}
			header = append(header, lines[j])
		}
		// Unterminated docstring: treat what we saw as the header.
		return header
	}

	if strings.HasPrefix(first, "#") {
		var header []string
		for j := i; j < len(lines); j++ {
			trimmed := strings.TrimSpace(lines[j])
			if !strings.HasPrefix(trimmed, "#") {
				break
			}
			header = append(header, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
		}
		return header
	}

	return nil
}
