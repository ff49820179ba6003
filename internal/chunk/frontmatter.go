package chunk

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// SplitFrontmatter separates a leading YAML frontmatter block from the note
// body. It returns the parsed key/value pairs and the remaining body text.
// Notes without a frontmatter block return an empty map and the full text.
//
// A block that is not valid YAML is still stripped from the body; its values
// are simply not captured.
func SplitFrontmatter(text string) (map[string]string, string) {
	rest, ok := strings.CutPrefix(text, frontmatterDelimiter+"\n")
	if !ok {
		// A frontmatter-only file may end without a trailing newline.
		if text == frontmatterDelimiter {
			return map[string]string{}, ""
		}
		return map[string]string{}, text
	}

	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return map[string]string{}, text
	}

	block := rest[:end]
	body := rest[end+len("\n"+frontmatterDelimiter):]
	body = strings.TrimPrefix(body, "\n")

	return parseFrontmatter(block), body
}

// parseFrontmatter decodes a YAML mapping into flat string pairs.
// Non-scalar values are rendered with fmt.Sprint.
func parseFrontmatter(block string) map[string]string {
	out := map[string]string{}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return out
	}

	for k, v := range raw {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
