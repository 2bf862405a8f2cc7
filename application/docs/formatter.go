package docs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Section markers delimit the generated block inside a documentation file
const (
	StartMarker = "<!-- consumerdocs:start -->"
	EndMarker   = "<!-- consumerdocs:end -->"
)

// RenderMarkdown renders the endpoint map of a service as markdown
func RenderMarkdown(serviceName string, endpoints []Endpoint) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## API consumers: %s\n\n", serviceName)
	b.WriteString("_Generated from observed production traffic. Edits inside this section are overwritten on the next sync._\n")

	if len(endpoints) == 0 {
		b.WriteString("\nNo traffic has been recorded for this service yet.\n")
		return b.String()
	}

	for _, ep := range endpoints {
		fmt.Fprintf(&b, "\n### `%s`\n", ep.Name())
		for _, c := range ep.Callers {
			fmt.Fprintf(&b, "\n**%s** (%d calls", c.Caller, c.CallCount)
			if !c.LastSeen.IsZero() {
				fmt.Fprintf(&b, ", last seen %s", c.LastSeen.UTC().Format(time.DateOnly))
			}
			b.WriteString(")\n\n")
			writeList(&b, "Request fields", c.RequestFields, true)
			writeList(&b, "Headers", c.RequestHeaders, true)
			writeList(&b, "Query params", c.QueryParams, true)
			writeList(&b, "Response codes", c.ResponseCodes, false)
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string, code bool) {
	if len(items) == 0 {
		return
	}
	quoted := items
	if code {
		quoted = make([]string, len(items))
		for i, item := range items {
			quoted[i] = "`" + item + "`"
		}
	}
	fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(quoted, ", "))
}

// GenerateSection renders the markdown section wrapped in the markers
func GenerateSection(serviceName string, endpoints []Endpoint) string {
	return StartMarker + "\n" + RenderMarkdown(serviceName, endpoints) + EndMarker
}

// UpdateFile writes section into the file at path. A missing file is
// created, an existing marked section is replaced in place and anything
// else gets the section appended. Running it twice with the same section
// leaves the file unchanged.
func UpdateFile(path, section string) error {
	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	updated := spliceSection(content, section)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func spliceSection(content []byte, section string) []byte {
	if len(content) == 0 {
		return []byte(section + "\n")
	}

	start := bytes.Index(content, []byte(StartMarker))
	if start >= 0 {
		if end := bytes.Index(content[start:], []byte(EndMarker)); end >= 0 {
			end += start + len(EndMarker)
			var out bytes.Buffer
			out.Write(content[:start])
			out.WriteString(section)
			out.Write(content[end:])
			return out.Bytes()
		}
	}

	var out bytes.Buffer
	out.Write(bytes.TrimRight(content, "\n"))
	out.WriteString("\n\n")
	out.WriteString(section)
	out.WriteString("\n")
	return out.Bytes()
}
