// Package epic turns a markdown task breakdown into registry tasks.
package epic

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/aristath/taskregistry/internal/task"
	"gopkg.in/yaml.v3"
)

// FrontMatter holds the optional YAML header shared by every task in the epic.
type FrontMatter struct {
	Objective string `yaml:"objective"`
	Phase     string `yaml:"phase"`
	Priority  string `yaml:"priority"`
	IDPrefix  string `yaml:"id_prefix"`
}

// Epic is a parsed breakdown.
type Epic struct {
	Title string
	Meta  FrontMatter
	Specs []task.Spec
}

var (
	taskHeading = regexp.MustCompile(`^##\s+([^:\s]+)\s*:\s*(.+?)\s*$`)
	metaLine    = regexp.MustCompile(`^(?i)(priority|phase|depends|tags|objective)\s*:\s*(.*)$`)
)

// ParseError reports a malformed line.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("epic line %d: %s", e.Line, e.Message)
}

// Parse reads an epic document.
//
// Task headings are "## <ID>: <Title>". Metadata lines (Priority, Phase,
// Depends, Tags, Objective) directly after a heading override the front
// matter; every other line up to the next heading is description. Ids that
// are plain numbers get the front matter id_prefix.
func Parse(r io.Reader) (*Epic, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read epic: %w", err)
	}

	epic := &Epic{}
	body, offset, err := splitFrontMatter(data, &epic.Meta)
	if err != nil {
		return nil, err
	}

	var defaultPriority *task.Priority
	if epic.Meta.Priority != "" {
		p, err := task.ParsePriority(epic.Meta.Priority)
		if err != nil {
			return nil, &ParseError{Line: 1, Message: err.Error()}
		}
		defaultPriority = &p
	}

	var (
		current     *task.Spec
		description []string
		inMeta      bool
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Description = strings.TrimSpace(strings.Join(description, "\n"))
		epic.Specs = append(epic.Specs, *current)
		current = nil
		description = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	lineNo := offset
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")

		if m := taskHeading.FindStringSubmatch(line); m != nil {
			flush()
			current = &task.Spec{
				ID:        epic.qualify(m[1]),
				Title:     m[2],
				Objective: epic.Meta.Objective,
				Phase:     epic.Meta.Phase,
				Priority:  defaultPriority,
			}
			inMeta = true
			continue
		}

		if current == nil {
			if strings.HasPrefix(line, "# ") && epic.Title == "" {
				epic.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			}
			continue
		}

		if inMeta {
			if m := metaLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				if err := epic.applyMeta(current, strings.ToLower(m[1]), m[2]); err != nil {
					return nil, &ParseError{Line: lineNo, Message: err.Error()}
				}
				continue
			}
			if strings.TrimSpace(line) == "" && len(description) == 0 {
				continue
			}
			inMeta = false
		}
		description = append(description, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan epic: %w", err)
	}
	flush()

	if len(epic.Specs) == 0 {
		return nil, &ParseError{Line: lineNo, Message: "no task headings found"}
	}
	seen := make(map[string]bool, len(epic.Specs))
	for _, spec := range epic.Specs {
		if seen[spec.ID] {
			return nil, &ParseError{Line: lineNo, Message: fmt.Sprintf("task %q declared twice", spec.ID)}
		}
		seen[spec.ID] = true
	}
	return epic, nil
}

func (e *Epic) applyMeta(spec *task.Spec, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "priority":
		p, err := task.ParsePriority(value)
		if err != nil {
			return err
		}
		spec.Priority = &p
	case "phase":
		spec.Phase = value
	case "objective":
		spec.Objective = value
	case "depends":
		for _, id := range splitList(value) {
			spec.Dependencies = append(spec.Dependencies, e.qualify(id))
		}
	case "tags":
		spec.Tags = append(spec.Tags, splitList(value)...)
	}
	return nil
}

// qualify prefixes bare numeric ids with the epic id prefix.
func (e *Epic) qualify(id string) string {
	if e.Meta.IDPrefix == "" || strings.Trim(id, "0123456789") != "" {
		return id
	}
	return e.Meta.IDPrefix + "-" + id
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !strings.EqualFold(part, "none") {
			out = append(out, part)
		}
	}
	return out
}

// splitFrontMatter decodes a leading "---" YAML block into meta and returns
// the remaining body plus the number of lines consumed.
func splitFrontMatter(data []byte, meta *FrontMatter) ([]byte, int, error) {
	rest, ok := bytes.CutPrefix(data, []byte("---\n"))
	if !ok {
		return data, 0, nil
	}
	front, body, ok := bytes.Cut(rest, []byte("\n---\n"))
	if !ok {
		if front, ok = bytes.CutSuffix(rest, []byte("\n---")); !ok {
			return nil, 0, &ParseError{Line: 1, Message: "unterminated front matter"}
		}
		body = nil
	}
	if err := yaml.Unmarshal(front, meta); err != nil {
		return nil, 0, &ParseError{Line: 2, Message: fmt.Sprintf("invalid front matter: %v", err)}
	}
	consumed := bytes.Count(front, []byte("\n")) + 3
	return body, consumed, nil
}
