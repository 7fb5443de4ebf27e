package activity

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Parser turns agent output fragments into Activity records. Fragments may be
// structured JSON lines (the agent's stream-json mode) or free text.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// structuredFragment mirrors the agent's JSON event shape.
type structuredFragment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Tool     string `json:"tool"`
	FilePath string `json:"file_path"`
	Path     string `json:"path"`
	Command  string `json:"command"`
	Content  string `json:"content"`
	Status   string `json:"status"`
}

var (
	reCreate  = regexp.MustCompile(`(?i)^(?:creating|writing|created|wrote)\s+(?:file\s+)?` + "`?" + `([\w./~-]+\.\w+)` + "`?")
	reEdit    = regexp.MustCompile(`(?i)^(?:editing|updating|modifying|edited|updated|modified)\s+(?:file\s+)?` + "`?" + `([\w./~-]+\.\w+)` + "`?")
	reCommand = regexp.MustCompile(`(?i)^(?:running|executing|ran)\s*:?\s+` + "`?" + `(.+?)` + "`?" + `\s*$`)
)

// Parse converts one fragment into zero or one Activity. Fragments that are
// pure narration yield nothing.
func (p *Parser) Parse(fragment string) (Activity, bool) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return Activity{}, false
	}

	if strings.HasPrefix(fragment, "{") {
		if a, ok := p.parseStructured(fragment); ok {
			return a, true
		}
	}
	return p.parseText(fragment)
}

func (p *Parser) parseStructured(fragment string) (Activity, bool) {
	var sf structuredFragment
	if err := json.Unmarshal([]byte(fragment), &sf); err != nil {
		return Activity{}, false
	}

	path := sf.FilePath
	if path == "" {
		path = sf.Path
	}

	var typ Type
	switch {
	case sf.Type == "file_create" || sf.Tool == "write_file":
		typ = TypeFileCreate
	case sf.Type == "file_edit" || sf.Tool == "edit_file":
		typ = TypeFileEdit
	case sf.Type == "command" || sf.Tool == "bash" || sf.Command != "":
		typ = TypeCommand
	default:
		return Activity{}, false
	}

	content := sf.Content
	if typ == TypeCommand && sf.Command != "" {
		content = sf.Command
	}

	id := sf.ID
	if id == "" {
		id = StableID(typ, path, content)
	}

	status := Status(sf.Status)
	switch status {
	case StatusPending, StatusInProgress, StatusSuccess, StatusError:
	default:
		status = StatusInProgress
	}

	return Activity{ID: id, Type: typ, FilePath: path, Content: content, Status: status}, true
}

func (p *Parser) parseText(fragment string) (Activity, bool) {
	// Only the first line of a multi-line fragment carries the action verb.
	line := fragment
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}

	done := regexp.MustCompile(`(?i)^(?:created|wrote|edited|updated|modified|ran)\b`).MatchString(line)
	status := StatusInProgress
	if done {
		status = StatusSuccess
	}

	if m := reCreate.FindStringSubmatch(line); m != nil {
		path := strings.Trim(m[1], "`.,")
		return Activity{
			ID:       StableID(TypeFileCreate, path, ""),
			Type:     TypeFileCreate,
			FilePath: path,
			Status:   status,
		}, true
	}
	if m := reEdit.FindStringSubmatch(line); m != nil {
		path := strings.Trim(m[1], "`.,")
		return Activity{
			ID:       StableID(TypeFileEdit, path, ""),
			Type:     TypeFileEdit,
			FilePath: path,
			Status:   status,
		}, true
	}
	if m := reCommand.FindStringSubmatch(line); m != nil {
		cmd := strings.Trim(m[1], "`")
		return Activity{
			ID:      StableID(TypeCommand, "", cmd),
			Type:    TypeCommand,
			Content: cmd,
			Status:  status,
		}, true
	}
	return Activity{}, false
}
