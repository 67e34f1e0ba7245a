package pipeline

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/quill/internal/domain"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}).ParseFS(promptFS, "prompts/*.tmpl"))

type ideaPromptData struct {
	Focus       string
	Audience    string
	Count       int
	Context     string
	KnownTitles []string
}

type outlinePromptData struct {
	Idea    domain.IdeaPayload
	Context string
}

type draftPromptData struct {
	Outline  domain.OutlinePayload
	Context  string
	MinWords int
}

func renderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}
