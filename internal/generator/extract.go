package generator

import (
	"regexp"
	"strings"

	"github.com/psantana5/modelsearch/pkg/models"
)

// ClassName is the class every candidate must define.
const ClassName = "GeneratedCNN"

var (
	pythonBlock  = regexp.MustCompile("(?s)```python\\s*(.*?)\\s*```")
	genericBlock = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ExtractCode pulls the candidate source out of a model reply. It prefers a
// python fenced block, then any fenced block defining the class, then every
// line from the class definition onwards.
func ExtractCode(text string) (string, error) {
	if m := pythonBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), nil
	}

	if m := genericBlock.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(m[1])
		if strings.Contains(code, "class "+ClassName) {
			return code, nil
		}
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.Contains(line, "class "+ClassName) {
			return strings.Join(lines[i:], "\n"), nil
		}
	}

	return "", models.Recoverable("could not extract Python code from LLM response")
}
