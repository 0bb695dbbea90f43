package ralph

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Artifact is one file written from a code agent's response.
type Artifact struct {
	Lang string
	Path string
	Body string
}

// fenceRe matches a fenced code block: ```<info>\n<body>```.
var fenceRe = regexp.MustCompile("(?s)```([^\n`]*)\n(.*?)```")

// shapeAHeaderRe matches "<lang>:<path>" info strings; the "<lang>\n<path>"
// form is recognised separately in ParseArtifacts.
var shapeAHeaderRe = regexp.MustCompile(`^([A-Za-z0-9_+-]+):(\S+)$`)

var classOrFuncRe = regexp.MustCompile(`(?m)^\s*(?:class|def|func|function)\s+([A-Za-z_][A-Za-z0-9_]*)`)

var langExtensions = map[string]string{
	"python": "py", "py": "py", "go": "go", "javascript": "js", "js": "js",
	"typescript": "ts", "ts": "ts", "java": "java", "rust": "rs", "c": "c", "cpp": "cpp",
}

// ParseArtifacts implements spec.md §4.6 step g's two-shape extraction.
// Shape A (labelled "<lang>:<path>") is preferred; Shape B (plain fenced
// blocks, path inferred from the first declared class/function name or a
// counter) is the fallback when A matches nothing.
func ParseArtifacts(response string) []Artifact {
	matches := fenceRe.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return nil
	}

	var shapeA []Artifact
	for _, m := range matches {
		info := strings.TrimSpace(m[1])
		body := m[2]
		if hdr := shapeAHeaderRe.FindStringSubmatch(info); hdr != nil {
			shapeA = append(shapeA, Artifact{Lang: hdr[1], Path: hdr[2], Body: body})
			continue
		}
		// "<lang>\n<path>" on the first body line.
		lines := strings.SplitN(body, "\n", 2)
		if len(lines) == 2 && isLikelyPath(strings.TrimSpace(lines[0])) {
			shapeA = append(shapeA, Artifact{Lang: info, Path: strings.TrimSpace(lines[0]), Body: lines[1]})
		}
	}
	if len(shapeA) > 0 {
		return shapeA
	}

	var shapeB []Artifact
	for i, m := range matches {
		lang := strings.TrimSpace(m[1])
		body := m[2]
		path := derivePath(lang, body, i)
		shapeB = append(shapeB, Artifact{Lang: lang, Path: path, Body: body})
	}
	return shapeB
}

func isLikelyPath(s string) bool {
	return s != "" && !strings.Contains(s, " ") && strings.Contains(s, ".")
}

func derivePath(lang, body string, index int) string {
	ext := langExtensions[strings.ToLower(lang)]
	if ext == "" {
		ext = "txt"
	}
	if m := classOrFuncRe.FindStringSubmatch(body); m != nil {
		return fmt.Sprintf("%s.%s", m[1], ext)
	}
	return fmt.Sprintf("artifact_%d.%s", index+1, ext)
}

// WriteArtifacts writes each artifact under {ralphWorkDir}/generated/{storyID}/{path},
// creating parent directories as needed, and returns the paths written.
func WriteArtifacts(ralphWorkDir, storyID string, artifacts []Artifact) ([]string, error) {
	root := filepath.Join(ralphWorkDir, "generated", storyID)
	var written []string
	for _, a := range artifacts {
		full := filepath.Join(root, a.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return written, fmt.Errorf("create artifact dir for %s: %w", a.Path, err)
		}
		if err := os.WriteFile(full, []byte(a.Body), 0o644); err != nil {
			return written, fmt.Errorf("write artifact %s: %w", a.Path, err)
		}
		written = append(written, a.Path)
	}
	return written, nil
}
