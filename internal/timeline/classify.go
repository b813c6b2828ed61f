package timeline

import (
	"path/filepath"
	"regexp"
	"strings"
)

var classifierRules = []struct {
	kind  Kind
	terms []string
}{
	{KindOntology, []string{"ontology", "atomspace", "concept", "grounding", "inference", "semantic", "coggy"}},
	{KindDuplex, []string{"openrouter", "provider", "duplex", "model", "llm", "api key"}},
	{KindGit, []string{"commit", "branch", "merge", "rebase", "git ", "push", "pull request"}},
	{KindFile, []string{"file", "patch", "diff", "extension", "path"}},
}

// Classify infers a kind from free text. Rules are checked in order and
// the first match wins; unmatched text is KindPrompt.
func Classify(text string) Kind {
	lower := strings.ToLower(text)
	for _, rule := range classifierRules {
		for _, term := range rule.terms {
			if strings.Contains(lower, term) {
				return rule.kind
			}
		}
	}
	return KindPrompt
}

var commitLine = regexp.MustCompile(`^([0-9a-f]{7,40})\s+(.+)$`)

// FileExtensions is the allow-list used to recognise file paths.
var FileExtensions = map[string]bool{
	".go": true, ".rs": true, ".swift": true, ".py": true, ".ts": true, ".tsx": true,
	".js": true, ".md": true, ".json": true, ".toml": true, ".yaml": true, ".yml": true,
	".clj": true, ".sh": true,
}

// Artifact is a git commit or file path found in text.
type Artifact struct {
	Kind Kind
	Text string
}

// ExtractArtifacts scans text for git commit summary lines and file paths
// with a recognised extension. Duplicates are reported once, in order of
// first appearance.
func ExtractArtifacts(text string) []Artifact {
	var out []Artifact
	seen := make(map[string]bool)
	add := func(k Kind, s string) {
		key := string(k) + "\x00" + s
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Artifact{Kind: k, Text: s})
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := commitLine.FindStringSubmatch(line); m != nil {
			add(KindGit, m[1]+" "+strings.TrimSpace(m[2]))
			continue
		}
		for _, tok := range strings.Fields(line) {
			tok = strings.TrimRight(strings.Trim(tok, "\"'`()[]{},;:"), ".")
			if tok == "" || strings.HasPrefix(tok, "http://") || strings.HasPrefix(tok, "https://") {
				continue
			}
			if FileExtensions[strings.ToLower(filepath.Ext(tok))] {
				add(KindFile, tok)
			}
		}
	}
	return out
}
