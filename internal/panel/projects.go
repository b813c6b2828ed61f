package panel

import (
	"sort"
	"strings"
)

// RepoOwner is the GitHub account projects are published under.
const RepoOwner = "uprootiny"

// repoOverrides maps path tokens to repository names whose case or
// spelling differs from the directory.
var repoOverrides = map[string]string{
	"coggy":      "coggy",
	"hyle":       "hyle",
	"hyperpanel": "hyperpanel",
	"atlas":      "atlas",
	"manicai":    "ManicAI",
}

// InferRepoName derives a repository name from a project path. Known
// tokens win; otherwise the last path element is used.
func InferRepoName(path string) (string, bool) {
	cleaned := strings.TrimSpace(path)
	if cleaned == "" {
		return "", false
	}
	lower := strings.ToLower(cleaned)
	tokens := make([]string, 0, len(repoOverrides))
	for t := range repoOverrides {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	for _, t := range tokens {
		if strings.Contains(lower, "/"+t) || strings.HasSuffix(lower, t) {
			return repoOverrides[t], true
		}
	}
	parts := strings.Split(strings.TrimRight(cleaned, "/"), "/")
	last := strings.TrimSpace(parts[len(parts)-1])
	if last == "" {
		return "", false
	}
	return last, true
}

// GitHubURL returns the repository URL for a project path.
func GitHubURL(path string) (string, bool) {
	repo, ok := InferRepoName(path)
	if !ok {
		return "", false
	}
	return "https://github.com/" + RepoOwner + "/" + repo, true
}
