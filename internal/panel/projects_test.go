package panel

import "testing"

func TestInferRepoName(t *testing.T) {
	tests := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"/home/u/src/manicai", "ManicAI", true},
		{"/srv/ManicAI/web", "ManicAI", true},
		{"/opt/coggy", "coggy", true},
		{"/home/u/projects/hyperpanel/", "hyperpanel", true},
		{"/home/u/projects/widget/", "widget", true},
		{"plain", "plain", true},
		{"   ", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := InferRepoName(tt.path)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("InferRepoName(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestGitHubURL(t *testing.T) {
	if got, ok := GitHubURL("/x/atlas"); !ok || got != "https://github.com/uprootiny/atlas" {
		t.Errorf("GitHubURL = %q, %v", got, ok)
	}
	if _, ok := GitHubURL(""); ok {
		t.Error("GitHubURL(\"\") should fail")
	}
}
