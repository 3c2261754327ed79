package project

import (
	"errors"
	"testing"
)

func TestParseRemote(t *testing.T) {
	tests := []struct {
		raw       string
		host      string
		path      string
		ssh       bool
		tokenUser string
	}{
		{"https://github.com/acme/api", "github.com", "acme/api", false, "x-access-token"},
		{"https://GitHub.com/acme/api.git", "github.com", "acme/api", false, "x-access-token"},
		{"git@github.com:acme/api.git", "github.com", "acme/api", true, "x-access-token"},
		{"https://gitlab.com/group/sub/project", "gitlab.com", "group/sub/project", false, "oauth2"},
		{"https://gitlab.corp.example/g/p", "gitlab.corp.example", "g/p", false, "oauth2"},
		{"https://bitbucket.org/team/repo/", "bitbucket.org", "team/repo", false, "x-token-auth"},
		{"http://git.example.com:3000/org/repo", "git.example.com", "org/repo", false, "x-access-token"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r, err := ParseRemote(tt.raw)
			if err != nil {
				t.Fatalf("ParseRemote: %v", err)
			}
			if r.Host != tt.host || r.Path != tt.path || r.SSH != tt.ssh {
				t.Errorf("remote = %+v", r)
			}
			if got := r.TokenUser(); got != tt.tokenUser {
				t.Errorf("TokenUser = %q, want %q", got, tt.tokenUser)
			}
			if r.AcceptsToken() == tt.ssh {
				t.Errorf("AcceptsToken = %v for ssh=%v", r.AcceptsToken(), tt.ssh)
			}
		})
	}
}

func TestParseRemoteRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"ftp://example.com/a/b",
		"https://github.com/acme",
		"git@github.com/acme/api",
		"https:///acme/api",
		"/srv/git/api",
	} {
		if _, err := ParseRemote(raw); !errors.Is(err, ErrInvalidRemote) {
			t.Errorf("ParseRemote(%q) error = %v, want ErrInvalidRemote", raw, err)
		}
	}
}
