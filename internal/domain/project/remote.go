package project

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrInvalidRemote is returned for repository URLs that cannot be cloned.
var ErrInvalidRemote = errors.New("invalid repository url")

// Remote is a parsed git repository location.
type Remote struct {
	Host string
	Path string // owner/name, without .git
	SSH  bool
}

// forgeTokenUsers holds the basic-auth user each forge pairs with an access token.
var forgeTokenUsers = map[string]string{
	"github.com":    "x-access-token",
	"gitlab.com":    "oauth2",
	"bitbucket.org": "x-token-auth",
}

// ParseRemote accepts https://host/owner/name[.git] and git@host:owner/name[.git].
func ParseRemote(raw string) (Remote, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Remote{}, fmt.Errorf("%w: empty", ErrInvalidRemote)
	case strings.HasPrefix(raw, "git@"):
		host, p, ok := strings.Cut(strings.TrimPrefix(raw, "git@"), ":")
		if !ok || host == "" {
			return Remote{}, fmt.Errorf("%w: %s has no host:path separator", ErrInvalidRemote, raw)
		}
		return newRemote(host, p, true)
	case strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return Remote{}, fmt.Errorf("%w: %s", ErrInvalidRemote, raw)
		}
		return newRemote(u.Hostname(), u.Path, false)
	default:
		return Remote{}, fmt.Errorf("%w: unsupported scheme in %s", ErrInvalidRemote, raw)
	}
}

func newRemote(host, p string, ssh bool) (Remote, error) {
	p = strings.Trim(strings.TrimSuffix(path.Clean("/"+p), ".git"), "/")
	owner, name, ok := strings.Cut(p, "/")
	if !ok || owner == "" || name == "" {
		return Remote{}, fmt.Errorf("%w: expected owner/name path on %s", ErrInvalidRemote, host)
	}
	return Remote{Host: strings.ToLower(host), Path: p, SSH: ssh}, nil
}

// AcceptsToken reports whether an access token can authenticate the clone.
// SSH remotes authenticate with keys only.
func (r Remote) AcceptsToken() bool {
	return !r.SSH
}

// TokenUser returns the basic-auth user to pair with an access token.
// Self-hosted GitLab uses its oauth2 convention; other unknown hosts get
// GitHub's, which Gitea and Forgejo accept too.
func (r Remote) TokenUser() string {
	if u, ok := forgeTokenUsers[r.Host]; ok {
		return u
	}
	if strings.Contains(r.Host, "gitlab") {
		return forgeTokenUsers["gitlab.com"]
	}
	return forgeTokenUsers["github.com"]
}
