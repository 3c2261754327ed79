// Package project defines the Project domain entity.
package project

import "time"

// DefaultBaseImage is used when a project does not name its own sandbox image.
// The workspace is cloned inside the sandbox, so the image must ship git.
const DefaultBaseImage = "buildpack-deps:bookworm-scm"

// Project represents a code repository tasks are executed against.
type Project struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	GitRepositoryURL string    `json:"git_repository_url"`
	GitAccessToken   string    `json:"-"`
	BaseImage        string    `json:"base_image,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Image returns the sandbox image for the project.
func (p *Project) Image() string {
	if p.BaseImage != "" {
		return p.BaseImage
	}
	return DefaultBaseImage
}

// HasToken reports whether the project carries a git access token.
func (p *Project) HasToken() bool {
	return p.GitAccessToken != ""
}
