package project

import "testing"

func TestImage(t *testing.T) {
	if got := (&Project{}).Image(); got != "buildpack-deps:bookworm-scm" {
		t.Errorf("default image = %q, want an image that ships git", got)
	}
	if got := (&Project{BaseImage: "golang:1.25"}).Image(); got != "golang:1.25" {
		t.Errorf("Image() = %q, want project image", got)
	}
}
