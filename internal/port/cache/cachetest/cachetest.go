// Package cachetest checks a cache.Cache implementation against the port contract.
package cachetest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Strob0t/taskrunner/internal/port/cache"
)

// Run exercises c with keys shaped like the search cache's.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	get := func(t *testing.T, key string) ([]byte, bool) {
		t.Helper()
		v, ok, err := c.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		return v, ok
	}
	set := func(t *testing.T, key string, v []byte) {
		t.Helper()
		if err := c.Set(ctx, key, v, time.Minute); err != nil {
			t.Fatalf("Set(%q): %v", key, err)
		}
	}

	t.Run("round trip", func(t *testing.T) {
		for _, key := range []string{
			"search:v1:golang generics",
			"search:v1:what is ülpidyne?",
			"search:v1:a/b=c_d-e.f",
		} {
			want := []byte(`{"results":[{"title":"` + key + `"}]}`)
			set(t, key, want)
			got, ok := get(t, key)
			if !ok || !bytes.Equal(got, want) {
				t.Errorf("Get(%q) = %q, %v", key, got, ok)
			}
		}
	})

	t.Run("miss", func(t *testing.T) {
		if v, ok := get(t, "search:v1:never stored"); ok || v != nil {
			t.Errorf("miss returned %q, %v", v, ok)
		}
	})

	t.Run("binary value", func(t *testing.T) {
		want := []byte{0, 1, 0xff, '\n', 0}
		set(t, "search:v1:binary", want)
		if got, ok := get(t, "search:v1:binary"); !ok || !bytes.Equal(got, want) {
			t.Errorf("got %v, %v", got, ok)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		set(t, "search:v1:stale", []byte("old"))
		set(t, "search:v1:stale", []byte("fresh"))
		if got, _ := get(t, "search:v1:stale"); string(got) != "fresh" {
			t.Errorf("got %q, want fresh", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		set(t, "search:v1:gone", []byte("x"))
		if err := c.Delete(ctx, "search:v1:gone"); err != nil {
			t.Fatal(err)
		}
		if _, ok := get(t, "search:v1:gone"); ok {
			t.Error("entry survived Delete")
		}
		if err := c.Delete(ctx, "search:v1:gone"); err != nil {
			t.Errorf("second Delete: %v", err)
		}
	})
}
