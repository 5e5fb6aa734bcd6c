package fsprobe

import (
	"testing"

	"github.com/slyckmb/hashall/internal/pathresolve"
)

func TestOwningMountPrefersLongestPrefix(t *testing.T) {
	mounts := []pathresolve.Mount{
		{Target: "/", FSType: "ext4"},
		{Target: "/warm", FSType: "ext4"},
		{Target: "/warm/media", FSType: "zfs"},
	}

	got := owningMount("/warm/media/movies/foo.mkv", mounts)
	if got == nil || got.Target != "/warm/media" {
		t.Fatalf("got %+v, want /warm/media", got)
	}
}

func TestOwningMountExactMatch(t *testing.T) {
	mounts := []pathresolve.Mount{{Target: "/warm/media", FSType: "zfs"}}
	got := owningMount("/warm/media", mounts)
	if got == nil || got.Target != "/warm/media" {
		t.Fatalf("got %+v", got)
	}
}

func TestOwningMountNoMatch(t *testing.T) {
	mounts := []pathresolve.Mount{{Target: "/warm", FSType: "ext4"}}
	if got := owningMount("/cold/data", mounts); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestFallbackUUIDDeterministic(t *testing.T) {
	a := fallbackUUID("tank/media")
	b := fallbackUUID("tank/media")
	if a != b {
		t.Fatalf("fallback UUID not deterministic: %q != %q", a, b)
	}
	c := fallbackUUID("tank/other")
	if a == c {
		t.Fatalf("fallback UUID collided across different sources")
	}
}
