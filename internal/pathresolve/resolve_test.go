package pathresolve

import "testing"

func TestToRelPathToAbsPathRoundTrip(t *testing.T) {
	tests := []struct {
		abs, preferred, mount string
	}{
		{"/warm/media/movies/foo.mkv", "/warm/media", ""},
		{"/warm/media", "/warm/media", ""},
		{"/data/sub/a.bin", "", "/data"},
	}

	for _, tt := range tests {
		rel, err := ToRelPath(tt.abs, tt.preferred, tt.mount)
		if err != nil {
			t.Fatalf("ToRelPath(%q): %v", tt.abs, err)
		}
		got := ToAbsPath(rel, tt.preferred, tt.mount)
		if got != tt.abs {
			t.Errorf("round trip: ToAbsPath(ToRelPath(%q)) = %q, want %q", tt.abs, got, tt.abs)
		}
	}
}

func TestToRelPathRejectsOutsideMount(t *testing.T) {
	if _, err := ToRelPath("/other/path", "/warm/media", ""); err == nil {
		t.Fatal("expected error for path outside mount point")
	}
}

func TestParseMountinfoLine(t *testing.T) {
	line := `36 35 98:0 / /warm/media rw,noatime shared:1 - zfs tank/media rw,xattr`
	m, ok := parseMountinfoLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if m.Target != "/warm/media" || m.FSType != "zfs" || m.Source != "tank/media" {
		t.Fatalf("got %+v", m)
	}
}

func TestParseMountinfoLineWithEscapedSpace(t *testing.T) {
	line := `37 35 8:1 / /mnt/my\040drive rw - ext4 /dev/sda1 rw`
	m, ok := parseMountinfoLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if m.Target != "/mnt/my drive" {
		t.Fatalf("Target = %q, want unescaped space", m.Target)
	}
}

func TestResolveBindSourcePrefersLongestMatch(t *testing.T) {
	mounts := []Mount{
		{Source: "/warm/media", Target: "/alias/media", FSType: "none"},
		{Source: "/warm/media/movies", Target: "/alias/media/movies", FSType: "none"},
	}

	got, err := ResolveBindSource("/alias/media/movies/foo.mkv", mounts)
	if err != nil {
		t.Fatal(err)
	}
	want := "/warm/media/movies/foo.mkv"
	if got != want {
		t.Fatalf("ResolveBindSource = %q, want %q", got, want)
	}
}

func TestResolveBindSourceUnmatchedReturnsInput(t *testing.T) {
	got, err := ResolveBindSource("/plain/path/file.bin", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/plain/path/file.bin" {
		t.Fatalf("got %q", got)
	}
}
