package zkpath

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		path       string
		sequential bool
		wantErr    bool
	}{
		{"/", false, false},
		{"/foo", false, false},
		{"/foo/bar", false, false},
		{"", false, true},
		{"foo", false, true},
		{"/foo/", false, true},
		{"/foo/", true, false},
		{"/foo//bar", false, true},
		{"/.", false, true},
		{"/..", false, true},
		{"/foo/../bar", false, true},
		{"/foo\x00bar", false, true},
		{"/foo\x01bar", false, true},
		{"/foo\x7fbar", false, true},
	}
	for _, tt := range tests {
		err := Validate(tt.path, tt.sequential)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q, %v) err = %v, wantErr %v", tt.path, tt.sequential, err, tt.wantErr)
		}
	}
}

func TestChrootRoundTrip(t *testing.T) {
	tests := []struct{ chroot, path string }{
		{"", "/x"},
		{"/app", "/x"},
		{"/app", "/"},
		{"/a/b", "/c/d"},
	}
	for _, tt := range tests {
		got := RemoveChroot(tt.chroot, PrependChroot(tt.chroot, tt.path))
		if got != tt.path {
			t.Errorf("RemoveChroot(PrependChroot(%q, %q)) = %q, want %q", tt.chroot, tt.path, got, tt.path)
		}
	}
}

func TestPrependChroot(t *testing.T) {
	if got := PrependChroot("/app", "/x"); got != "/app/x" {
		t.Errorf("got %q, want /app/x", got)
	}
	if got := PrependChroot("", "/x"); got != "/x" {
		t.Errorf("got %q, want /x", got)
	}
}

func TestRemoveChrootIdempotent(t *testing.T) {
	// chroot not actually a prefix: returned unchanged
	if got := RemoveChroot("/app", "/other"); got != "/other" {
		t.Errorf("got %q, want /other", got)
	}
	// applying twice is a no-op once the prefix is gone
	once := RemoveChroot("/app", "/app/x")
	twice := RemoveChroot("/app", once)
	if once != twice {
		t.Errorf("RemoveChroot not idempotent: %q != %q", once, twice)
	}
}
