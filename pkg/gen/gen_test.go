package gen_test

import (
	"testing"

	"tubefetch/pkg/gen"

	"github.com/google/uuid"
)

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{name: "source and quality", parts: []string{"https://youtube.com/watch?v=abc", "1080"}, want: "https://youtube.com/watch?v=abc|1080"},
		{name: "empty first", parts: []string{"", "audio"}, want: "|audio"},
		{name: "single", parts: []string{"abc"}, want: "abc"},
		{name: "none", parts: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := gen.Key(tt.parts...); got != tt.want {
				t.Fatalf("Key(%q) = %q, want %q", tt.parts, got, tt.want)
			}
		})
	}
}

func TestUUIDv5(t *testing.T) {
	t.Parallel()

	id := gen.UUIDv5("https://youtube.com/watch?v=abc", "1080")

	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}

	if parsed.Version() != 5 {
		t.Errorf("version = %d, want 5", parsed.Version())
	}

	if again := gen.UUIDv5("https://youtube.com/watch?v=abc", "1080"); again != id {
		t.Errorf("not stable: %q vs %q", id, again)
	}

	for _, other := range [][]string{
		{"https://youtube.com/watch?v=abc", "720"},
		{"https://youtube.com/watch?v=abd", "1080"},
	} {
		if gen.UUIDv5(other...) == id {
			t.Errorf("UUIDv5(%q) collides with %q", other, id)
		}
	}
}
