package tags

import (
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	fixed := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	r := Renderer{Now: func() time.Time { return fixed }}
	vars := map[string]string{"FIRSTNAME": "Ann", "SUBSCRIBER_EMAIL": "ann@example.com"}

	cases := []struct {
		name string
		tpl  string
		vars map[string]string
		want string
	}{
		{"plain", "hello", vars, "hello"},
		{"curly", "hello {FIRSTNAME}", vars, "hello Ann"},
		{"square", "[SUBSCRIBER_EMAIL]", vars, "ann@example.com"},
		{"unknown tag renders empty", "hello {FIRSTNAME}", map[string]string{}, "hello "},
		{"no context", "hello [FIRSTNAME]!", nil, "hello !"},
		{"date", "[DATE]", nil, "2024-03-09"},
		{"datetime", "{DATETIME}", nil, "2024-03-09 14:05:06"},
		{"lowercase is not a tag", "[note] {x}", vars, "[note] {x}"},
		{"empty", "", vars, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Render(tc.tpl, tc.vars); got != tc.want {
				t.Fatalf("Render(%q) = %q, want %q", tc.tpl, got, tc.want)
			}
		})
	}
}
