package source

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func collectObjects(t *testing.T, s *ArrayScanner) []string {
	t.Helper()
	var out []string
	for {
		obj, err := s.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("unexpected scan error: %v", err)
		}
		out = append(out, string(obj))
	}
}

func TestArrayScanner_WalksSnapshotFormat(t *testing.T) {
	input := `[
{"id":"a","name":"Alpha"},
{"id":"b","name":"Beta"},
{"id":"c","name":"Gamma"}
]`

	objs := collectObjects(t, NewArrayScanner(strings.NewReader(input)))
	if len(objs) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(objs))
	}

	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(objs[2]), &rec); err != nil {
		t.Fatalf("last object not parseable: %v", err)
	}
	if rec.ID != "c" {
		t.Errorf("expected source order preserved, last id = %q", rec.ID)
	}
}

func TestArrayScanner_SkipsMalformedFragments(t *testing.T) {
	input := `[
{"id":"a"},
{"id":"b", broken
{"id":"c"},
]`

	scanner := NewArrayScanner(strings.NewReader(input))
	objs := collectObjects(t, scanner)

	if len(objs) != 2 {
		t.Fatalf("expected 2 valid objects, got %d: %v", len(objs), objs)
	}
	if scanner.MalformedCount() != 1 {
		t.Errorf("expected 1 malformed fragment, got %d", scanner.MalformedCount())
	}
}

func TestArrayScanner_EdgeLayouts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{
			name:  "empty array",
			input: "[]",
			want:  0,
		},
		{
			name:  "empty array on two lines",
			input: "[\n]",
			want:  0,
		},
		{
			name:  "bracket glued to first object",
			input: "[{\"id\":\"a\"},\n{\"id\":\"b\"}]",
			want:  2,
		},
		{
			name:  "no trailing newline",
			input: "[\n{\"id\":\"a\"}\n]",
			want:  1,
		},
		{
			name:  "blank lines between records",
			input: "[\n{\"id\":\"a\"},\n\n{\"id\":\"b\"}\n]",
			want:  2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			objs := collectObjects(t, NewArrayScanner(strings.NewReader(tc.input)))
			if len(objs) != tc.want {
				t.Errorf("expected %d objects, got %d: %v", tc.want, len(objs), objs)
			}
		})
	}
}

func TestArrayScanner_EOFIsSticky(t *testing.T) {
	s := NewArrayScanner(strings.NewReader(`[{"id":"a"}]`))
	if _, err := s.Next(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Next(); err != io.EOF {
			t.Fatalf("expected io.EOF on call %d, got %v", i, err)
		}
	}
}
