package md

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// Test 1: Table pads columns to the widest cell
func TestTable_Alignment(t *testing.T) {
	got := Table([]string{"User", "Hours"}, [][]string{
		{"alice", "130"},
		{"bob", "7.5"},
	})

	want := "| User  | Hours |\n" +
		"| ----- | ----- |\n" +
		"| alice | 130   |\n" +
		"| bob   | 7.5   |\n"
	if got != want {
		t.Errorf("Table() =\n%s\nwant\n%s", got, want)
	}
}

// Test 2: short headers still get a three-dash separator
func TestTable_MinimumWidth(t *testing.T) {
	got := Table([]string{"a"}, [][]string{{"x"}})
	if !strings.Contains(got, "| --- |") {
		t.Errorf("expected minimum separator width, got:\n%s", got)
	}
}

// Test 3: ragged rows are padded or truncated to the header count
func TestTable_RaggedRows(t *testing.T) {
	got := Table([]string{"A", "B"}, [][]string{{"1"}, {"1", "2", "3"}})

	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), got)
	}
	for _, line := range lines {
		if n := strings.Count(line, "|"); n != 3 {
			t.Errorf("line %q has %d pipes, want 3", line, n)
		}
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a|b", `a\|b`},
		{"line1\nline2", "line1<br>line2"},
		{"crlf\r\nend", "crlf<br>end"},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// Test 4: Format writes parseable YAML frontmatter before the table
func TestFormat_Frontmatter(t *testing.T) {
	out, err := Format(Document{
		Title:   "Workload 2024-03",
		Meta:    map[string]interface{}{"report": "workload", "from": "2024-03", "to": "2024-03"},
		Headers: []string{"User"},
		Rows:    [][]string{{"alice"}},
	})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	if !strings.HasPrefix(out, "---\n") {
		t.Fatalf("expected frontmatter, got:\n%s", out)
	}
	parts := strings.SplitN(out, "---\n", 3)
	if len(parts) != 3 {
		t.Fatalf("could not split frontmatter:\n%s", out)
	}

	var meta map[string]string
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		t.Fatalf("frontmatter is not YAML: %v", err)
	}
	if meta["report"] != "workload" || meta["from"] != "2024-03" {
		t.Errorf("meta = %v", meta)
	}
	if !strings.Contains(parts[2], "# Workload 2024-03\n") || !strings.Contains(parts[2], "| alice |") {
		t.Errorf("body missing title or table:\n%s", parts[2])
	}
}

// Test 5: no frontmatter without meta, and a placeholder without rows
func TestFormat_Empty(t *testing.T) {
	out, err := Format(Document{Title: "Shadow work", Headers: []string{"User"}})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if strings.HasPrefix(out, "---") {
		t.Error("unexpected frontmatter")
	}
	if out != "# Shadow work\n\n_No rows._\n" {
		t.Errorf("Format() = %q", out)
	}
}
