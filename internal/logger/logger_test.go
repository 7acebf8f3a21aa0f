package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// capture routes the default logger to a buffer at level and restores the
// defaults when the test ends.
func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		Close()
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	valid := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"warn":    LevelWarn,
		"Warning": LevelWarn,
		"error":   LevelError,
		"ERROR\n": LevelError,
	}
	for in, want := range valid {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	for _, in := range []string{"", "trace", "loud"} {
		got, err := ParseLevel(in)
		if err == nil {
			t.Errorf("ParseLevel(%q) expected error", in)
		}
		if got != LevelInfo {
			t.Errorf("ParseLevel(%q) fallback = %v, want INFO", in, got)
		}
	}

	if s := Level(42).String(); s != "UNKNOWN" {
		t.Errorf("Level(42).String() = %q, want UNKNOWN", s)
	}
}

func TestLineFormat(t *testing.T) {
	buf := capture(t, LevelInfo)

	Info("sync: worklogs run %d completed", 7)

	line := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z INFO sync: worklogs run 7 completed\n$`)
	if !line.MatchString(buf.String()) {
		t.Errorf("unexpected line: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level Level
		want  []string
	}{
		{LevelDebug, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{LevelInfo, []string{"INFO", "WARN", "ERROR"}},
		{LevelWarn, []string{"WARN", "ERROR"}},
		{LevelError, []string{"ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			buf := capture(t, tt.level)

			Debug("jira: GET /search")
			Info("scheduler: started")
			Warn("jira: retrying")
			Error("sync: run failed")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != len(tt.want) {
				t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(tt.want), buf.String())
			}
			for i, want := range tt.want {
				if !strings.Contains(lines[i], " "+want+" ") {
					t.Errorf("line %d = %q, want level %s", i, lines[i], want)
				}
			}
			if GetLevel() != tt.level {
				t.Errorf("GetLevel() = %v, want %v", GetLevel(), tt.level)
			}
		})
	}
}

func TestWithFieldsAppendsSortedPairs(t *testing.T) {
	buf := capture(t, LevelInfo)

	WithFields(map[string]interface{}{"sync_type": "worklogs", "run_id": 7, "items": 12}).Infof("sync: run finished")

	if want := "INFO sync: run finished items=12 run_id=7 sync_type=worklogs\n"; !strings.HasSuffix(buf.String(), want) {
		t.Errorf("output = %q, want suffix %q", buf.String(), want)
	}
}

func TestWithFieldsRespectsLevel(t *testing.T) {
	buf := capture(t, LevelWarn)

	WithFields(map[string]interface{}{"method": "GET"}).Debug("server: request")
	if buf.Len() != 0 {
		t.Errorf("debug entry should be filtered at WARN, got %q", buf.String())
	}
}

func TestLogFileReceivesCopy(t *testing.T) {
	buf := capture(t, LevelInfo)
	path := filepath.Join(t.TempDir(), "worksync.log")

	if err := SetLogFile(path); err != nil {
		t.Fatalf("SetLogFile failed: %v", err)
	}
	Info("store: opened sqlite database")
	Close()
	Info("store: after close")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "store: opened sqlite database") {
		t.Errorf("log file missing message: %q", content)
	}
	if strings.Contains(string(content), "after close") {
		t.Errorf("log file written after Close: %q", content)
	}
	if strings.Count(buf.String(), "store:") != 2 {
		t.Errorf("primary output should keep both messages: %q", buf.String())
	}
}

func TestSetLogFileMissingDirectory(t *testing.T) {
	capture(t, LevelInfo)

	err := SetLogFile(filepath.Join(t.TempDir(), "missing", "worksync.log"))
	if err == nil {
		t.Fatal("expected error for a missing directory")
	}
	if defaultLogger.file != nil {
		t.Error("failed SetLogFile should leave no file attached")
	}
}

func TestSetLogFileReplacesExisting(t *testing.T) {
	capture(t, LevelInfo)
	dir := t.TempDir()
	first, second := filepath.Join(dir, "first.log"), filepath.Join(dir, "second.log")

	if err := SetLogFile(first); err != nil {
		t.Fatalf("SetLogFile(first) failed: %v", err)
	}
	Info("sync: users run 1")
	if err := SetLogFile(second); err != nil {
		t.Fatalf("SetLogFile(second) failed: %v", err)
	}
	Info("sync: users run 2")
	Close()

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !strings.Contains(string(a), "run 1") || strings.Contains(string(a), "run 2") {
		t.Errorf("first log = %q", a)
	}
	if !strings.Contains(string(b), "run 2") || strings.Contains(string(b), "run 1") {
		t.Errorf("second log = %q", b)
	}
}

func TestSetLogFileWithRotation(t *testing.T) {
	capture(t, LevelInfo)
	path := filepath.Join(t.TempDir(), "worksync.log")

	opts := RotateOptions{MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 3, Compress: true}
	if err := SetLogFileWithRotation(path, opts); err != nil {
		t.Fatalf("SetLogFileWithRotation failed: %v", err)
	}

	f := defaultLogger.file
	if f.MaxSize != 1 || f.MaxBackups != 2 || f.MaxAge != 3 || !f.Compress {
		t.Errorf("rotation settings not applied: %+v", f)
	}

	Warn("scheduler: job %s took %s", "full", "12m")
	Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "WARN scheduler: job full took 12m") {
		t.Errorf("log file = %q", content)
	}
}

func TestCloseWithoutFile(t *testing.T) {
	capture(t, LevelInfo)
	Close()
	Close()
}

func TestConcurrentLogging(t *testing.T) {
	buf := capture(t, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				Info("sync: worker %d record %d", n, j)
				if j == 10 {
					SetLevel(LevelInfo)
				}
			}
		}(i)
	}
	wg.Wait()

	if got := strings.Count(buf.String(), "\n"); got != 200 {
		t.Errorf("got %d lines, want 200", got)
	}
}
