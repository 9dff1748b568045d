// Copyright 2024 The Managarm Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	if len(tw.lines) != 3 {
		t.Fatalf("Writer should have logged 3 lines, got: %v", tw.lines)
	}
	if tw.lines[0] != "line 1\n" {
		t.Errorf("first line: got %q", tw.lines[0])
	}
	if !strings.Contains(tw.lines[2], "Dropped 2 log messages") {
		t.Errorf("recovery line should report 2 dropped messages, got %q", tw.lines[2])
	}
}

func TestLevels(t *testing.T) {
	tw := &testWriter{}
	l := BasicLogger{Level: Info, Emitter: GoogleEmitter{&Writer{Next: tw}}}

	l.Debugf("should be dropped")
	if len(tw.lines) != 0 {
		t.Fatalf("debug line should be dropped at Info level, got: %v", tw.lines)
	}

	l.Infof("hello %s", "world")
	if len(tw.lines) != 1 || !strings.Contains(tw.lines[0], "hello world") {
		t.Fatalf("info line missing, got: %v", tw.lines)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Fatal("IsLogging(Debug) should be true after SetLevel(Debug)")
	}
	l.Debugf("now visible")
	if len(tw.lines) != 2 {
		t.Fatalf("debug line should be emitted at Debug level, got: %v", tw.lines)
	}
}

func TestGoogleFormat(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	e.Emit(0, Warning, time.Date(2024, 5, 4, 3, 2, 1, 123456000, time.UTC), "formatted %d", 7)
	if len(tw.lines) != 1 {
		t.Fatalf("expected one line, got: %v", tw.lines)
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0504 03:02:01.123456") {
		t.Errorf("header mismatch: %q", line)
	}
	if !strings.Contains(line, "formatted 7") {
		t.Errorf("message missing: %q", line)
	}
	if !strings.Contains(line, "log_test.go") {
		t.Errorf("caller missing: %q", line)
	}
}

func TestJSONFormat(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	e.Emit(0, Info, time.Now(), "value %d", 42)
	if len(tw.lines) == 0 {
		t.Fatal("no output")
	}
	var parsed jsonLog
	if err := json.Unmarshal([]byte(strings.TrimSpace(tw.lines[0])), &parsed); err != nil {
		t.Fatalf("output is not valid json: %v (%q)", err, tw.lines[0])
	}
	if parsed.Level != Info {
		t.Errorf("level: got %v, want Info", parsed.Level)
	}
	if !strings.Contains(parsed.Msg, "value 42") {
		t.Errorf("msg: got %q", parsed.Msg)
	}
}

func TestRateLimited(t *testing.T) {
	tw := &testWriter{}
	inner := &BasicLogger{Level: Info, Emitter: GoogleEmitter{&Writer{Next: tw}}}
	rl := RateLimitedLogger(inner, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Infof("burst %d", i)
	}
	if len(tw.lines) != 1 {
		t.Errorf("rate limiter should allow exactly one line, got %d", len(tw.lines))
	}
}
