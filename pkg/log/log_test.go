package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStdWriterDispatchesByLevelPrefix(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	w := NewStdWriter(zap.New(core))

	tests := []struct {
		line    string
		wantLvl zapcore.Level
		wantMsg string
	}{
		{"[WARN] memberlist: node flapping", zap.WarnLevel, "node flapping"},
		{"[ERR] failed to join", zap.ErrorLevel, "failed to join"},
		{"[INFO] joined cluster", zap.InfoLevel, "joined cluster"},
		{"no level prefix at all", zap.DebugLevel, "no level prefix at all"},
	}
	for _, tt := range tests {
		if _, err := w.Write([]byte(tt.line)); err != nil {
			t.Fatal(err)
		}
	}
	entries := logs.TakeAll()
	if len(entries) != len(tests) {
		t.Fatalf("got %d log entries, want %d", len(entries), len(tests))
	}
	for i, tt := range tests {
		if entries[i].Level != tt.wantLvl {
			t.Errorf("entry %d: got level %v, want %v", i, entries[i].Level, tt.wantLvl)
		}
		if entries[i].Message != tt.wantMsg {
			t.Errorf("entry %d: got message %q, want %q", i, entries[i].Message, tt.wantMsg)
		}
	}
}
