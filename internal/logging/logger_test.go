package logging

import "testing"

func TestOrNopWithNil(t *testing.T) {
	logger := OrNop(nil)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	// Must not panic.
	logger.Info("hello %s", "world")
}

func TestOrNopWithTypedNil(t *testing.T) {
	var typed *observabilityPrintfLogger
	logger := OrNop(typed)
	logger.Error("must not panic")
}

func TestComponentLoggerDoesNotPanic(t *testing.T) {
	logger := NewComponentLogger("Test")
	logger.Debug("value=%d", 42)
	logger.Warn("warn")
}
