package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("processed %d frames", 3)
	if got != "processed %d frames" {
		t.Errorf("custom logger saw %q", got)
	}

	// nil mutes without panicking
	SetLogger(nil)
	Logf("dropped")

	got = ""
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("back")
	if got != "back" {
		t.Error("logger was not restored after muting")
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must never be nil")
	}
}
