package bodyrecorder

import (
	"io"
	"strings"
	"testing"
)

func TestRecorderReportsProgress(t *testing.T) {
	var calls [][2]int64
	rec := New(10, func(received, expected int64) {
		calls = append(calls, [2]int64{received, expected})
	})

	if _, err := io.CopyBuffer(rec, struct{ io.Reader }{strings.NewReader("0123456789")}, make([]byte, 4)); err != nil {
		t.Fatal(err)
	}

	if string(rec.Bytes()) != "0123456789" {
		t.Fatalf("Body is %s", rec.Bytes())
	}
	want := [][2]int64{{4, 10}, {8, 10}, {10, 10}}
	if len(calls) != len(want) {
		t.Fatalf("Progress calls %v, expected %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("Progress calls %v, expected %v", calls, want)
		}
	}
	if !rec.Complete() {
		t.Fatal("Recorder should be complete")
	}
}

func TestRecorderUnknownLength(t *testing.T) {
	rec := New(-1, nil)
	rec.Write([]byte("abc"))
	if !rec.Complete() || rec.Received() != 3 || rec.Expected() != -1 {
		t.Fatalf("Received %d of %d", rec.Received(), rec.Expected())
	}
}

func TestRecorderShortBody(t *testing.T) {
	rec := New(5, nil)
	rec.Write([]byte("ab"))
	if rec.Complete() {
		t.Fatal("Recorder with 2 of 5 bytes should not be complete")
	}
}
