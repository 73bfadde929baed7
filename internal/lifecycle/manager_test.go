package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCloseRunsInReverseOrder(t *testing.T) {
	m := NewManager(zerolog.Nop())

	var order []string
	for _, name := range []string{"store", "worker", "server"} {
		name := name
		m.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := []string{"server", "worker", "store"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("close order = %v, want %v", order, want)
		}
	}
}

func TestCloseContinuesPastFailures(t *testing.T) {
	m := NewManager(zerolog.Nop())

	closedFirst := false
	m.RegisterFunc("first", func() error {
		closedFirst = true
		return nil
	})
	boom := errors.New("boom")
	m.RegisterFunc("second", func() error { return boom })

	if err := m.Close(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the close failure", err)
	}
	if !closedFirst {
		t.Fatal("a failing closer must not stop the rest")
	}
}
