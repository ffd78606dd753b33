package event

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCleanRunsInOrderOnce(t *testing.T) {
	c := newCleaner()
	var calls []string
	record := func(name string, err error) Callable {
		return CallableFunc(func(context.Context) error {
			calls = append(calls, name)
			return err
		})
	}
	c.Add(record("first", nil))
	c.Add(record("second", errors.New("boom")))
	c.Add(record("third", nil))
	c.loggerShutdown = record("logger", nil)

	c.Clean()
	c.Clean()
	c.Add(record("late", nil))

	want := []string{"first", "second", "third", "logger"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("done should be closed after Clean")
	}
}

func TestInitCleansWhenParentCancelled(t *testing.T) {
	c := newCleaner()
	invoked := make(chan struct{})
	c.Add(CallableFunc(func(context.Context) error {
		close(invoked)
		return nil
	}))

	parent, cancel := context.WithCancel(context.Background())
	ctx := c.Init(parent, nil)
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup did not run")
	}
	select {
	case <-invoked:
	default:
		t.Fatal("cleaner not invoked")
	}
}
