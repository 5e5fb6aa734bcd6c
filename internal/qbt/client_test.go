package qbt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSplitTags(t *testing.T) {
	cases := map[string][]string{
		"":           nil,
		"tv":         {"tv"},
		"tv, 4k":     {"tv", "4k"},
		"tv,4k,anime": {"tv", "4k", "anime"},
	}
	for in, want := range cases {
		got := splitTags(in)
		if len(got) != len(want) {
			t.Fatalf("splitTags(%q) = %v, want %v", in, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("splitTags(%q)[%d] = %q, want %q", in, i, got[i], want[i])
			}
		}
	}
}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	c := &Client{retries: 3, retryDelay: time.Millisecond}
	attempts := 0
	err := c.withRetry(context.Background(), "test", func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithRetryExhausted(t *testing.T) {
	c := &Client{retries: 2, retryDelay: time.Millisecond}
	err := c.withRetry(context.Background(), "test", func() error {
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}
