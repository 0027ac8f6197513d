// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAppendAndGet(t *testing.T) {
	st := openTestStore(t)

	created, err := st.Append(Record{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Role:           "assistant",
		Content:        "Here is the answer.",
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !created {
		t.Fatal("expected first Append to insert a row")
	}

	rec, err := st.Get("msg-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Content != "Here is the answer." {
		t.Errorf("content = %q", rec.Content)
	}
	if rec.Role != "assistant" {
		t.Errorf("role = %q", rec.Role)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected created_at to be stamped")
	}
}

func TestAppendIdempotent(t *testing.T) {
	st := openTestStore(t)

	first := Record{ID: "msg-1", Role: "assistant", Content: "original"}
	if _, err := st.Append(first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// A second commit with the same id must not rewrite history.
	created, err := st.Append(Record{ID: "msg-1", Role: "assistant", Content: "changed"})
	if err != nil {
		t.Fatalf("duplicate Append failed: %v", err)
	}
	if created {
		t.Error("duplicate Append reported an insert")
	}

	rec, err := st.Get("msg-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Content != "original" {
		t.Errorf("content = %q, want original preserved", rec.Content)
	}

	n, err := st.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestAppendRequiresID(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Append(Record{Role: "user", Content: "hi"}); err == nil {
		t.Fatal("expected error for record without id")
	}
}

func TestGetNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecentOrdering(t *testing.T) {
	st := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"first", "second", "third"} {
		_, err := st.Append(Record{
			ID:             content,
			ConversationID: "conv-1",
			Role:           "user",
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if _, err := st.Append(Record{ID: "other", ConversationID: "conv-2", Role: "user", Content: "other"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records, err := st.Recent("conv-1", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	for i, want := range []string{"first", "second", "third"} {
		if records[i].Content != want {
			t.Errorf("records[%d] = %q, want %q", i, records[i].Content, want)
		}
	}
}

func TestRecentLimitKeepsNewest(t *testing.T) {
	st := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"a", "b", "c", "d"} {
		_, err := st.Append(Record{
			ID:             content,
			ConversationID: "conv-1",
			Role:           "user",
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	records, err := st.Recent("conv-1", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].Content != "c" || records[1].Content != "d" {
		t.Errorf("got %q, %q; want newest two oldest-first", records[0].Content, records[1].Content)
	}
}

func TestInMemory(t *testing.T) {
	st, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	defer st.Close()

	if _, err := st.Append(Record{ID: "m1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	n, err := st.Count()
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}
