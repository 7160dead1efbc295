package gloss

import (
	"fmt"
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

func TestQueueKeepsDiscoveryOrder(t *testing.T) {
	q := NewQueue[int]()
	q.Add("アルバイト", 1)
	q.Add("テスト", 2)
	q.Add("アルバイト", 3)

	if got, want := q.Phrases(), []string{"アルバイト", "テスト"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Phrases() = %v, want %v", got, want)
	}
	if got, want := q.Targets("アルバイト"), []int{1, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Targets() = %v, want %v", got, want)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}

func TestQueueReaddMovesToEnd(t *testing.T) {
	q := NewQueue[int]()
	q.Add("ア", 1)
	q.Add("イ", 2)
	q.Delete("ア")
	q.Add("ア", 3)

	if got, want := q.Phrases(), []string{"イ", "ア"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Phrases() = %v, want %v", got, want)
	}
	if got := q.Targets("ア"); !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("Targets(ア) = %v, want [3]", got)
	}
}

func TestQueueDeleteDuringWalk(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 100; i++ {
		q.Add(fmt.Sprintf("p%d", i), i)
	}
	n := 0
	for _, p := range q.Phrases() {
		q.Delete(p)
		n++
	}
	if n != 100 || q.Len() != 0 {
		t.Fatalf("walked %d, %d left", n, q.Len())
	}
	if len(q.Phrases()) != 0 {
		t.Fatal("Phrases() not empty after deleting everything")
	}
	if q.Has("p1") {
		t.Fatal("Has(p1) after delete")
	}
}

func TestQueueCompactionPreservesOrder(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 80; i++ {
		q.Add(fmt.Sprintf("p%d", i), i)
	}
	for i := 0; i < 80; i += 2 {
		q.Delete(fmt.Sprintf("p%d", i))
	}
	got := q.Phrases()
	if len(got) != 40 {
		t.Fatalf("got %d phrases, want 40", len(got))
	}
	for i, p := range got {
		if want := fmt.Sprintf("p%d", 2*i+1); p != want {
			t.Fatalf("Phrases()[%d] = %s, want %s", i, p, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestCacheStates(t *testing.T) {
	c := NewCache()
	if c.State("ア") != Absent {
		t.Fatalf("new phrase state = %v", c.State("ア"))
	}

	if !c.MarkPending("ア") {
		t.Fatal("MarkPending on absent phrase returned false")
	}
	if c.MarkPending("ア") {
		t.Fatal("second MarkPending must not succeed while pending")
	}
	if _, ok := c.Lookup("ア"); ok {
		t.Fatal("pending phrase must not look resolved")
	}

	c.Resolve("ア", "a")
	if g, ok := c.Lookup("ア"); !ok || g != "a" {
		t.Fatalf("Lookup = %q, %v", g, ok)
	}
	if c.MarkPending("ア") {
		t.Fatal("MarkPending on resolved phrase returned true")
	}
	if c.Revert("ア") {
		t.Fatal("Revert must not discard a resolved gloss")
	}
}

func TestCacheEmptyGlossIsResolved(t *testing.T) {
	c := NewCache()
	c.MarkPending("ア")
	c.Resolve("ア", "")
	if g, ok := c.Lookup("ア"); !ok || g != "" {
		t.Fatalf("Lookup = %q, %v; want empty resolved gloss", g, ok)
	}
	if c.State("ア") != Resolved {
		t.Fatalf("State = %v, want resolved", c.State("ア"))
	}
}

func TestCacheRevert(t *testing.T) {
	c := NewCache()
	c.MarkPending("ア")
	if !c.Revert("ア") {
		t.Fatal("Revert on pending phrase returned false")
	}
	if c.State("ア") != Absent || c.Len() != 0 {
		t.Fatalf("after Revert: state %v, len %d", c.State("ア"), c.Len())
	}
	if c.Revert("ア") {
		t.Fatal("Revert on absent phrase returned true")
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache()
	c.Resolve("ア", "a")
	c.MarkPending("イ")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d", c.Len())
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Absent: "absent", Pending: "pending", Resolved: "resolved"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
