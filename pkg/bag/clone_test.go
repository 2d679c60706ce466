package bag

import (
	"reflect"
	"testing"
	"time"
)

type node struct {
	Name string
	Next *node
}

type withPrivate struct {
	Public  []int
	private []int
}

type counted struct {
	n      int
	clones *int
}

func (c counted) Clone() counted {
	*c.clones++
	return counted{n: c.n, clones: c.clones}
}

func TestCloneScalars(t *testing.T) {
	if got := cloneValue(42); got != 42 {
		t.Errorf("int: got %d", got)
	}
	if got := cloneValue("s"); got != "s" {
		t.Errorf("string: got %q", got)
	}
	var nilAny any
	if got := cloneValue(nilAny); got != nil {
		t.Errorf("nil any: got %v", got)
	}
	var nilPtr *node
	if got := cloneValue(nilPtr); got != nil {
		t.Errorf("nil pointer: got %v", got)
	}
}

func TestCloneNestedCollections(t *testing.T) {
	src := map[string]any{
		"list": []any{1.0, "two", map[string]any{"three": 3.0}},
		"set":  map[string]bool{"x": true},
	}
	dst := cloneValue(src)
	if !reflect.DeepEqual(src, dst) {
		t.Fatalf("clone differs: %v", dst)
	}

	src["list"].([]any)[2].(map[string]any)["three"] = 4.0
	src["set"].(map[string]bool)["y"] = true

	if v := dst["list"].([]any)[2].(map[string]any)["three"]; v != 3.0 {
		t.Errorf("nested map shared with source: three = %v", v)
	}
	if n := len(dst["set"].(map[string]bool)); n != 1 {
		t.Errorf("set has %d entries, want 1", n)
	}
}

func TestCloneCycle(t *testing.T) {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	c := cloneValue(a)
	if c == a {
		t.Fatal("clone returned the source pointer")
	}
	if c.Next.Name != "b" {
		t.Errorf("Next.Name = %q", c.Next.Name)
	}
	if c.Next.Next != c {
		t.Error("cycle not preserved in clone")
	}
}

func TestCloneArrayAndStructValue(t *testing.T) {
	type pair struct {
		Vals [2][]int
		At   time.Time
	}
	now := time.Now()
	src := pair{Vals: [2][]int{{1}, {2}}, At: now}
	dst := cloneValue(src)

	src.Vals[0][0] = 9
	if dst.Vals[0][0] != 1 {
		t.Errorf("array element shared: %d", dst.Vals[0][0])
	}
	if !dst.At.Equal(now) {
		t.Errorf("time changed: %v", dst.At)
	}
}

func TestCloneUnexportedFieldsAreShallow(t *testing.T) {
	src := withPrivate{Public: []int{1}, private: []int{2}}
	dst := cloneValue(src)

	src.Public[0] = 10
	src.private[0] = 20
	if dst.Public[0] != 1 {
		t.Errorf("Public = %d, want 1", dst.Public[0])
	}
	if dst.private[0] != 20 {
		t.Errorf("private = %d, want 20 (shared)", dst.private[0])
	}
}

func TestClonePrefersCloner(t *testing.T) {
	calls := 0
	dst := cloneValue(counted{n: 7, clones: &calls})
	if calls != 1 {
		t.Errorf("Clone called %d times", calls)
	}
	if dst.n != 7 {
		t.Errorf("n = %d", dst.n)
	}
}
