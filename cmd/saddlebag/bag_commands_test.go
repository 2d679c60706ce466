package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"saddlebag/internal/shell"
	"saddlebag/pkg/bag"
	boltstore "saddlebag/pkg/store/bolt"
)

func runScript(t *testing.T, mgr *bag.Manager, script string) string {
	t.Helper()
	reg := shell.NewCommandRegistry()
	reg.RegisterBuiltins()
	registerBagCommands(reg, mgr, newSession(mgr, "default"))

	var out bytes.Buffer
	if err := shell.NewScripted(strings.NewReader(script), &out, reg).Run(); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestSetGetDump(t *testing.T) {
	mgr := bag.NewManager()
	out := runScript(t, mgr, `
/set color "blue"
/set size 3
/set note hello world
/get color
/get missing
/dump
`)
	for _, want := range []string{
		`color = "blue"`,
		"missing: not found",
		"default (3 keys):",
		`note                 = "hello world"`,
		"size                 = 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestUseAndBags(t *testing.T) {
	mgr := bag.NewManager()
	out := runScript(t, mgr, `
/set k v
/use cart
/set sku "A-1"
/bags
/use
`)
	if !strings.Contains(out, "Using cart (0 keys)") {
		t.Errorf("missing /use output:\n%s", out)
	}
	if !strings.Contains(out, "* cart") || !strings.Contains(out, "  default") {
		t.Errorf("unexpected /bags output:\n%s", out)
	}
	if !strings.Contains(out, "Usage: /use <bag>") {
		t.Errorf("missing usage line:\n%s", out)
	}

	cart, err := bag.GetBag[any](mgr, "cart")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := cart.Get("sku"); v != "A-1" {
		t.Errorf("cart sku = %v", v)
	}
}

func TestUseTypeMismatch(t *testing.T) {
	mgr := bag.NewManager()
	bag.CreateBag[int](mgr, "ints")
	out := runScript(t, mgr, "/use ints\n/set k v\n")
	if !strings.Contains(out, "Error:") {
		t.Errorf("expected type mismatch error:\n%s", out)
	}
	d, err := bag.GetBag[any](mgr, "default")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Get("k"); !ok {
		t.Error("failed /use should keep the previous bag")
	}
}

func TestWatchPopulateReset(t *testing.T) {
	mgr := bag.NewManager()
	out := runScript(t, mgr, `
/watch color
/set color "red"
/populate {"a": 1, "b": true}
/populate {}
/populate nope
/watch
/set a 2
/reset
/unwatch
/set color "green"
`)
	for _, want := range []string{
		"Watching default/color",
		`~ default/color = "red"`,
		"Populated default with 2 keys",
		"Nothing to populate",
		"expected a JSON object",
		"~ default/a = 2",
		"~ default/a cleared",
		"Reset default (2 keys cleared)",
		"Dropped 2 watches",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, `~ default/color = "green"`) {
		t.Errorf("watch fired after /unwatch:\n%s", out)
	}
}

func TestResetAll(t *testing.T) {
	mgr := bag.NewManager()
	out := runScript(t, mgr, "/set a 1\n/use other\n/set b 2\n/resetall\n/dump\n")
	if !strings.Contains(out, "Reset 2 bags") || !strings.Contains(out, "other: (empty)") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFlushPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bags.db")
	mgr := bag.NewManager(bag.WithStateful(true), bag.WithStore(boltstore.Opener(path, "bags", 1)))
	if _, err := mgr.LoadStatefulBags(context.Background()); err != nil {
		t.Fatal(err)
	}
	out := runScript(t, mgr, "/set k \"v\"\n/flush\n")
	if !strings.Contains(out, "Flushed") {
		t.Errorf("missing flush output:\n%s", out)
	}
	if err := mgr.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	reopened := bag.NewManager(bag.WithStateful(true), bag.WithStore(boltstore.Opener(path, "bags", 1)))
	defer func() { _ = reopened.Close(context.Background()) }()
	if _, err := reopened.LoadStatefulBags(context.Background()); err != nil {
		t.Fatal(err)
	}
	out = runScript(t, reopened, "/get k\n")
	if !strings.Contains(out, `k = "v"`) {
		t.Errorf("value not restored:\n%s", out)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"quoted"`, `"quoted"`},
		{"42", "42"},
		{"true", "true"},
		{`{"a":1}`, `{"a":1}`},
		{"plain words", `"plain words"`},
	}
	for _, tt := range tests {
		if got := render(parseValue(tt.in)); got != tt.want {
			t.Errorf("render(parseValue(%q)) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
