package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"saddlebag/internal/shell"
	"saddlebag/pkg/bag"
)

// session tracks the bag the shell is working on and the watches it holds.
type session struct {
	mgr     *bag.Manager
	current string
	watches []*bag.Subscription
}

func newSession(mgr *bag.Manager, name string) *session {
	return &session{mgr: mgr, current: name}
}

func (s *session) bag() (*bag.Bag[any], error) {
	return bag.GetBag[any](s.mgr, s.current)
}

func registerBagCommands(reg shell.CommandRegistrar, mgr *bag.Manager, s *session) {
	reg.Register("/bags", shell.Command{
		Help:    "list bags",
		Handler: handleBags(mgr, s),
	})
	reg.Register("/use", shell.Command{
		Usage:   "/use <bag>",
		Help:    "switch to a bag, creating it if needed",
		Handler: handleUse(s),
	})
	reg.Register("/get", shell.Command{
		Usage:   "/get <key>",
		Help:    "show a value",
		Handler: withBag(s, handleGet),
	})
	reg.Register("/set", shell.Command{
		Usage:   "/set <key> <value>",
		Help:    "store a value (JSON, or a plain string)",
		Handler: withBag(s, handleSet),
	})
	reg.Register("/dump", shell.Command{
		Help:    "show every key of the current bag",
		Handler: withBag(s, handleDump),
	})
	reg.Register("/populate", shell.Command{
		Usage:   "/populate <json-object>",
		Help:    "replace the current bag's contents",
		Handler: withBag(s, handlePopulate),
	})
	reg.Register("/reset", shell.Command{
		Help:    "clear the current bag",
		Handler: withBag(s, handleReset),
	})
	reg.Register("/resetall", shell.Command{
		Help: "clear every bag",
		Handler: func(ctx shell.CommandContext) bool {
			mgr.ResetBags()
			_, _ = fmt.Fprintf(ctx.Out, "Reset %d bags\n", len(mgr.Names()))
			return false
		},
	})
	reg.Register("/watch", shell.Command{
		Usage:   "/watch [key]",
		Help:    "print changes to a key, or to every key",
		Handler: withBag(s, s.handleWatch),
	})
	reg.Register("/unwatch", shell.Command{
		Help: "drop every watch",
		Handler: func(ctx shell.CommandContext) bool {
			n := s.unwatch()
			_, _ = fmt.Fprintf(ctx.Out, "Dropped %d watches\n", n)
			return false
		},
	})
	reg.Register("/flush", shell.Command{
		Help:    "wait for pending writes to reach the store",
		Handler: handleFlush(mgr),
	})
}

type bagHandler func(ctx shell.CommandContext, b *bag.Bag[any]) bool

func withBag(s *session, h bagHandler) shell.CommandHandler {
	return func(ctx shell.CommandContext) bool {
		b, err := s.bag()
		if err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
			return false
		}
		return h(ctx, b)
	}
}

func handleBags(mgr *bag.Manager, s *session) shell.CommandHandler {
	return func(ctx shell.CommandContext) bool {
		names := mgr.Names()
		if len(names) == 0 {
			_, _ = fmt.Fprintln(ctx.Out, "Bags: (none)")
			return false
		}
		_, _ = fmt.Fprintf(ctx.Out, "Bags (%d):\n", len(names))
		for _, name := range names {
			marker := " "
			if name == s.current {
				marker = "*"
			}
			_, _ = fmt.Fprintf(ctx.Out, " %s %s\n", marker, name)
		}
		return false
	}
}

func handleUse(s *session) shell.CommandHandler {
	return func(ctx shell.CommandContext) bool {
		if len(ctx.Args) != 1 {
			_, _ = fmt.Fprintln(ctx.Out, "Usage: /use <bag>")
			return false
		}
		prev := s.current
		s.current = ctx.Args[0]
		b, err := s.bag()
		if err != nil {
			s.current = prev
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
			return false
		}
		if ctx.Shell != nil {
			ctx.Shell.SetPrompt(fmt.Sprintf("[%s]> ", b.ID()))
		}
		_, _ = fmt.Fprintf(ctx.Out, "Using %s (%d keys)\n", b.ID(), b.Len())
		return false
	}
}

func handleGet(ctx shell.CommandContext, b *bag.Bag[any]) bool {
	if len(ctx.Args) != 1 {
		_, _ = fmt.Fprintln(ctx.Out, "Usage: /get <key>")
		return false
	}
	key := ctx.Args[0]
	v, ok := b.Get(key)
	if !ok {
		_, _ = fmt.Fprintf(ctx.Out, "%s: not found\n", key)
		return false
	}
	_, _ = fmt.Fprintf(ctx.Out, "%s = %s\n", key, render(v))
	return false
}

func handleSet(ctx shell.CommandContext, b *bag.Bag[any]) bool {
	if len(ctx.Args) < 2 {
		_, _ = fmt.Fprintln(ctx.Out, "Usage: /set <key> <value>")
		return false
	}
	key := ctx.Args[0]
	v := parseValue(strings.Join(ctx.Args[1:], " "))
	b.Set(key, v)
	_, _ = fmt.Fprintf(ctx.Out, "Set %s = %s\n", key, render(v))
	return false
}

func handleDump(ctx shell.CommandContext, b *bag.Bag[any]) bool {
	values := b.Export()
	if len(values) == 0 {
		_, _ = fmt.Fprintf(ctx.Out, "%s: (empty)\n", b.ID())
		return false
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	_, _ = fmt.Fprintf(ctx.Out, "%s (%d keys):\n", b.ID(), len(keys))
	for _, k := range keys {
		_, _ = fmt.Fprintf(ctx.Out, "  %-20s = %s\n", k, render(values[k]))
	}
	return false
}

func handlePopulate(ctx shell.CommandContext, b *bag.Bag[any]) bool {
	raw := strings.Join(ctx.Args, " ")
	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		_, _ = fmt.Fprintf(ctx.Out, "Error: expected a JSON object: %v\n", err)
		return false
	}
	if len(values) == 0 {
		_, _ = fmt.Fprintln(ctx.Out, "Nothing to populate")
		return false
	}
	b.Populate(values)
	_, _ = fmt.Fprintf(ctx.Out, "Populated %s with %d keys\n", b.ID(), len(values))
	return false
}

func handleReset(ctx shell.CommandContext, b *bag.Bag[any]) bool {
	n := b.Len()
	b.Reset()
	_, _ = fmt.Fprintf(ctx.Out, "Reset %s (%d keys cleared)\n", b.ID(), n)
	return false
}

func (s *session) handleWatch(ctx shell.CommandContext, b *bag.Bag[any]) bool {
	out := ctx.Out
	var sub *bag.Subscription
	if len(ctx.Args) == 0 {
		sub = b.OnAllChanges(func(key string, v any, ok bool) {
			printChange(out, b.ID(), key, v, ok)
		})
		_, _ = fmt.Fprintf(out, "Watching every key of %s\n", b.ID())
	} else {
		key := ctx.Args[0]
		sub = b.Subscribe(key, func(v any, ok bool) {
			printChange(out, b.ID(), key, v, ok)
		})
		_, _ = fmt.Fprintf(out, "Watching %s/%s\n", b.ID(), key)
	}
	s.watches = append(s.watches, sub)
	return false
}

func (s *session) unwatch() int {
	n := len(s.watches)
	for _, sub := range s.watches {
		sub.Unsubscribe()
	}
	s.watches = nil
	return n
}

func handleFlush(mgr *bag.Manager) shell.CommandHandler {
	return func(ctx shell.CommandContext) bool {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mgr.Flush(c); err != nil {
			_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
			return false
		}
		_, _ = fmt.Fprintln(ctx.Out, "Flushed")
		return false
	}
}

func printChange(out io.Writer, bagID, key string, v any, ok bool) {
	if !ok {
		_, _ = fmt.Fprintf(out, "~ %s/%s cleared\n", bagID, key)
		return
	}
	_, _ = fmt.Fprintf(out, "~ %s/%s = %s\n", bagID, key, render(v))
}

// parseValue reads s as JSON and falls back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
