// Package grid evaluates declarative grid definitions and reconciles them
// against the scheduler: missing experiments are submitted, orphaned ones
// cancelled, and a monitoring loop reports progress until completion.
package grid

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/shepgo/shepgo/model"
)

// Intent is one experiment a grid definition asked for: its argument set,
// the scheduler config to submit it with, and its position for stable
// display ordering.
type Intent struct {
	Args  model.ArgumentSet
	Slurm model.SlurmConfig
	Index int
	// Array groups contiguous intents submitted as one scheduler request.
	Array string
}

// Explore is a grid definition procedure. It is evaluated once per
// reconciliation pass and communicates intents only through the launcher.
type Explore func(Launcher)

type sink struct {
	// grid the evaluation belongs to. Derived array names embed it, so
	// scheduler job names never collide across grids sharing a project.
	grid    string
	intents []Intent
	err     error
	arrays  int
}

func (s *sink) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Launcher accumulates bound parameters through a builder. It is a value:
// Bind and Slurm return new launchers inheriting the parent's bindings, so
// a child branch never leaks back into its parent and launchers can be
// reused safely inside loops. In place binding is plain reassignment at
// the call site:
//
//	l = l.Bind("--epochs=40")
//	sub := l.Bind(map[string]any{"lr": 0.01})
//	sub.Launch()
type Launcher struct {
	sink  *sink
	argv  []string
	slurm model.SlurmConfig
	array string
}

func newLauncher(s *sink, slurm model.SlurmConfig) Launcher {
	return Launcher{sink: s, slurm: slurm}
}

// Bind returns a launcher with extra default parameters. Each argument is
// either a raw token string ("--lr=0.01"), a []string of tokens, or a
// map[string]any converted to tokens with sorted keys. A true value maps
// to the bare "--key" flag.
func (l Launcher) Bind(args ...any) Launcher {
	argv := append([]string(nil), l.argv...)
	for _, arg := range args {
		tokens, err := tokensFor(arg)
		if err != nil {
			l.sink.fail(err)
			return l
		}
		argv = append(argv, tokens...)
	}
	l.argv = argv
	return l
}

// Slurm returns a launcher with an updated scheduler config.
func (l Launcher) Slurm(mutate func(*model.SlurmConfig)) Launcher {
	cfg := l.slurm
	cfg.Setup = append([]string(nil), l.slurm.Setup...)
	mutate(&cfg)
	l.slurm = cfg
	return l
}

// Launch records one intent with the current bindings plus any extra
// arguments, like Bind followed by a bare Launch.
func (l Launcher) Launch(args ...any) {
	bound := l.Bind(args...)
	if l.sink.err != nil {
		return
	}
	l.sink.intents = append(l.sink.intents, Intent{
		Args:  model.ArgumentSet{Argv: bound.argv},
		Slurm: bound.slurm,
		Index: len(l.sink.intents),
		Array: l.array,
	})
}

// JobArray runs fn with a launcher whose launches are grouped into a
// single scheduler request. All intents of the group must share the same
// scheduler config. Arrays do not nest.
func (l Launcher) JobArray(fn func(Launcher)) {
	if l.array != "" {
		l.sink.fail(fmt.Errorf("job arrays cannot be nested"))
		return
	}
	l.sink.arrays++
	l.array = fmt.Sprintf("%s_array%d", l.sink.grid, l.sink.arrays)
	fn(l)
}

func tokensFor(arg any) ([]string, error) {
	switch v := arg.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tokens := make([]string, 0, len(keys))
		for _, k := range keys {
			tokens = append(tokens, token(k, v[k]))
		}
		return tokens, nil
	}
	return nil, fmt.Errorf("cannot bind argument of type %T", arg)
}

func token(key string, value any) string {
	if value == true {
		return "--" + key
	}
	return "--" + key + "=" + tokenValue(value)
}

func tokenValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
