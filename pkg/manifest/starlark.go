package manifest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

// defaultEvalTimeout bounds manifest script evaluation.
const defaultEvalTimeout = 30 * time.Second

// scriptBuilder collects the declarations a manifest script makes through
// the builder functions.
type scriptBuilder struct {
	doc document
}

// builtins returns the predeclared environment for manifest scripts.
func (b *scriptBuilder) builtins() starlark.StringDict {
	return starlark.StringDict{
		"workload_set": starlark.NewBuiltin("workload_set", b.declareSet),
		"image":        starlark.NewBuiltin("image", b.declareImage),
		"volume":       starlark.NewBuiltin("volume", b.declareVolume),
		"network":      starlark.NewBuiltin("network", b.declareNetwork),
		"container":    starlark.NewBuiltin("container", b.declareContainer),
	}
}

func (b *scriptBuilder) declareSet(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	if b.doc.Set != "" {
		return nil, fmt.Errorf("workload_set: set already declared as %q", b.doc.Set)
	}
	b.doc.Set = name
	return starlark.None, nil
}

func (b *scriptBuilder) declareImage(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return declare(&b.doc.Images, fn, args, kwargs)
}

func (b *scriptBuilder) declareVolume(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return declare(&b.doc.Volumes, fn, args, kwargs)
}

func (b *scriptBuilder) declareNetwork(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return declare(&b.doc.Networks, fn, args, kwargs)
}

func (b *scriptBuilder) declareContainer(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return declare(&b.doc.Containers, fn, args, kwargs)
}

// declare parses one builder call and files the declaration under its
// name.
func declare[S any](m *map[string]*S, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	spec := new(S)
	if err := unpackDecl(fn, args, kwargs, &name, spec); err != nil {
		return nil, err
	}
	if *m == nil {
		*m = make(map[string]*S)
	}
	if _, dup := (*m)[name]; dup {
		return nil, fmt.Errorf("%s: %q already declared", fn.Name(), name)
	}
	(*m)[name] = spec
	return starlark.None, nil
}

// unpackDecl splits the leading name argument from a builder call and
// decodes the remaining keyword arguments into the declaration. The
// round trip through YAML gives keyword arguments the exact field names
// and strictness of the YAML manifest syntax.
func unpackDecl(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, name *string, out interface{}) error {
	if len(args) != 1 {
		return fmt.Errorf("%s: want exactly one positional argument (the name), got %d", fn.Name(), len(args))
	}
	s, ok := starlark.AsString(args[0])
	if !ok {
		return fmt.Errorf("%s: name must be a string, got %s", fn.Name(), args[0].Type())
	}
	*name = s

	if len(kwargs) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(kwargs))
	for _, kv := range kwargs {
		key, _ := starlark.AsString(kv[0])
		val, err := fromStarlarkValue(kv[1])
		if err != nil {
			return fmt.Errorf("%s: argument %s: %w", fn.Name(), key, err)
		}
		fields[key] = val
	}

	data, err := yaml.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%s: %w", fn.Name(), err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return nil
}

// evalScript executes a manifest script and returns the document its
// builder calls assembled. Execution is bounded by the parser's timeout;
// on expiry the thread is cancelled so a runaway script cannot pin the
// agent.
func (p *Parser) evalScript(data []byte, filename string) (*document, error) {
	evalCtx, cancel := context.WithTimeout(context.Background(), p.evalTimeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "manifest",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	b := &scriptBuilder{}
	docCh := make(chan *document, 1)
	errCh := make(chan error, 1)

	go func() {
		if _, err := starlark.ExecFile(thread, filename, data, b.builtins()); err != nil {
			errCh <- err
			return
		}
		docCh <- &b.doc
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("manifest evaluation timed out")
		return nil, fmt.Errorf("manifest script timed out after %v", p.evalTimeout)
	case err := <-errCh:
		return nil, fmt.Errorf("evaluate manifest script: %w", err)
	case doc := <-docCh:
		return doc, nil
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
