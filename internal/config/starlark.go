// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package config

import (
	"fmt"

	"go.starlark.net/starlark"
)

// object wraps a Go value returned by a builtin so it can be assigned to a
// global.
type object[T any] struct {
	typ string
	v   T
}

func (o *object[T]) String() string        { return fmt.Sprintf("<%s %+v>", o.typ, o.v) }
func (o *object[T]) Type() string          { return o.typ }
func (o *object[T]) Freeze()               {} // immutable
func (o *object[T]) Truth() starlark.Bool  { return true }
func (o *object[T]) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", o.typ) }

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"script":  starlark.NewBuiltin("script", scriptBuiltin),
		"bot_api": starlark.NewBuiltin("bot_api", botAPIBuiltin),
		"no_webhook": starlark.NewBuiltin("no_webhook", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return &object[Webhook]{typ: "webhook", v: Webhook{Mode: WebhookNone}}, nil
		}),
		"telegram": starlark.NewBuiltin("telegram", telegramBuiltin),
		"s3":       starlark.NewBuiltin("s3", s3Builtin),
	}
}

func scriptBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	w := Default().Webhook
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"register?", &w.Register,
		"verify?", &w.Verify,
		"interpreter?", &w.Interpreter,
	); err != nil {
		return nil, err
	}
	if w.Register == "" {
		return nil, fmt.Errorf("%s: register must not be empty", b.Name())
	}
	return &object[Webhook]{typ: "webhook", v: w}, nil
}

func botAPIBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return &object[Webhook]{typ: "webhook", v: Webhook{Mode: WebhookBotAPI}}, nil
}

func telegramBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var topic int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "topic?", &topic); err != nil {
		return nil, err
	}
	if topic < 0 {
		return nil, fmt.Errorf("%s: topic must not be negative", b.Name())
	}
	return &object[Notify]{typ: "notify", v: Notify{Topic: int64(topic)}}, nil
}

func s3Builtin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	s := S3{UseSSL: true}
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"endpoint", &s.Endpoint,
		"bucket", &s.Bucket,
		"prefix?", &s.Prefix,
		"use_ssl?", &s.UseSSL,
		"region?", &s.Region,
	); err != nil {
		return nil, err
	}
	if s.Endpoint == "" || s.Bucket == "" {
		return nil, fmt.Errorf("%s: endpoint and bucket must not be empty", b.Name())
	}
	return &object[S3]{typ: "s3", v: s}, nil
}

func getString(g starlark.StringDict, name string, dst *string) error {
	v, ok := g[name]
	if !ok {
		return nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return fmt.Errorf("%s must be a string, got %s", name, v.Type())
	}
	*dst = s
	return nil
}

func getInt(g starlark.StringDict, name string, dst *int) error {
	v, ok := g[name]
	if !ok {
		return nil
	}
	if err := starlark.AsInt(v, dst); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func getStringList(g starlark.StringDict, name string, dst *[]string) error {
	v, ok := g[name]
	if !ok {
		return nil
	}
	iter, ok := v.(starlark.Iterable)
	if !ok {
		return fmt.Errorf("%s must be a list, got %s", name, v.Type())
	}
	it := iter.Iterate()
	defer it.Done()
	var (
		out  []string
		elem starlark.Value
	)
	for it.Next(&elem) {
		s, ok := starlark.AsString(elem)
		if !ok {
			return fmt.Errorf("%s must contain only strings, got %s", name, elem.Type())
		}
		out = append(out, s)
	}
	*dst = out
	return nil
}

func getStringDict(g starlark.StringDict, name string, dst *map[string]string) error {
	v, ok := g[name]
	if !ok {
		return nil
	}
	d, ok := v.(*starlark.Dict)
	if !ok {
		return fmt.Errorf("%s must be a dict, got %s", name, v.Type())
	}
	out := make(map[string]string, d.Len())
	for _, item := range d.Items() {
		k, kok := starlark.AsString(item[0])
		val, vok := starlark.AsString(item[1])
		if !kok || !vok {
			return fmt.Errorf("%s must map strings to strings", name)
		}
		out[k] = val
	}
	*dst = out
	return nil
}

func getObject[T any](g starlark.StringDict, name string, dst **object[T]) error {
	v, ok := g[name]
	if !ok || v == starlark.None {
		return nil
	}
	o, ok := v.(*object[T])
	if !ok {
		return fmt.Errorf("%s has wrong type %s", name, v.Type())
	}
	*dst = o
	return nil
}
