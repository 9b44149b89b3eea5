package runtime

import (
	"context"
	"log/slog"
	"os"
	"path"

	"github.com/risor-io/risor/object"
)

// makeGlobMatchFn creates the "glob_match" host function.
//
// glob_match(pattern, name) → bool
func makeGlobMatchFn() *object.Builtin {
	return object.NewBuiltin("glob_match", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("glob_match", 2, len(args))
		}
		pattern, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("glob_match: pattern must be a string, got %s", args[0].Type())
		}
		name, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("glob_match: name must be a string, got %s", args[1].Type())
		}
		matched, err := path.Match(pattern.Value(), name.Value())
		if err != nil {
			return object.Errorf("glob_match: %v", err)
		}
		return object.NewBool(matched)
	})
}

// makeEnvFn creates the "env" host function. Unset variables read as "".
//
// env(name) → string
func makeEnvFn() *object.Builtin {
	return object.NewBuiltin("env", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("env", 1, len(args))
		}
		name, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("env: name must be a string, got %s", args[0].Type())
		}
		return object.NewString(os.Getenv(name.Value()))
	})
}

// makeRegisterFn creates a host function that passes its single string
// argument to fn. The policy script declares its sets through these.
//
// name(value) → nil
func makeRegisterFn(name string, fn func(string)) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError(name, 1, len(args))
		}
		s, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("%s: argument must be a string, got %s", name, args[0].Type())
		}
		if s.Value() == "" {
			return object.Errorf("%s: empty name", name)
		}
		fn(s.Value())
		return object.Nil
	})
}

// makeLogModule creates the "log" module. Its info, warn and error
// functions write their single string argument to logger.
//
// log.warn(msg) → nil
func makeLogModule(logger *slog.Logger) *object.Module {
	level := func(name string, fn func(msg string, args ...any)) *object.Builtin {
		return object.NewBuiltin("log."+name, func(ctx context.Context, args ...object.Object) object.Object {
			if len(args) != 1 {
				return object.NewArgsError("log."+name, 1, len(args))
			}
			msg, ok := args[0].(*object.String)
			if !ok {
				return object.Errorf("log.%s: message must be a string, got %s", name, args[0].Type())
			}
			fn(msg.Value())
			return object.Nil
		})
	}
	return object.NewBuiltinsModule("log", map[string]object.Object{
		"info":  level("info", logger.Info),
		"warn":  level("warn", logger.Warn),
		"error": level("error", logger.Error),
	})
}
