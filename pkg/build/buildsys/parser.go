package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

// TaskFileName is the file the task command searches for.
const TaskFileName = "tasks.star"

type scriptCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	tasks        []*Task
	initPhase    bool
}

func getCtx(thread *starlark.Thread) *scriptCtx {
	return thread.Local("scriptCtx").(*scriptCtx)
}

func logInfo(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func logWarn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

// processCmdParts converts a tuple command into a single shell call
// expression. Leading KEY=VALUE strings become assignments, everything else
// becomes an argument; path values are rendered relative to the task base
// since absolute paths cause issues on Windows.
func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	assigns := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}

		assigns = append(assigns, value.GoString())
	}

	var cmd *syntax.CallExpr
	if len(assigns) > 0 {
		joined := strings.Join(assigns, " ")
		result, err := parser.Parse(strings.NewReader(joined), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joined)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	cmd.Args = make([]*syntax.Word, len(parts)-len(assigns))
	for idx, arg := range parts[len(assigns):] {
		var encoded string

		switch value := arg.(type) {
		case starlark.String:
			encoded = value.GoString()
		case Path:
			encoded = string(value)

			if filepath.IsAbs(encoded) {
				relValue, err := filepath.Rel(base, encoded)
				if err == nil {
					encoded = relValue
				}
			}

			encoded = filepath.ToSlash(encoded)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		var wordPart syntax.WordPart
		if strings.ContainsAny(encoded, " $'") {
			node := new(syntax.SglQuoted)
			node.Value = encoded
			wordPart = node
		} else {
			node := new(syntax.Lit)
			node.Value = encoded
			wordPart = node
		}

		cmd.Args[idx] = &syntax.Word{Parts: []syntax.WordPart{wordPart}}
	}

	return cmd, nil
}

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps *starlark.List
	var skipIfExists *starlark.List
	var inputs *starlark.List
	var outputs *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List

	item := new(Task)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short??", &item.Short, "hidden?", &item.Hidden,
		"desc?", &item.Desc, "deps?", &deps, "base?", &item.Base, "skip_if_exists?", &skipIfExists,
		"inputs?", &inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	if item.Short == "" {
		item.Hidden = true
		item.Short = "auto#" + nanoid.New()
	}

	item.Env = map[string]string{}

	if item.Base == "" {
		item.Base = "."
	}
	item.Base = normalizePath(getCtx(thread), item.Base)

	item.Deps, err = stringsFromIterable(deps, "deps")
	if err != nil {
		return nil, err
	}

	item.SkipIfExists, err = stringsFromIterable(skipIfExists, "skip_if_exists")
	if err != nil {
		return nil, err
	}

	item.Inputs, err = stringsFromIterable(inputs, "inputs")
	if err != nil {
		return nil, err
	}

	item.Outputs, err = stringsFromIterable(outputs, "outputs")
	if err != nil {
		return nil, err
	}

	if env != nil {
		for _, rawKey := range env.Keys() {
			key, ok := rawKey.(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", rawKey.Type())
			}

			rawValue, _, err := env.Get(rawKey)
			if err != nil {
				return nil, err
			}

			switch value := rawValue.(type) {
			case starlark.String:
				item.Env[key.GoString()] = value.GoString()
			case Path:
				item.Env[key.GoString()] = string(value)
			default:
				return nil, eris.Errorf("found value of type %s for key %s but only strings and paths are supported", rawValue.Type(), key.GoString())
			}
		}
	}

	if cmds != nil {
		item.Cmds, err = collectCmds(cmds, item.Short, item.Base)
		if err != nil {
			return nil, err
		}
	}

	if inputs != nil && inputs.Len() > 0 && (outputs == nil || outputs.Len() == 0) {
		logWarn(thread, "%s: found inputs but no outputs", fn.Name())
	}

	if !item.Hidden {
		ctx := getCtx(thread)
		ctx.tasks = append(ctx.tasks, item)
	}
	return item, nil
}

func collectCmds(cmds *starlark.List, taskName, base string) ([]TaskCmd, error) {
	result := make([]TaskCmd, 0, cmds.Len())
	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()
	strBuffer := strings.Builder{}

	iter := cmds.Iterate()
	defer iter.Done()

	var item starlark.Value
	idx := 0
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, ScriptCmd{TaskName: taskName, Index: idx, Content: value.GoString()})
		case starlark.Tuple:
			cmd, err := processCmdParts(value, parser, base)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			strBuffer.Reset()
			err = printer.Print(&strBuffer, cmd)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			result = append(result, ScriptCmd{TaskName: taskName, Index: idx, Content: strBuffer.String()})
		case *starlark.List:
			parts := make(starlark.Tuple, 0, value.Len())
			subIter := value.Iterate()
			var subItem starlark.Value
			for subIter.Next(&subItem) {
				parts = append(parts, subItem)
			}
			subIter.Done()

			cmd, err := processCmdParts(parts, parser, base)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			strBuffer.Reset()
			err = printer.Print(&strBuffer, cmd)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			result = append(result, ScriptCmd{TaskName: taskName, Index: idx, Content: strBuffer.String()})
		case *Task:
			result = append(result, TaskRef{Task: value})
		default:
			return nil, eris.Errorf("unexpected type %s, only strings, tuples, lists and tasks are valid", item.Type())
		}

		idx++
	}

	return result, nil
}

// ExecTaskFile executes a task file and returns the declared options. If
// doConfigure is true, the file's configure function is called and the
// declared tasks are collected and returned.
func ExecTaskFile(ctx context.Context, filename, projectRoot string, options map[string]string, doConfigure bool) (TaskList, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExec),
		"task":         starlark.NewBuiltin("task", task),
		"cross_env":    starlark.NewBuiltin("cross_env", crossEnv),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := scriptCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	thread.SetLocal("scriptCtx", &threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to read file")
	}

	globals, err := starlark.ExecFile(thread, simplifyPath(&threadCtx, filename), script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, nil, eris.Errorf("failed to execute %s:\n%s", simplifyPath(&threadCtx, filename), evalError.Backtrace())
		}
		return nil, nil, eris.Wrap(err, "failed to execute")
	}

	tasks := TaskList{}
	if doConfigure {
		configure, ok := globals["configure"]
		if !ok {
			return nil, nil, eris.Errorf("%s did not declare a configure function", simplifyPath(&threadCtx, filename))
		}

		configureFunc, ok := configure.(starlark.Callable)
		if !ok {
			return nil, nil, eris.Errorf("%s did declare a configure value but it's not a function", simplifyPath(&threadCtx, filename))
		}

		threadCtx.initPhase = false
		_, err = starlark.Call(thread, configureFunc, nil, nil)
		if err != nil {
			if evalError, ok := err.(*starlark.EvalError); ok {
				return nil, nil, eris.New(evalError.Backtrace())
			}
			return nil, nil, eris.Wrapf(err, "failed configure call in %s", simplifyPath(&threadCtx, filename))
		}

		for _, item := range threadCtx.tasks {
			tasks[item.Short] = item

			// env overrides set by the script apply to every task that
			// doesn't pin its own value
			for name, value := range threadCtx.envOverrides {
				_, present := item.Env[name]
				if !present {
					item.Env[name] = value
				}
			}
		}
	}

	return tasks, threadCtx.options, nil
}

// Parse executes the task file including its configure function and returns
// the resulting task list.
func Parse(ctx context.Context, filename, projectRoot string, options map[string]string) (TaskList, error) {
	tasks, _, err := ExecTaskFile(ctx, filename, projectRoot, options, true)
	return tasks, err
}
