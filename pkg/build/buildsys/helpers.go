package buildsys

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// normalizePath resolves the passed path segments against the task file's
// directory. A leading // anchors a path at the project root and a leading /
// at the volume of the task file (relevant on Windows).
func normalizePath(ctx *scriptCtx, pathList ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, item := range pathList {
		switch {
		case strings.HasPrefix(item, "//"):
			result = filepath.Join(ctx.projectRoot, item[2:])
		case strings.HasPrefix(item, "/"):
			result = filepath.Join(filepath.VolumeName(result), item)
		case !filepath.IsAbs(item):
			result = filepath.Join(result, item)
		default:
			result = item
		}
	}

	return filepath.Clean(result)
}

// simplifyPath renders paths below the project root in // notation
func simplifyPath(ctx *scriptCtx, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	if strings.HasPrefix(absPath, ctx.projectRoot) {
		return "//" + absPath[len(ctx.projectRoot)+1:]
	}
	return path
}

// scriptEnviron merges the override map over the process environment
func scriptEnviron(ctx *scriptCtx) []string {
	osEnv := os.Environ()
	merged := make([]string, 0, len(osEnv)+len(ctx.envOverrides))
	for _, item := range osEnv {
		parts := strings.SplitN(item, "=", 2)
		if runtime.GOOS == "windows" {
			parts[0] = strings.ToUpper(parts[0])
		}

		// skip overridden entries to avoid conflicts
		if _, present := ctx.envOverrides[parts[0]]; !present {
			merged = append(merged, item)
		}
	}

	for k, v := range ctx.envOverrides {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}

	return merged
}

func stringsFromIterable(input starlark.Iterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := []string{}
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		value, ok := item.(starlark.String)
		if !ok {
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}

		result = append(result, value.GoString())
	}
	return result, nil
}

func goValueToStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float64:
		return starlark.Float(value), nil
	case []interface{}:
		items := make(starlark.Tuple, len(value))
		for idx, raw := range value {
			var err error
			items[idx], err = goValueToStarlark(raw)
			if err != nil {
				return nil, err
			}
		}

		return items, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(value))
		for k, v := range value {
			converted, err := goValueToStarlark(v)
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(starlark.String(k), converted)
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	return nil, eris.Errorf("encountered unsupported type %T", value)
}
