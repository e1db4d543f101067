package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

// ScriptName is the generated runner file written into the scope.
const ScriptName = "__kazi_runner.js"

// runnerScript is the Node.js program that loads the installed package,
// resolves the requested export, and invokes its execute capability.
//
// Resolution order (first non-missing candidate wins):
//  1. a named export matching the export name
//  2. a property of that name on the package's default export
//  3. the package's default export itself
//
// A function candidate without an execute capability is treated as a
// factory: it is called with no arguments, then with the environment
// mapping, each attempt best-effort.
//
// Results travel over the marker protocol: a single tagged JSON line on
// stdout for success, on stderr (plus non-zero exit) for errors.
var runnerScript = template.Must(template.New("runner").Parse(`"use strict";

const RESULT_MARKER = {{.ResultMarker}};
const ERROR_MARKER = {{.ErrorMarker}};

const packageName = {{.PackageName}};
const exportName = {{.ExportName}};
const params = {{.Parameters}};
const extraEnv = {{.Environment}};

function fail(message) {
  process.stderr.write(ERROR_MARKER + JSON.stringify({ message: String(message) }) + "\n");
  process.exit(1);
}

function hasExecute(candidate) {
  return candidate !== null && candidate !== undefined && typeof candidate.execute === "function";
}

(async () => {
  // Environment is injected before any package code runs.
  for (const [key, value] of Object.entries(extraEnv)) {
    process.env[key] = value;
  }

  let pkg;
  try {
    pkg = require(packageName);
  } catch (err) {
    fail('Failed to load package "' + packageName + '": ' + (err && err.message ? err.message : String(err)));
    return;
  }

  let candidate;
  if (pkg !== null && pkg !== undefined && pkg[exportName] !== undefined) {
    candidate = pkg[exportName];
  } else if (pkg && pkg.default !== null && pkg.default !== undefined && pkg.default[exportName] !== undefined) {
    candidate = pkg.default[exportName];
  } else if (pkg && pkg.default !== undefined) {
    candidate = pkg.default;
  }

  if (candidate === undefined) {
    fail('Tool "' + exportName + '" not found in package "' + packageName + '"');
    return;
  }

  if (typeof candidate === "function" && !hasExecute(candidate)) {
    // Factory export: call it to produce the actual tool.
    try {
      const produced = await candidate();
      if (hasExecute(produced)) {
        candidate = produced;
      }
    } catch (err) {
      // Best-effort; fall through to the next strategy.
    }
    if (!hasExecute(candidate)) {
      try {
        const produced = await candidate(extraEnv);
        if (hasExecute(produced)) {
          candidate = produced;
        }
      } catch (err) {
        // Best-effort; fall through.
      }
    }
  }

  if (!hasExecute(candidate)) {
    fail('Tool "' + exportName + '" in package "' + packageName + '" is not executable: no execute() capability');
    return;
  }

  try {
    const result = await candidate.execute(params);
    process.stdout.write(RESULT_MARKER + JSON.stringify({ output: result === undefined ? null : result }) + "\n");
    process.exit(0);
  } catch (err) {
    fail(err && err.message ? err.message : String(err));
  }
})().catch((err) => {
  fail(err && err.message ? err.message : String(err));
});
`))

type scriptData struct {
	ResultMarker string
	ErrorMarker  string
	PackageName  string
	ExportName   string
	Parameters   string
	Environment  string
}

// GenerateScript renders the runner script for one invocation. All caller
// values are embedded as JSON literals, so no request content is ever
// interpreted as JavaScript source.
func GenerateScript(inv Invocation) ([]byte, error) {
	data := scriptData{
		ResultMarker: mustJSON(ResultMarker),
		ErrorMarker:  mustJSON(ErrorMarker),
	}

	var err error
	if data.PackageName, err = jsonLiteral(inv.PackageName); err != nil {
		return nil, fmt.Errorf("encoding package name: %w", err)
	}
	if data.ExportName, err = jsonLiteral(inv.ExportName); err != nil {
		return nil, fmt.Errorf("encoding export name: %w", err)
	}
	params := inv.Parameters
	if params == nil {
		params = map[string]any{}
	}
	if data.Parameters, err = jsonLiteral(params); err != nil {
		return nil, fmt.Errorf("encoding parameters: %w", err)
	}
	env := inv.Environment
	if env == nil {
		env = map[string]string{}
	}
	if data.Environment, err = jsonLiteral(env); err != nil {
		return nil, fmt.Errorf("encoding environment: %w", err)
	}

	var buf bytes.Buffer
	if err := runnerScript.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering runner script: %w", err)
	}
	return buf.Bytes(), nil
}

func jsonLiteral(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func mustJSON(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}
