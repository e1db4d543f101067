package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/kazi/internal/domain"
)

// Exit codes for the run command.
const (
	ExitSuccess           = 0
	ExitToolFailure       = 1
	ExitRequestRejected   = 2
	ExitServerUnavailable = 3
)

var (
	runPackage   string
	runTool      string
	runVersion   string
	runParams    string
	runEnv       []string
	runServerURL string
	runToken     string
	runTimeout   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a tool against a running kazi server",
	Long: `Send one tool execution request to a kazi server and print the result.

Examples:
  kazi run -p @acme/hello -t greet
  kazi run -p @acme/hello -t greet --params '{"name":"world"}'
  kazi run -p left-pad -t default --version 1.3.0 -e API_KEY=secret

Exit codes:
  0  tool succeeded
  1  tool failed (install error, tool not found, tool threw)
  2  request rejected (bad request, unauthorized, server at capacity)
  3  server unreachable`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runPackage, "package", "p", "", "npm package name (required)")
	runCmd.Flags().StringVarP(&runTool, "tool", "t", "", "tool export name (required)")
	runCmd.Flags().StringVar(&runVersion, "version", "", "package version or tag (default: latest)")
	runCmd.Flags().StringVar(&runParams, "params", "", "tool parameters as a JSON object")
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	runCmd.Flags().StringVar(&runServerURL, "server-url", "http://localhost:3000", "kazi server URL")
	runCmd.Flags().StringVar(&runToken, "token", "", "bearer token (or KAZI_AUTH_TOKEN env)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 240, "request timeout in seconds")

	_ = runCmd.MarkFlagRequired("package")
	_ = runCmd.MarkFlagRequired("tool")
}

func runRun(_ *cobra.Command, _ []string) error {
	params, err := parseParams(runParams)
	if err != nil {
		return fmt.Errorf("invalid --params: %w", err)
	}
	env, err := parseEnv(runEnv)
	if err != nil {
		return err
	}

	serverURL := goutils.Env("KAZI_SERVER_URL", runServerURL)
	token := goutils.Env("KAZI_AUTH_TOKEN", runToken)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(runTimeout)*time.Second)
	defer cancel()

	reqBody, _ := json.Marshal(map[string]any{
		"packageName": runPackage,
		"name":        runTool,
		"version":     runVersion,
		"params":      params,
		"env":         env,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/execute-tool", bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitToolFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitServerUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &body)
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, body.Error)
		os.Exit(ExitRequestRejected)
	}

	var result domain.ExecutionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed response: %v\n", err)
		os.Exit(ExitToolFailure)
	}

	if !result.Success {
		fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", result.ErrorCode, result.ErrorMessage)
		if result.StderrTail != "" {
			fmt.Fprintln(os.Stderr, result.StderrTail)
		}
		os.Exit(ExitToolFailure)
	}

	out, _ := json.MarshalIndent(result.Output, "", "  ")
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "\n[duration=%dms]\n", result.ExecutionTimeMs)
	return nil
}

// parseParams decodes the --params JSON object.
func parseParams(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// parseEnv converts repeated KEY=VALUE flags into a map.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
