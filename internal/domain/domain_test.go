package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSpec(t *testing.T) {
	tests := []struct {
		name string
		req  ExecutionRequest
		want string
	}{
		{"explicit version", ExecutionRequest{PackageName: "left-pad", Version: "1.3.0"}, "left-pad@1.3.0"},
		{"default latest", ExecutionRequest{PackageName: "left-pad"}, "left-pad@latest"},
		{"scoped package", ExecutionRequest{PackageName: "@acme/hello", Version: "next"}, "@acme/hello@next"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.req.Spec(); got != tc.want {
				t.Errorf("Spec() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResultJSON_Success(t *testing.T) {
	data, err := json.Marshal(Succeed(map[string]any{"greeting": "hi"}))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"success":true`) {
		t.Errorf("json = %s", s)
	}
	// Success results never carry error fields.
	if strings.Contains(s, "errorCode") || strings.Contains(s, `"error"`) {
		t.Errorf("error fields leaked into success json: %s", s)
	}
	if !strings.Contains(s, `"executionTimeMs"`) {
		t.Errorf("executionTimeMs must always serialize: %s", s)
	}
}

func TestResultJSON_Failure(t *testing.T) {
	data, err := json.Marshal(Failure(ErrToolNotFound, `Tool "x" not found in package "y"`))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"success":false`) {
		t.Errorf("json = %s", s)
	}
	if !strings.Contains(s, `"errorCode":"TOOL_NOT_FOUND"`) {
		t.Errorf("json = %s", s)
	}
	if !strings.Contains(s, `"output":null`) {
		t.Errorf("output key must serialize as null on failure: %s", s)
	}
}

func TestResultJSON_NullOutput(t *testing.T) {
	// A tool may legitimately return null; the key must survive.
	data, err := json.Marshal(Succeed(nil))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"success":true`) {
		t.Errorf("json = %s", s)
	}
	if !strings.Contains(s, `"output":null`) {
		t.Errorf("output key dropped for null result: %s", s)
	}
}
