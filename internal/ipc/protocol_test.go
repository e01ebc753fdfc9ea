package ipc

import (
	"runtime"
	"strings"
	"testing"
)

func testEndpoint(name string) string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\keyflow-` + name
	}
	return "/tmp/keyflow-" + name + ".sock"
}

func TestDefaultEndpointHonorsTrustedEnvOverride(t *testing.T) {
	want := testEndpoint("ci_pipe")
	t.Setenv(EnvEndpoint, want)

	if got := DefaultEndpoint(); got != want {
		t.Fatalf("DefaultEndpoint() = %q, want %q", got, want)
	}
}

func TestDefaultEndpointRejectsUntrustedEnvOverride(t *testing.T) {
	untrusted := []string{`\\.\pipe\other-app`, "relative/keyflow-x.sock", "/tmp/other.sock", "/tmp/../tmp/keyflow-x.sock"}
	for _, value := range untrusted {
		t.Run(value, func(t *testing.T) {
			t.Setenv(EnvEndpoint, value)
			t.Setenv("USERNAME", "unit-tester")

			got := DefaultEndpoint()
			if got == value {
				t.Fatalf("DefaultEndpoint() accepted untrusted override %q", value)
			}
			if !strings.Contains(got, "keyflow-unit-tester") {
				t.Fatalf("DefaultEndpoint() = %q, want per-user default", got)
			}
		})
	}
}

func TestDefaultEndpointSanitizesUsername(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	t.Setenv("USERNAME", "unit user!")

	got := DefaultEndpoint()
	if !strings.Contains(got, "keyflow-unit_user_") {
		t.Fatalf("DefaultEndpoint() = %q, want sanitized username", got)
	}
	if !validEndpoint(got) {
		t.Fatalf("default endpoint %q does not pass its own validation", got)
	}
}

func TestDecodeRequestNormalizes(t *testing.T) {
	req, err := decodeRequest([]byte(`{"command":"  Status "}`))
	if err != nil {
		t.Fatalf("decodeRequest() error = %v", err)
	}
	if req.Command != CmdStatus {
		t.Fatalf("Command = %q, want %q", req.Command, CmdStatus)
	}
	if req.Args == nil || len(req.Args) != 0 {
		t.Fatalf("Args = %#v, want empty non-nil slice", req.Args)
	}

	if _, err := decodeRequest([]byte("{bad")); err == nil {
		t.Fatal("decodeRequest() expected error for malformed JSON")
	}
}

func TestFailureAddsNewline(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"boom", "boom\n"},
		{"boom\n", "boom\n"},
	}
	for _, tt := range tests {
		resp := Failure(tt.in)
		if resp.ExitCode != 1 || resp.Stderr != tt.want {
			t.Errorf("Failure(%q) = %+v", tt.in, resp)
		}
	}
}
