package userutil

import "testing"

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "alice", want: "alice"},
		{name: "domain user", input: "DOMAIN\\user", want: "DOMAIN_user"},
		{name: "email", input: "user@domain.com", want: "user_domain.com"},
		{name: "spaces collapse", input: "unit  user!", want: "unit_user_"},
		{name: "empty", input: "", want: "unknown"},
		{name: "whitespace", input: "  ", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeUsername(tt.input); got != tt.want {
				t.Fatalf("SanitizeUsername(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCurrentUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		user     string
		want     string
	}{
		{name: "USERNAME wins", username: "win user", user: "posix", want: "win_user"},
		{name: "USER fallback", username: "", user: "posix", want: "posix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("USERNAME", tt.username)
			t.Setenv("USER", tt.user)
			if got := CurrentUsername(); got != tt.want {
				t.Fatalf("CurrentUsername() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCurrentUsernameNeverEmpty(t *testing.T) {
	t.Setenv("USERNAME", "")
	t.Setenv("USER", "")
	if got := CurrentUsername(); got == "" {
		t.Fatal("CurrentUsername() returned empty string")
	}
}
