package github

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

type AuthTokenSource string

const (
	AuthTokenSourceExplicit AuthTokenSource = "explicit"
	AuthTokenSourceGitHubCL AuthTokenSource = "gh"
)

// tokenEnvVars are consulted in order.
var tokenEnvVars = []string{"GITHUB_TOKEN", "GH_TOKEN"}

func envTokenSource(name string) AuthTokenSource {
	return AuthTokenSource("env:" + name)
}

// ResolveAuthToken finds a GitHub access token for the releases source.
//
// Precedence:
//  1. provided (if non-empty)
//  2. GITHUB_TOKEN, then GH_TOKEN
//  3. GitHub CLI: `gh auth token -h github.com`
//
// An empty token with a nil error means anonymous access. The token is never
// logged.
func ResolveAuthToken(ctx context.Context, provided string) (string, AuthTokenSource, error) {
	if tok := strings.TrimSpace(provided); tok != "" {
		return tok, AuthTokenSourceExplicit, nil
	}
	for _, name := range tokenEnvVars {
		if tok := strings.TrimSpace(os.Getenv(name)); tok != "" {
			return tok, envTokenSource(name), nil
		}
	}

	tok, err := tokenFromGitHubCLI(ctx)
	if err != nil || tok == "" {
		return "", "", err
	}
	return tok, AuthTokenSourceGitHubCL, nil
}

func tokenFromGitHubCLI(ctx context.Context) (string, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return "", nil
	}

	// A broken gh credential helper must not hang the scheduler.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "gh", "auth", "token", "-h", "github.com")
	cmd.Env = append(withoutEnv(os.Environ(), "GH_PAGER"), "GH_PAGER=cat")
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Not logged in or otherwise unusable: fall back to anonymous access.
		return "", nil
	}

	tok := strings.TrimSpace(string(out))
	if strings.ContainsAny(tok, " \t\n\r") {
		return "", errors.New("invalid token returned by gh: contains whitespace")
	}
	return tok, nil
}

func withoutEnv(env []string, name string) []string {
	out := make([]string, 0, len(env))
	for _, entry := range env {
		if strings.HasPrefix(entry, name+"=") {
			continue
		}
		out = append(out, entry)
	}
	return out
}
