package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Exit codes: 0 every hunk accepted, 1 at least one rejection,
// 2 transport or protocol failure.
const (
	exitRejected = 1
	exitFailure  = 2
)

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

var useColor = isatty.IsTerminal(os.Stdout.Fd())

func green(s string) string {
	if !useColor {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func red(s string) string {
	if !useColor {
		return s
	}
	return "\033[31m" + s + "\033[0m"
}

// healthURL converts the ws:// server address into the daemon's HTTP
// health endpoint.
func healthURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/health"
	return u.String(), nil
}

func shortHeader(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 40 {
		return header[:40] + "…"
	}
	return header
}
