package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

// ErrNoSource is returned when no readable document could be found.
var ErrNoSource = errors.New("missing source: pass a file, a URL, a directory or - for stdin")

var httpClient = &http.Client{Timeout: 30 * time.Second}

// source provides a readable document source.
type source struct {
	reader io.ReadCloser
	URL    string
}

// local reports whether the source is a file on disk.
func (s *source) local() bool {
	return s.URL != "" && !isURL(s.URL)
}

func isURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// sourceFromArg parses an argument and creates a readable source for it.
func sourceFromArg(arg string) (*source, error) {
	// from stdin
	if arg == "-" {
		return &source{reader: os.Stdin}, nil
	}

	// HTTP(S) URLs:
	if u, err := url.ParseRequestURI(arg); err == nil && strings.Contains(arg, "://") { //nolint:nestif
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("%s is not a supported protocol", u.Scheme)
		}
		// consumer of the source is responsible for closing the ReadCloser.
		resp, err := httpClient.Get(u.String()) //nolint:noctx
		if err != nil {
			return nil, fmt.Errorf("unable to get url: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
		}
		return &source{resp.Body, u.String()}, nil
	}

	// a directory:
	if len(arg) == 0 {
		// use the current working dir if no argument was supplied
		arg = "."
	}
	st, err := os.Stat(arg)
	if err == nil && st.IsDir() {
		path, ok := findReadme(arg)
		if !ok {
			return nil, ErrNoSource
		}
		r, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open file: %w", err)
		}
		return &source{r, path}, nil
	}

	r, err := os.Open(arg)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	u, err := filepath.Abs(arg)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("unable to get absolute path: %w", err)
	}
	return &source{r, u}, nil
}

// findReadme returns the absolute path of the first README under dir.
func findReadme(dir string) (string, bool) {
	var found string
	_ = filepath.Walk(dir, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		for _, v := range readmeNames {
			if strings.EqualFold(filepath.Base(path), v) {
				found, _ = filepath.Abs(path)
				// abort filepath.Walk
				return errors.New("source found")
			}
		}
		return nil
	})
	return found, found != ""
}

// clipboardSource reads the system clipboard.
func clipboardSource() (*source, error) {
	s, err := clipboard.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to read clipboard: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("clipboard is empty")
	}
	return &source{reader: io.NopCloser(strings.NewReader(s))}, nil
}

// readSource reads the whole document and closes the source.
func readSource(src *source) (string, error) {
	defer src.reader.Close() //nolint:errcheck
	b, err := io.ReadAll(src.reader)
	if err != nil {
		return "", fmt.Errorf("unable to read from reader: %w", err)
	}
	return string(b), nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// openInput resolves the root command's input: clipboard, piped stdin, or
// the argument.
func openInput(args []string) (*source, error) {
	if fromClipboard {
		return clipboardSource()
	}
	if len(args) == 0 {
		if yes, err := stdinIsPipe(); err != nil {
			return nil, err
		} else if yes {
			return &source{reader: os.Stdin}, nil
		}
		return sourceFromArg("")
	}
	return sourceFromArg(args[0])
}
