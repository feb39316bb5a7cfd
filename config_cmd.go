package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# style name or JSON path (default "auto")
style: "auto"
# mouse support
mouse: false
# word-wrap at width
width: 80
# show the audio visualizer
visualizer: true
# speech engine: sim, piper, gtts or yandex
engine: "sim"
# bookmark store: a SQLite path or a postgres:// URL (default: user data dir)
# bookmarks: "~/.local/share/readaloud/bookmarks.db"

playback:
  rate: 1.0
  pitch: 1.0
  volume: 0.8
  # BCP 47 tag, or "auto" to detect it from the text
  lang: "en-US"
  # longest chunk in characters; audible engines cap it at 5000
  # max_chunk_len: 32767
  wpm: 150
  inter_chunk_delay: "100ms"
  seek_debounce: "300ms"

synth:
  timeout: "30s"
  # voice: ""
  # chunks synthesized ahead of the one playing; 0 disables
  prefetch: 2
  piper:
    binary: "piper"
    # model: "/path/to/en_US-lessac-medium.onnx"
    # speaker: "0"
  gtts:
    binary: "gtts-cli"
    lang: "en"
    requests_per_minute: 60
  # yandex credentials are read from YANDEX_API_KEY and YANDEX_FOLDER_ID
  yandex:
    voice: "marina"

cache:
  memory_bytes: 67108864
  disk_bytes: 536870912
  # dir: "~/.cache/readaloud/clips"
  compression_level: 3
  ttl: "168h"

serve:
  addr: "127.0.0.1:7381"
  metrics: true
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the readaloud config file",
	Long:    paragraph(fmt.Sprintf("\n%s the readaloud config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("readaloud config\nreadaloud config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("readaloud", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
