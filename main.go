// Package main provides the entry point for the readaloud CLI application.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/utils"
)

const appName = "readaloud"

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	readmeNames      = []string{"README.md", "README", "Readme.md", "Readme", "readme.md", "readme"}
	configFile       string
	debug            bool
	engineName       string
	bookmarksDSN     string
	style            string
	width            uint
	resume           bool
	autoplay         bool
	fromClipboard    bool
	noVisualizer     bool
	showLineNumbers  bool
	preserveNewLines bool
	mouse            bool

	rootCmd = &cobra.Command{
		Use:   "readaloud [SOURCE|DIR]",
		Short: "Read articles aloud in the terminal",
		Long: paragraph(
			fmt.Sprintf("\nRead articles aloud in the terminal, %s.", keyword("and follow along")),
		),
		Example: paragraph("readaloud README.md\n" +
			"readaloud https://example.com/post.html --engine piper\n" +
			"curl -s https://example.com/post.html | readaloud -e gtts -"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// engineNames lists what --engine accepts.
var engineNames = []string{"sim", "piper", "gtts", "yandex"}

// validateStyle checks if the style is a default style, if not, checks that
// the custom style exists.
func validateStyle(style string) error {
	if style != "auto" && styles.DefaultStyles[style] == nil {
		style = utils.ExpandPath(style)
		if _, err := os.Stat(style); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("specified style does not exist: %s", style)
		} else if err != nil {
			return fmt.Errorf("unable to stat file: %w", err)
		}
	}
	return nil
}

func validateEngine(name string) error {
	for _, n := range engineNames {
		if n == name {
			return nil
		}
	}
	return fmt.Errorf("unknown engine %q: use one of %v", name, engineNames)
}

func validateOptions(cmd *cobra.Command) error {
	// grab config values from Viper
	debug = viper.GetBool("debug")
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	width = viper.GetUint("width")
	mouse = viper.GetBool("mouse")
	preserveNewLines = viper.GetBool("preserveNewLines")
	showLineNumbers = viper.GetBool("showLineNumbers")
	engineName = viper.GetString("engine")
	bookmarksDSN = viper.GetString("bookmarks")
	noVisualizer = noVisualizer || !viper.GetBool("visualizer")

	if err := validateEngine(engineName); err != nil {
		return err
	}
	if rate := viper.GetFloat64("playback.rate"); rate < playback.MinRate || rate > playback.MaxRate {
		return fmt.Errorf("rate must be between %.1f and %.1f, got %.2f", playback.MinRate, playback.MaxRate, rate)
	}
	if vol := viper.GetFloat64("playback.volume"); vol < playback.MinVolume || vol > playback.MaxVolume {
		return fmt.Errorf("volume must be between %.1f and %.1f, got %.2f", playback.MinVolume, playback.MaxVolume, vol)
	}

	// validate the glamour style
	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	// We want to use a special no-TTY style, when stdout is not a terminal
	// and there was no specific style passed by arg
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = "notty"
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") { //nolint:nestif
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}

			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	// A .env next to the working directory may carry engine credentials.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Could not load .env", "err", err)
	}
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	pf.BoolVar(&debug, "debug", false, "log at debug level")
	pf.StringVarP(&engineName, "engine", "e", "sim", "speech engine (sim, piper, gtts or yandex)")
	pf.StringVar(&bookmarksDSN, "bookmarks", "", "bookmark store: a SQLite path or a postgres:// URL")
	pf.Float64("rate", playback.DefaultConfig().Rate, "speaking rate (1 is normal)")
	pf.Float64("volume", playback.DefaultConfig().Volume, "volume between 0 and 1")
	pf.String("lang", playback.DefaultConfig().Lang, `speech language as a BCP 47 tag, or "auto"`)

	f := rootCmd.Flags()
	f.StringVarP(&style, "style", "s", styles.AutoStyle, "style name or JSON path")
	f.UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to disable)")
	f.BoolVarP(&resume, "resume", "r", false, "continue from the saved bookmark")
	f.BoolVarP(&autoplay, "autoplay", "p", false, "start reading right away")
	f.BoolVarP(&fromClipboard, "clipboard", "c", false, "read the clipboard contents")
	f.BoolVar(&noVisualizer, "no-visualizer", false, "hide the audio visualizer")
	f.BoolVarP(&showLineNumbers, "line-numbers", "l", false, "show line numbers")
	f.BoolVarP(&preserveNewLines, "preserve-new-lines", "n", false, "preserve newlines in the output")
	f.BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = f.MarkHidden("mouse")

	// Config bindings
	_ = viper.BindPFlag("debug", pf.Lookup("debug"))
	_ = viper.BindPFlag("engine", pf.Lookup("engine"))
	_ = viper.BindPFlag("bookmarks", pf.Lookup("bookmarks"))
	_ = viper.BindPFlag("playback.rate", pf.Lookup("rate"))
	_ = viper.BindPFlag("playback.volume", pf.Lookup("volume"))
	_ = viper.BindPFlag("playback.lang", pf.Lookup("lang"))
	_ = viper.BindPFlag("style", f.Lookup("style"))
	_ = viper.BindPFlag("width", f.Lookup("width"))
	_ = viper.BindPFlag("mouse", f.Lookup("mouse"))
	_ = viper.BindPFlag("preserveNewLines", f.Lookup("preserve-new-lines"))
	_ = viper.BindPFlag("showLineNumbers", f.Lookup("line-numbers"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("width", 0)
	viper.SetDefault("engine", "sim")
	viper.SetDefault("visualizer", true)
	setPlaybackDefaults()
	setSessionDefaults()

	rootCmd.AddCommand(configCmd, manCmd, textCmd, chunksCmd, probeCmd, lsCmd, serveCmd, bookmarksCmd)
}

func setPlaybackDefaults() {
	d := playback.DefaultConfig()
	viper.SetDefault("playback.rate", d.Rate)
	viper.SetDefault("playback.pitch", d.Pitch)
	viper.SetDefault("playback.volume", d.Volume)
	viper.SetDefault("playback.lang", d.Lang)
	viper.SetDefault("playback.max_chunk_len", d.MaxChunkLen)
	viper.SetDefault("playback.wpm", d.WordsPerMinute)
	viper.SetDefault("playback.inter_chunk_delay", d.InterChunkDelay)
	viper.SetDefault("playback.seek_debounce", d.SeekDebounce)
	viper.SetDefault("playback.intent_grace", d.IntentGrace)
	viper.SetDefault("playback.tick_interval", d.TickInterval)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, appName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, appName)}, dirs...)
	}

	if c := os.Getenv("READALOUD_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(appName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(appName)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], appName+".yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
