package ui

// Config contains TUI-specific configuration.
type Config struct {
	GlamourMaxWidth  uint
	GlamourStyle     string `env:"GLAMOUR_STYLE"`
	EnableMouse      bool
	PreserveNewLines bool
	ShowLineNumbers  bool

	// File being read. Empty when the document came from stdin, a URL or
	// the clipboard.
	Path string
	// Label shown in the status bar when Path is empty.
	Note string

	// Speech engine name, shown in the status bar.
	Engine   string
	AutoPlay bool
	Resume   bool

	Visualizer    bool `env:"READALOUD_VISUALIZER" envDefault:"true"`
	FollowReading bool `env:"READALOUD_FOLLOW"     envDefault:"true"`

	// For debugging the UI
	GlamourEnabled bool `env:"READALOUD_ENABLE_GLAMOUR" envDefault:"true"`
}
