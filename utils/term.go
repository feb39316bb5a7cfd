package utils

import "github.com/muesli/termenv"

func isDark() bool { return termenv.HasDarkBackground() }
