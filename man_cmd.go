package main

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

var manCmd = &cobra.Command{
	Use:                   "man",
	Short:                 "Generate man pages",
	Args:                  cobra.NoArgs,
	DisableFlagsInUseLine: true,
	Hidden:                true,
	RunE: func(*cobra.Command, []string) error {
		page, err := mcobra.NewManPage(1, rootCmd)
		if err != nil {
			return err
		}

		page = page.WithSection("Copyright", "(C) 2025 dgnsrekt.\n"+
			"Released under MIT license.")
		page = page.WithSection("Files", "Configuration is read from readaloud.yml in the\n"+
			"user config directory. Bookmarks live in bookmarks.db in the user data\n"+
			"directory and synthesized clips in the user cache directory.")
		fmt.Println(page.Build(roff.NewDocument()))
		return nil
	},
}
