package main

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	simple "github.com/cochaviz/guestctl/config"
)

func newCleanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Args:  cobra.NoArgs,
		Short: "Remove every cached artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSettings(); err != nil {
				return err
			}
			cacheDir, err := a.resolveCacheDir()
			if err != nil {
				return err
			}
			return simple.Clean(simple.Options{
				CacheDir: cacheDir,
				Logger:   a.logger.With("command", "clean"),
			})
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Args:  cobra.NoArgs,
		Short: "List supported guests and cached artifacts",
		// list always succeeds; problems with the cache are logged.
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := a.logger.With("command", "list")
			if err := a.requireSettings(); err != nil {
				logger.Warn("using default settings", "error", err)
			}

			opts := simple.Options{Logger: logger}
			if cacheDir, err := a.resolveCacheDir(); err != nil {
				logger.Warn("cache directory unavailable", "error", err)
			} else {
				opts.CacheDir = cacheDir
			}

			listing, err := simple.List(opts)
			if err != nil {
				logger.Warn("could not read cache", "error", err)
				opts.CacheDir = ""
				listing, _ = simple.List(opts)
			}

			renderListing(cmd.OutOrStdout(), listing)
			return nil
		},
	}
}

func renderListing(w io.Writer, listing simple.Listing) {
	guests := tablewriter.NewWriter(w)
	guests.SetHeader([]string{"OS", "Arch", "Boot", "Firmware", "Cached", "Description"})
	guests.SetBorder(false)
	guests.SetAutoWrapText(false)
	for _, profile := range listing.Profiles {
		guests.Append([]string{
			profile.OS,
			profile.Arch.String(),
			string(profile.BootKind),
			yesNo(profile.Firmware.Required),
			yesNo(listing.Cached(profile)),
			profile.Description,
		})
	}
	guests.Render()

	if listing.CacheDir == "" {
		return
	}

	io.WriteString(w, "\ncache: "+listing.CacheDir+"\n")
	if len(listing.Entries) == 0 {
		io.WriteString(w, "  (empty)\n")
		return
	}

	cache := tablewriter.NewWriter(w)
	cache.SetHeader([]string{"Artifact", "Size"})
	cache.SetBorder(false)
	cache.SetAlignment(tablewriter.ALIGN_LEFT)
	var total int64
	for _, entry := range listing.Entries {
		cache.Append([]string{entry.Name, humanize.IBytes(uint64(entry.Size))})
		total += entry.Size
	}
	cache.SetFooter([]string{"total", humanize.IBytes(uint64(total))})
	cache.Render()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
