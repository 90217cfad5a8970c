package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workflowshelf/workflowshelf/pkg/logger"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

func addSourceFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "source", "s", "local", "Catalog source: local, cloud or member")
}

// showSource starts the panel and switches to the requested source.
func showSource(ctx context.Context, s *shelf, name string) (models.Source, error) {
	source, err := models.ParseSource(name)
	if err != nil {
		return source, err
	}
	if err := s.panel.Start(ctx); err != nil && source == models.SourceLocal {
		return source, fmt.Errorf("%s catalog unavailable", source)
	}
	if source == models.SourceLocal {
		return source, nil
	}
	if err := s.panel.SelectTab(ctx, source); err != nil {
		return source, fmt.Errorf("%s catalog unavailable", source)
	}
	return source, nil
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var sourceName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the workflows of a source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			if _, err := showSource(cmd.Context(), s, sourceName); err != nil {
				return err
			}
			renderView(cmd.OutOrStdout(), s.panel.Snapshot(), false)
			return nil
		},
	}
	addSourceFlag(cmd, &sourceName)
	return cmd
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var sourceName string

	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Show folders and favorites matching a keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			if _, err := showSource(cmd.Context(), s, sourceName); err != nil {
				return err
			}
			s.panel.SetKeyword(args[0])
			renderView(cmd.OutOrStdout(), s.panel.Snapshot(), true)
			return nil
		},
	}
	addSourceFlag(cmd, &sourceName)
	return cmd
}

func newFavCommand(ctx *commandContext) *cobra.Command {
	var list, clearAll bool

	cmd := &cobra.Command{
		Use:   "fav [path]",
		Short: "Toggle a favorite workflow, or list and clear favorites",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			switch {
			case clearAll:
				if err := s.favorites.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(out, "Favorites cleared")
				return nil
			case list || len(args) == 0:
				for _, p := range s.favorites.List().Sorted() {
					fmt.Fprintln(out, p)
				}
				return nil
			}

			added, err := s.panel.ToggleFavorite(args[0])
			if err != nil {
				return err
			}
			if added {
				fmt.Fprintf(out, "Added %s to favorites\n", args[0])
			} else {
				fmt.Fprintf(out, "Removed %s from favorites\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List favorites")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Remove every favorite")
	return cmd
}

func newOpenCommand(ctx *commandContext) *cobra.Command {
	var sourceName string
	var output string

	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Load a workflow and print its document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			s, err := ctx.openShelf(out)
			if err != nil {
				return err
			}
			defer s.close()

			if _, err := showSource(cmd.Context(), s, sourceName); err != nil {
				return err
			}
			if _, err := s.panel.Open(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			return nil
		},
	}
	addSourceFlag(cmd, &sourceName)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the document to a file instead of stdout")
	return cmd
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Clear the server's cloud cache and reload the cloud catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			if _, err := showSource(cmd.Context(), s, models.SourceCloud.String()); err != nil {
				return err
			}
			if err := s.panel.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("refresh cloud catalog: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cloud cache cleared")
			renderView(cmd.OutOrStdout(), s.panel.Snapshot(), false)
			return nil
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var sourceName string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the catalog of a source again whenever the server reports a change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			if _, err := showSource(runCtx, s, sourceName); err != nil {
				return err
			}
			renderView(out, s.panel.Snapshot(), false)

			stream := s.client.NewEventStream()
			if sess := s.panel.Session(); sess != nil {
				stream.SetToken(sess.Token)
			}
			for ev := range stream.Subscribe(runCtx) {
				if ev.Source != s.panel.Active() {
					continue
				}
				if err := s.panel.HandleEvent(runCtx, ev); err != nil {
					logger.Debug("Refetch after %s: %v", ev.Type, err)
				}
				fmt.Fprintln(out)
				renderView(out, s.panel.Snapshot(), false)
			}
			return nil
		},
	}
	addSourceFlag(cmd, &sourceName)
	return cmd
}
