package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
)

func newResolveCmd(a *app) *cobra.Command {
	var host hostFlags
	cmd := &cobra.Command{
		Use:   "resolve <manifest>",
		Short: "Show the artifact a manifest selects for a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, info, err := a.loadManifest(cmd.Context(), args[0], host)
			if err != nil {
				return err
			}
			art, err := manifest.Resolve(m, info)
			if err != nil {
				return err
			}
			printArtifact(cmd.OutOrStdout(), art, info)
			return nil
		},
	}
	host.register(cmd)
	return cmd
}

func newInstallCmd(a *app) *cobra.Command {
	var host hostFlags
	cmd := &cobra.Command{
		Use:   "install <manifest>",
		Short: "Download, verify and install a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, info, err := a.loadManifest(ctx, args[0], host)
			if err != nil {
				return err
			}
			eng, err := a.engine()
			if err != nil {
				return err
			}

			return a.withLock(ctx, m.Name, "install", func() error {
				rep, err := eng.Install(ctx, m, info)
				if rep != nil {
					printWarnings(cmd.ErrOrStderr(), rep.Warnings)
				}
				if err != nil {
					return err
				}
				printInstall(cmd.OutOrStdout(), rep, info)
				return nil
			})
		},
	}
	host.register(cmd)
	return cmd
}

func newUninstallCmd(a *app) *cobra.Command {
	var (
		zap         bool
		displayName string
	)
	cmd := &cobra.Command{
		Use:   "uninstall <name|manifest>",
		Short: "Remove an installed package",
		Long: `Remove the symlink, desktop entry, icon and managed copies that install
registered. With --zap, also remove the application's user state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := a.target(ctx, args[0], displayName)
			if err != nil {
				return err
			}
			eng, err := a.engine()
			if err != nil {
				return err
			}

			return a.withLock(ctx, t.name, "uninstall", func() error {
				rep, err := eng.Uninstall(ctx, t.name)
				if rep != nil {
					printWarnings(cmd.ErrOrStderr(), rep.Warnings)
					printRemoval(cmd.OutOrStdout(), "Uninstalled", t.name, rep)
				}
				if err != nil || !zap {
					return err
				}

				rep, err = eng.Zap(ctx, t.displayName, t.zap)
				if rep != nil {
					printRemoval(cmd.OutOrStdout(), "Zapped", t.displayName, rep)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&zap, "zap", false, "also remove user state")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name naming the user state directories (defaults to the package name)")
	return cmd
}

func newZapCmd(a *app) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "zap <name|manifest>",
		Short: "Remove an application's user state",
		Long: `Remove the cache, config and data directories named after the
application's display name, plus any extra paths its manifest lists. Installed
files are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := a.target(ctx, args[0], displayName)
			if err != nil {
				return err
			}
			eng, err := a.engine()
			if err != nil {
				return err
			}

			return a.withLock(ctx, t.name, "zap", func() error {
				rep, err := eng.Zap(ctx, t.displayName, t.zap)
				if rep != nil {
					printRemoval(cmd.OutOrStdout(), "Zapped", t.displayName, rep)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name naming the user state directories (defaults to the package name)")
	return cmd
}

func newPathsCmd(a *app) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "paths <name|manifest>",
		Short: "Print where a package's files live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.target(cmd.Context(), args[0], displayName)
			if err != nil {
				return err
			}
			eng, err := a.engine()
			if err != nil {
				return err
			}
			printPaths(cmd.OutOrStdout(), eng, t)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name naming the user state directories (defaults to the package name)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tapline %s\n", Version)
		},
	}
}

// removalTarget names what uninstall, zap and paths act on.
type removalTarget struct {
	name        string
	displayName string
	zap         []string
}

// target interprets arg as a manifest file if one exists at that path and as
// a package name otherwise. An explicit display name wins over the manifest's.
func (a *app) target(ctx context.Context, arg, displayName string) (removalTarget, error) {
	var t removalTarget

	if fi, err := os.Stat(arg); err == nil && !fi.IsDir() {
		m, _, err := a.loadManifest(ctx, arg, hostFlags{})
		if err != nil {
			return t, err
		}
		t = removalTarget{name: m.Name, displayName: m.DisplayName, zap: m.Zap}
	} else {
		if err := manifest.ValidateName(arg); err != nil {
			return t, err
		}
		t = removalTarget{name: arg, displayName: arg}
	}

	if displayName != "" {
		t.displayName = displayName
	}
	if err := manifest.ValidateDisplayName(t.displayName); err != nil {
		return t, err
	}
	return t, nil
}
