package main

import (
	"fmt"
	"io"

	"github.com/ZebulonRouseFrantzich/tapline/internal/lifecycle"
	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tapline/internal/platform"
)

func printArtifact(w io.Writer, art *manifest.Artifact, host platform.Info) {
	fmt.Fprintf(w, "%s %s for %s (%d-bit)\n", art.Package, art.Version, host, host.Bits)
	fmt.Fprintf(w, "  url:       %s\n", art.URL)
	fmt.Fprintf(w, "  sha256:    %s\n", art.SHA256)
	fmt.Fprintf(w, "  container: %s\n", art.Container)
	if art.SignatureURL != "" {
		fmt.Fprintf(w, "  signature: %s\n", art.SignatureURL)
	}
}

func printInstall(w io.Writer, rep *lifecycle.Report, host platform.Info) {
	fmt.Fprintf(w, "Installed %s %s for %s\n", rep.Package, rep.Version, host)
	fmt.Fprintf(w, "  executable:    %s\n", rep.ManagedPath)
	fmt.Fprintf(w, "  symlink:       %s\n", rep.Record.Symlink)
	if rep.Record.DesktopEntry != "" {
		fmt.Fprintf(w, "  desktop entry: %s\n", rep.Record.DesktopEntry)
	}
	if rep.Record.Icon != "" {
		fmt.Fprintf(w, "  icon:          %s\n", rep.Record.Icon)
	}
	if rep.Fetch != nil {
		source := "downloaded"
		if rep.Fetch.Cached {
			source = "cached"
		}
		fmt.Fprintf(w, "  artifact:      %s (%s, %d bytes)\n", rep.Fetch.Path, source, rep.Fetch.Size)
	}
	if rep.Verified() {
		fmt.Fprintln(w, "  signature:     verified")
	}
}

func printRemoval(w io.Writer, verb, name string, rep *lifecycle.Report) {
	if len(rep.Removed) == 0 {
		fmt.Fprintf(w, "%s %s: nothing to remove\n", verb, name)
		return
	}
	fmt.Fprintf(w, "%s %s\n", verb, name)
	for _, p := range rep.Removed {
		fmt.Fprintf(w, "  removed %s\n", p)
	}
}

func printWarnings(w io.Writer, warnings []error) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "Warning: %v\n", warn)
	}
}

func printPaths(w io.Writer, eng *lifecycle.Engine, t removalTarget) {
	layout := eng.Layout()
	fmt.Fprintf(w, "symlink:       %s\n", layout.SymlinkPath(t.name))
	fmt.Fprintf(w, "caskroom:      %s\n", layout.CaskroomDir(t.name))
	fmt.Fprintf(w, "desktop entry: %s\n", layout.DesktopEntryPath(t.name))
	fmt.Fprintf(w, "icon:          %s\n", layout.IconPath(t.name))
	fmt.Fprintf(w, "staging:       %s\n", eng.StagingDir(t.name))
	fmt.Fprintln(w, "zap:")
	for _, p := range layout.ZapTargets(t.displayName, t.zap) {
		fmt.Fprintf(w, "  %s\n", p)
	}
}
