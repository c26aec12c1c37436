package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"astronoma/cmd/astronoma/ui"
	"astronoma/internal/assets"
	"astronoma/internal/types"

	"github.com/spf13/cobra"
)

var (
	textureOutDir string
	synthStyle    string
	synthOutDir   string
)

// healthCmd checks the universe backend
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the universe backend is up",
	RunE:  runHealth,
}

// showCmd prints a stored universe
var showCmd = &cobra.Command{
	Use:   "show [universe-id]",
	Short: "Show the objects of a stored universe",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

// texturesCmd loads every texture of a universe through the cache
var texturesCmd = &cobra.Command{
	Use:   "textures [universe-id | universe.json]",
	Short: "Load the textures of a universe",
	Long: `Requests generated textures for every object in one batch. Objects
whose generation fails get a locally synthesized placeholder instead.

With --out, placeholders are written right away and replaced as generated
textures arrive.

Example:
  astronoma textures solar-system --out ./textures`,
	Args: cobra.ExactArgs(1),
	RunE: runTextures,
}

// synthesizeCmd draws a placeholder without contacting the backend
var synthesizeCmd = &cobra.Command{
	Use:   "synthesize [key]",
	Short: "Draw a placeholder texture set offline",
	Long: `Draws the deterministic placeholder set for a key and style and writes
each slot as a PNG.

Styles: gas, rocky, ice, star, terrestrial`,
	Args: cobra.ExactArgs(1),
	RunE: runSynthesize,
}

func init() {
	texturesCmd.Flags().StringVarP(&textureOutDir, "out", "o", "", "Write each texture slot as PNG into this directory")
	synthesizeCmd.Flags().StringVarP(&synthStyle, "style", "s", "rocky", "Placeholder style")
	synthesizeCmd.Flags().StringVarP(&synthOutDir, "out", "o", ".", "Output directory")
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(currentConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.universe.Health(ctx)
	if err != nil {
		return fmt.Errorf("backend unavailable: %w", err)
	}
	s := ui.DefaultStyles()
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", s.Success.Render("✓"), st.Service, st.Status)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(currentConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.loadUniverse(ctx, args[0])
	if err != nil {
		return err
	}
	printUniverse(cmd.OutOrStdout(), ui.DefaultStyles(), doc)
	return nil
}

func printUniverse(w io.Writer, s ui.Styles, doc *types.UniverseDocument) {
	fmt.Fprintln(w, s.Title.Render(doc.Name)+" "+s.Muted.Render("("+doc.ID+")"))
	if doc.Description != "" {
		fmt.Fprintln(w, s.Subtitle.Render(doc.Description))
	}
	fmt.Fprintln(w, s.RenderDivider(40))
	for _, o := range doc.Objects {
		fmt.Fprintf(w, "  %-16s %-8s %-12s %s\n", o.ID, o.Type, types.StyleFor(o), o.Name)
	}
}

func runTextures(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(currentConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := loadUniverseArg(ctx, a, args[0])
	if err != nil {
		return err
	}

	now, later := a.explorer.Textures(ctx, doc.Objects)
	if textureOutDir != "" {
		for k, set := range now {
			if err := writeSet(textureOutDir, k, set); err != nil {
				return err
			}
		}
	}
	var sets map[assets.Key]assets.Set
	select {
	case sets = <-later:
	case <-ctx.Done():
		return ctx.Err()
	}

	out := cmd.OutOrStdout()
	s := ui.DefaultStyles()
	keys := sortedKeys(sets)
	generated := 0
	for _, k := range keys {
		prov := assets.ProvenanceSynthesized
		if e, ok := a.cache.Get(k); ok {
			prov = e.Provenance
		}
		badge := s.Warning.Render(string(prov))
		if prov == assets.ProvenanceGenerated {
			generated++
			badge = s.Success.Render(string(prov))
		}
		fmt.Fprintf(out, "  %-16s %-12s %s\n", k, badge, strings.Join(slotNames(sets[k]), ","))
	}
	fmt.Fprintf(out, "%d/%d generated, %d placeholders\n", generated, len(keys), len(keys)-generated)

	if textureOutDir != "" {
		for _, k := range keys {
			if err := writeSet(textureOutDir, k, sets[k]); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "wrote textures to %s\n", textureOutDir)
	}
	return nil
}

// loadUniverseArg reads a universe document from a .json file, or fetches it
// by id.
func loadUniverseArg(ctx context.Context, a *app, arg string) (*types.UniverseDocument, error) {
	if !strings.HasSuffix(arg, ".json") {
		return a.loadUniverse(ctx, arg)
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to read universe: %w", err)
	}
	var doc types.UniverseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse universe %s: %w", arg, err)
	}
	if len(doc.Objects) == 0 {
		return nil, fmt.Errorf("universe %s has no objects", arg)
	}
	a.explorer.SetDocument(&doc)
	return &doc, nil
}

func runSynthesize(cmd *cobra.Command, args []string) error {
	style, err := types.ParseStyle(synthStyle)
	if err != nil {
		return err
	}
	c := currentConfig()
	cache, err := assets.New(nil, assets.WithSize(c.Assets.Width, c.Assets.Height))
	if err != nil {
		return err
	}
	key := assets.Key(args[0])
	set := cache.Synthesize(key, style)
	defer set.Release()

	if err := writeSet(synthOutDir, key, set); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s placeholder for %s: %s\n",
		ui.DefaultStyles().Success.Render("✓"), style, key, strings.Join(slotNames(set), ","))
	return nil
}

// writeSet writes each slot of set as <dir>/<key>_<slot>.png and removes the
// files of slots the set lacks.
func writeSet(dir string, key assets.Key, set assets.Set) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, slot := range assets.Slots {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", safeName(string(key)), slot))
		img := set[slot].Image()
		if img == nil {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to remove stale %s: %w", path, err)
			}
			continue
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func slotNames(set assets.Set) []string {
	var names []string
	for _, slot := range assets.Slots {
		if set[slot] != nil {
			names = append(names, string(slot))
		}
	}
	return names
}

func sortedKeys(sets map[assets.Key]assets.Set) []assets.Key {
	keys := make([]assets.Key, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
