package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"astronoma/cmd/astronoma/ui"
	"astronoma/internal/assets"
	"astronoma/internal/gate"
	"astronoma/internal/types"
	"astronoma/internal/universe"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	regenVia        string
	regenSize       string
	regenComplexity string
	regenStyle      string
	regenPlain      bool
)

// regenerateCmd generates a new universe behind a transition
var regenerateCmd = &cobra.Command{
	Use:   "regenerate [universe-type]",
	Short: "Generate a new universe",
	Long: `Generates a new universe and swaps it in once the transition has been
shown for its minimum time and the new universe has arrived. Textures for the
new universe are then loaded in one batch.

Example:
  astronoma regenerate spiral --size large --via channel`,
	Args: cobra.ExactArgs(1),
	RunE: runRegenerate,
}

func init() {
	regenerateCmd.Flags().StringVar(&regenVia, "via", "http", "Transport (http or channel)")
	regenerateCmd.Flags().StringVar(&regenSize, "size", "", "Universe size hint")
	regenerateCmd.Flags().StringVar(&regenComplexity, "complexity", "", "Universe complexity hint")
	regenerateCmd.Flags().StringVar(&regenStyle, "style", "", "Visual style hint")
	regenerateCmd.Flags().BoolVar(&regenPlain, "plain", false, "Print phases as lines instead of the interactive view")
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	via, err := universe.ParseVia(regenVia)
	if err != nil {
		return err
	}
	req := types.GenerationRequest{
		UniverseType: args[0],
		Parameters: types.GenerationParameters{
			Size:       regenSize,
			Complexity: regenComplexity,
			Style:      regenStyle,
		},
	}

	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(currentConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	tr, err := a.explorer.Regenerate(ctx, req, via)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := ui.DefaultStyles()
	var res universe.Result
	if regenPlain {
		res = followPlain(out, s, tr)
	} else {
		m, err := tea.NewProgram(newTransitionModel(s, req.UniverseType, tr), tea.WithContext(ctx), tea.WithOutput(out)).Run()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		final, ok := m.(transitionModel)
		if !ok {
			final = newTransitionModel(s, req.UniverseType, tr)
		}
		res = final.outcome()
	}

	if res.Err != nil {
		return fmt.Errorf("regeneration failed: %w", res.Err)
	}
	printUniverse(out, s, res.Document)

	select {
	case sets := <-res.Textures:
		reportTextures(out, s, a.cache, sets)
	case <-ctx.Done():
		fmt.Fprintln(out, s.Warning.Render("textures still loading; giving up"))
	}
	return nil
}

// followPlain prints each phase change and waits for the result.
func followPlain(w io.Writer, s ui.Styles, tr *universe.Transition) universe.Result {
	start := time.Now()
	var last gate.Phase
	for st := range tr.Subscribe() {
		if st.Phase != last {
			fmt.Fprintf(w, "%6.1fs  %s\n", time.Since(start).Seconds(), phaseLabel(s, st))
			last = st.Phase
		}
	}
	return tr.Result()
}

func reportTextures(w io.Writer, s ui.Styles, cache *assets.Cache, sets map[assets.Key]assets.Set) {
	generated := 0
	for k := range sets {
		if e, ok := cache.Get(k); ok && e.Provenance == assets.ProvenanceGenerated {
			generated++
		}
	}
	fmt.Fprintf(w, "%s %d/%d textures generated\n", s.Success.Render("✓"), generated, len(sets))
}

func phaseLabel(s ui.Styles, st gate.State) string {
	switch st.Phase {
	case gate.PhaseStarting:
		return s.Muted.Render("starting")
	case gate.PhaseTransitioning:
		if st.DataReady {
			return s.Body.Render("warping (universe ready)")
		}
		return s.Body.Render("warping")
	case gate.PhaseAwaitingData:
		return s.Warning.Render("waiting for the universe")
	case gate.PhaseReady:
		if st.Err != nil {
			return s.Error.Render("failed: " + st.Err.Error())
		}
		return s.Success.Render("arrived")
	}
	return string(st.Phase)
}
