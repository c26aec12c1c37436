package main

import (
	"fmt"
	"os"
	"strings"

	"astronoma/cmd/astronoma/ui"
	"astronoma/internal/types"

	"github.com/spf13/cobra"
)

var (
	language     string
	voice        string
	chatUniverse string
	chatSelected string
)

// narrateCmd asks the narrator about one object
var narrateCmd = &cobra.Command{
	Use:   "narrate [object-id]",
	Short: "Narrate a celestial object",
	Long: `Requests narration for an object over the websocket channel.

Languages: en, es, fr, hi`,
	Args: cobra.ExactArgs(1),
	RunE: runNarrate,
}

// chatCmd sends one chat message
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask the guide a question",
	Long: `Sends a chat message over the websocket channel. When --universe is set
the universe is loaded first so a navigation in the reply can be applied.

Example:
  astronoma chat --universe solar-system "take me to the red planet"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

// speakCmd synthesizes speech
var speakCmd = &cobra.Command{
	Use:   "speak [text]",
	Short: "Synthesize speech and print the audio URL",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSpeak,
}

// transcribeCmd transcribes an audio file
var transcribeCmd = &cobra.Command{
	Use:   "transcribe [audio-file]",
	Short: "Transcribe an audio file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	for _, c := range []*cobra.Command{narrateCmd, speakCmd, transcribeCmd} {
		c.Flags().StringVarP(&language, "lang", "l", "en", "Language (en, es, fr, hi)")
	}
	speakCmd.Flags().StringVar(&voice, "voice", "", "Voice type")
	chatCmd.Flags().StringVarP(&chatUniverse, "universe", "u", "", "Universe to load for navigation")
	chatCmd.Flags().StringVar(&chatSelected, "selected", "", "Object currently in view")
}

func runNarrate(cmd *cobra.Command, args []string) error {
	lang, err := types.ParseLanguage(language)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(currentConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.service.RequestNarration(ctx, types.NarrationRequest{ObjectID: args[0], Language: lang})
	if err != nil {
		return fmt.Errorf("narration failed: %w", err)
	}
	s := ui.DefaultStyles()
	fmt.Fprintln(cmd.OutOrStdout(), s.Narration.Render(resp.Text))
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(currentConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	if chatUniverse != "" {
		if _, err := a.loadUniverse(ctx, chatUniverse); err != nil {
			return err
		}
	}

	resp, err := a.service.SendChat(ctx, types.ChatMessage{
		Message:     strings.Join(args, " "),
		CurrentView: types.ViewState{SelectedObjectID: chatSelected},
	})
	if err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}

	out := cmd.OutOrStdout()
	s := ui.DefaultStyles()
	fmt.Fprintln(out, s.Narration.Render(resp.Text))
	if obj, ok := a.explorer.HandleChat(resp); ok {
		fmt.Fprintf(out, "%s %s (%s)\n", s.Info.Render("→ navigating to"), obj.Name, obj.ID)
	} else if resp.Action != nil {
		fmt.Fprintf(out, "%s %s\n", s.Muted.Render("→ navigation target not in view:"), resp.Action.TargetID)
	}
	return nil
}

func runSpeak(cmd *cobra.Command, args []string) error {
	lang, err := types.ParseLanguage(language)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(currentConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.service.SynthesizeSpeech(ctx, types.SpeechRequest{
		Text:     strings.Join(args, " "),
		Language: lang,
		Voice:    voice,
	})
	if err != nil {
		return fmt.Errorf("speech synthesis failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.AudioURL)
	return nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	lang, err := types.ParseLanguage(language)
	if err != nil {
		return err
	}
	audio, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(currentConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.service.Transcribe(ctx, types.TranscriptionRequest{Audio: audio, Language: lang})
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	return nil
}
