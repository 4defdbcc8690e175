package main

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-bouyomi/internal/bouyomi"
	"github.com/spf13/cobra"
)

func newTalkCmd(a *app) *cobra.Command {
	var (
		voice, volume, speed, tone int16
		code                       uint8
	)
	cmd := &cobra.Command{
		Use:   "talk TEXT...",
		Short: "Queue a message to be read aloud",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.client.TalkConfig()
			flags := cmd.Flags()
			if flags.Changed("voice") {
				cfg = cfg.WithVoice(voice)
			}
			if flags.Changed("volume") {
				cfg = cfg.WithVolume(volume)
			}
			if flags.Changed("speed") {
				cfg = cfg.WithSpeed(speed)
			}
			if flags.Changed("tone") {
				cfg = cfg.WithTone(tone)
			}
			if flags.Changed("code") {
				cfg = cfg.WithCode(code)
			}
			return a.client.TalkWithConfig(cmd.Context(), strings.Join(args, " "), cfg)
		},
	}
	cmd.Flags().Int16Var(&voice, "voice", 0, "voice id (-1 keeps the current voice)")
	cmd.Flags().Int16Var(&volume, "volume", 0, "volume (-1 keeps the current volume)")
	cmd.Flags().Int16Var(&speed, "speed", 0, "reading speed (-1 keeps the current speed)")
	cmd.Flags().Int16Var(&tone, "tone", 0, "pitch (-1 keeps the current tone)")
	cmd.Flags().Uint8Var(&code, "code", 0, "text encoding code, 0 for UTF-8")
	return cmd
}

func newControlCmd(a *app, command bouyomi.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command.String(),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.client.Send(cmd.Context(), command)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pause, playback and queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.client.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "paused:    %t\n", snap.Paused)
			fmt.Fprintf(out, "playing:   %t\n", snap.Playing)
			fmt.Fprintf(out, "remaining: %d\n", snap.RemainingTasks)
			return nil
		},
	}
}

func newWaitCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the current message finishes or the limit passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.client.Wait(cmd.Context(), limit)
			return cmd.Context().Err()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 60, "upper bound in seconds")
	return cmd
}
