package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/neurosync-os/backend/internal/model/chat"
	"github.com/neurosync-os/backend/internal/service/dispatch"
)

var historyWindow int

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		sid, err := ensureSession(cmd.Context(), c)
		if err != nil {
			return err
		}
		reply, err := c.ask(cmd.Context(), sid, strings.Join(args, " "), uuid.NewString())
		if err != nil {
			return err
		}
		printReply(cmd.OutOrStdout(), reply)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the recorded turns of a session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}
		turns, err := client().history(cmd.Context(), sessionID, historyWindow)
		if err != nil {
			return err
		}
		printTurns(cmd.OutOrStdout(), turns)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear a session's history and memory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}
		if err := client().clear(cmd.Context(), sessionID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s session %s cleared\n", color.GreenString("✓"), sessionID)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat; type /clear to reset, /quit to exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := client()
		sid, err := ensureSession(cmd.Context(), c)
		if err != nil {
			return err
		}
		return chatLoop(cmd, c, sid)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyWindow, "window", "n", 0, "only show the last n turns")
}

func chatLoop(cmd *cobra.Command, c *apiClient, sid string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, color.HiBlackString("System Ready."))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, color.CyanString("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if err := c.clear(cmd.Context(), sid); err != nil {
				fmt.Fprintln(out, color.RedString("clear failed: %v", err))
			} else {
				fmt.Fprintln(out, color.GreenString("chat cleared"))
			}
			continue
		}

		reply, err := c.ask(cmd.Context(), sid, line, uuid.NewString())
		if err != nil {
			fmt.Fprintln(out, color.RedString("error: %v", err))
			continue
		}
		printReply(out, reply)
	}
}

func printReply(w io.Writer, reply turnReply) {
	agent := reply.HandlerName
	if agent == "" {
		agent = "Router"
	}
	caption := fmt.Sprintf("⚡ %s", agent)
	switch reply.Failure {
	case dispatch.KindNone:
		fmt.Fprintln(w, color.YellowString("%s", caption))
	case dispatch.Unroutable:
		fmt.Fprintln(w, color.HiBlackString("%s", caption))
	default:
		fmt.Fprintln(w, color.RedString("%s (%s)", caption, reply.Failure))
	}
	if reply.ResponseText != "" {
		fmt.Fprintln(w, reply.ResponseText)
	}
	if reply.Error != "" {
		fmt.Fprintln(w, color.RedString("%s", reply.Error))
	}
}

func printTurns(w io.Writer, turns []chat.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No turns recorded.")
		return
	}
	for _, t := range turns {
		switch t.Role {
		case chat.RoleUser:
			fmt.Fprintf(w, "%s %s\n", color.CyanString("[%d] user:", t.Seq), t.Content)
		case chat.RoleRouter:
			conf := 0.0
			if t.Payload != nil {
				conf = t.Payload.Confidence
			}
			fmt.Fprintf(w, "%s %s (%.2f)\n", color.HiBlackString("[%d] router:", t.Seq), t.Content, conf)
		case chat.RoleExpert:
			name := "expert"
			if t.Payload != nil && t.Payload.HandlerName != "" {
				name = t.Payload.HandlerName
			}
			fmt.Fprintf(w, "%s %s\n", color.YellowString("[%d] %s:", t.Seq, name), t.Content)
		}
	}
}
