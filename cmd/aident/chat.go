package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zakki0925224/aident/internal/chat"
	"github.com/zakki0925224/aident/internal/config"
	"github.com/zakki0925224/aident/internal/models"
)

const chatHelp = "commands: /new, /list, /switch <n>, /quit"

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen, color.Bold)
	dimColor       = color.New(color.Faint)
)

func newChatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(config.LoggingConfig{Level: "error", Format: "console"})
			if err != nil {
				return err
			}
			defer logger.Sync()

			llmService, err := newLLMService(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			sess := chat.NewSession(uuid.NewString(), llmService,
				chat.WithLogger(logger),
				chat.WithTimeout(cfg.Model.Timeout))
			sess.CreateConversation()

			fmt.Fprintf(cmd.OutOrStdout(), "AIdent (model %s) %s\n", cfg.Model.Name, chatHelp)
			return runChat(cmd.Context(), sess, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runChat reads one line per turn and prints the placeholder before blocking on the reply.
func runChat(ctx context.Context, sess *chat.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			sess.CreateConversation()
			dimColor.Fprintln(out, "started a new chat")
			continue
		case line == "/list":
			printConversations(out, sess)
			continue
		case strings.HasPrefix(line, "/switch"):
			switchConversation(out, sess, strings.TrimSpace(strings.TrimPrefix(line, "/switch")))
			continue
		case strings.HasPrefix(line, "/"):
			dimColor.Fprintln(out, chatHelp)
			continue
		}

		if err := sess.Submit(line); err != nil {
			dimColor.Fprintf(out, "not sent: %v\n", err)
			continue
		}
		printLast(out, sess)

		if err := sess.Resolve(ctx); err != nil && !errors.Is(err, chat.ErrNotPending) {
			return err
		}
		printLast(out, sess)
	}
}

func printLast(out io.Writer, sess *chat.Session) {
	msgs, err := sess.Messages(sess.ActiveID())
	if err != nil || len(msgs) == 0 {
		return
	}
	printMessage(out, msgs[len(msgs)-1])
}

func printMessage(out io.Writer, m models.Message) {
	label := userColor
	if m.Role == models.RoleAssistant {
		label = assistantColor
	}
	label.Fprintf(out, "%s ", m.Role)
	fmt.Fprint(out, m.Content)
	dimColor.Fprintf(out, "  %s\n", m.Time)
}

func printConversations(out io.Writer, sess *chat.Session) {
	active := sess.ActiveID()
	for i, c := range sess.Conversations() {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %d. %s (%d messages)\n", marker, i+1, c.Title, c.MessageCount)
	}
}

func switchConversation(out io.Writer, sess *chat.Session, arg string) {
	convs := sess.Conversations()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(convs) {
		dimColor.Fprintf(out, "no chat %q; use /list\n", arg)
		return
	}
	sess.SelectConversation(convs[n-1].ID)

	msgs, _ := sess.Messages(convs[n-1].ID)
	for _, m := range msgs {
		printMessage(out, m)
	}
}
