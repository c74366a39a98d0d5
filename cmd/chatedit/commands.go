package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chatedit/server/internal/chat"
	"chatedit/server/internal/model"
)

// withApp opens the configured store for a one-shot command and runs fn as
// the operator account.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, user model.User) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, c.logger(true))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(cfg.Toolchain.Timeout.Duration))
	}()
	user, err := a.operator(ctx)
	if err != nil {
		return fmt.Errorf("load operator: %w", err)
	}
	return fn(ctx, a, user)
}

func newMediaCommand(ctx *commandContext) *cobra.Command {
	mediaCmd := &cobra.Command{
		Use:   "media",
		Short: "Register and list media",
	}

	var name string
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a video file and create its root version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(c context.Context, a *app, user model.User) error {
				media, root, err := a.chat.RegisterMedia(c, user.ID, chat.RegisterInput{Name: name, Path: args[0]})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "media %s\n", media.ID)
				fmt.Fprintf(out, "root version %s\n", root.ID)
				fmt.Fprintf(out, "%s: %.1fs %dx%d\n", media.Name, media.DurationSec, media.Width, media.Height)
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "Display name (defaults to the file name)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered media",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(c context.Context, a *app, user model.User) error {
				items, err := a.chat.ListMedia(c, user.ID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(items))
				for _, m := range items {
					rows = append(rows, []string{m.ID, m.Name, fmt.Sprintf("%.1f", m.DurationSec), fmt.Sprintf("%dx%d", m.Width, m.Height)})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(out, []string{"ID", "Name", "Seconds", "Size"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
				return nil
			})
		},
	}

	mediaCmd.AddCommand(add, list)
	return mediaCmd
}

func newCommandCommand(ctx *commandContext) *cobra.Command {
	var (
		mediaID   string
		versionID string
		sessionID string
		noWait    bool
	)
	cmd := &cobra.Command{
		Use:   "command <message>",
		Short: "Send a chat command against a media",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(c context.Context, a *app, user model.User) error {
				reply, err := a.chat.ProcessCommand(c, chat.CommandInput{
					SessionID: sessionID,
					UserID:    user.ID,
					Message:   strings.Join(args, " "),
					Media:     model.MediaRef{MediaID: mediaID, VersionID: versionID},
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printReply(out, reply)
				if reply.Operation == nil || noWait {
					return nil
				}
				if err := a.dispatcher.Wait(c); err != nil {
					return err
				}
				op, err := a.chat.GetOperationStatus(c, user.ID, reply.Operation.ID)
				if err != nil {
					return err
				}
				printOperation(out, op)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&mediaID, "media", "m", "", "Media id the command applies to")
	cmd.Flags().StringVar(&versionID, "version", "", "Source version (defaults to the media head)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "cli", "Conversation session id")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return as soon as the operation has started")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <operation-id>",
		Short: "Show the state of an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(c context.Context, a *app, user model.User) error {
				op, err := a.chat.GetOperationStatus(c, user.ID, args[0])
				if err != nil {
					return err
				}
				printOperation(cmd.OutOrStdout(), op)
				return nil
			})
		},
	}
}

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	var headsOnly bool
	cmd := &cobra.Command{
		Use:   "versions <media-id>",
		Short: "List the version tree of a media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(c context.Context, a *app, user model.User) error {
				var (
					items []model.Version
					err   error
				)
				if headsOnly {
					items, err = a.chat.Heads(c, user.ID, args[0])
				} else {
					items, err = a.chat.ListVersions(c, user.ID, args[0])
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(out, []string{"Seq", "ID", "Parent", "Action", "Artifact"}, versionRows(items), []columnAlignment{alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&headsOnly, "heads", false, "Only show versions with no children")
	return cmd
}

func versionRows(items []model.Version) [][]string {
	rows := make([][]string, 0, len(items))
	for _, v := range items {
		parent := "-"
		if v.ParentID != nil {
			parent = *v.ParentID
		}
		action := string(v.Action)
		if v.IsRoot() {
			action = "(original)"
		}
		rows = append(rows, []string{strconv.FormatInt(v.Seq, 10), v.ID, parent, action, v.ArtifactPath})
	}
	return rows
}

func printReply(out io.Writer, reply chat.CommandReply) {
	fmt.Fprintln(out, reply.Reply)
	if reply.Fallback {
		fmt.Fprintln(out, "(reduced mode)")
	}
	if len(reply.Actions) > 0 {
		rows := make([][]string, 0, len(reply.Actions))
		for _, act := range reply.Actions {
			rows = append(rows, []string{act.Label, act.Command})
		}
		fmt.Fprintln(out, renderTable(out, []string{"Action", "Command"}, rows, nil))
	}
	for _, tip := range reply.Tips {
		fmt.Fprintf(out, "tip: %s\n", tip)
	}
}

func printOperation(out io.Writer, op model.Operation) {
	rows := [][]string{
		{"id", op.ID},
		{"action", string(op.Action)},
		{"status", string(op.Status)},
		{"source", op.SourceVersionID},
		{"created", op.CreatedAt.Format(time.RFC3339)},
	}
	if op.Result != nil {
		rows = append(rows, []string{"version", op.Result.VersionID}, []string{"artifact", op.Result.ArtifactPath})
	}
	if op.Error != "" {
		rows = append(rows, []string{"error", op.Error})
	}
	fmt.Fprintln(out, renderTable(out, []string{"Field", "Value"}, rows, nil))
}
