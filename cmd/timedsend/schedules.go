package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"timedsend/internal/domain"
)

func schedulesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"sched"},
		Short:   "Manage stored schedules",
	}
	cmd.AddCommand(
		listSchedulesCmd(opts),
		addMessageCmd(opts),
		addPollCmd(opts),
		removeScheduleCmd(opts),
	)
	return cmd
}

func listSchedulesCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules in stored order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app("cli")
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.Repo.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				if all == nil {
					all = []domain.Schedule{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(all)
			}
			renderSchedules(cmd.OutOrStdout(), all)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// renderSchedules prints a pretty table of schedules.
func renderSchedules(w io.Writer, all []domain.Schedule) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "ID", "Type", "Contact", "Content", "Time", "Next Run", "Recurring", "Status", "Attempts", "Last Run"})
	for i, s := range all {
		content := s.Message
		if s.Kind == domain.KindPoll {
			content = fmt.Sprintf("%s %v", s.Question, s.Options)
		}
		rec := string(s.Recurring)
		if s.Recurring.IsNone() {
			rec = "-"
		}
		lastRun := "-"
		if s.LastRun != nil && !s.LastRun.IsZero() {
			lastRun = s.LastRun.Local().Format(time.DateTime)
		}
		t.AppendRow(table.Row{i, s.ID, s.Kind, s.Contact, content, s.Time, s.RunAt(), rec, s.Status, s.Attempts, lastRun})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "Total", len(all)})
	t.Render()
}

func addMessageCmd(opts *options) *cobra.Command {
	var contact, message, at, recurring string
	cmd := &cobra.Command{
		Use:   "add-message",
		Short: "Schedule a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app("cli")
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Repo.Add(cmd.Context(), domain.NewMessage(contact, message, at, domain.Recurrence(recurring), time.Now()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (message to %s at %s)\n", s.ID, s.Contact, s.Time)
			return nil
		},
	}
	cmd.Flags().StringVar(&contact, "contact", "", "phone number, protocol address or group name")
	cmd.Flags().StringVar(&message, "message", "", "message text")
	cmd.Flags().StringVar(&at, "time", "", "time of day, HH:MM")
	cmd.Flags().StringVar(&recurring, "recurring", "", "none, daily, weekly or monthly")
	_ = cmd.MarkFlagRequired("contact")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func addPollCmd(opts *options) *cobra.Command {
	var contact, question, optionsCSV, at, recurring string
	cmd := &cobra.Command{
		Use:   "add-poll",
		Short: "Schedule a poll",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app("cli")
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Repo.Add(cmd.Context(), domain.NewPoll(contact, question, domain.SplitOptions(optionsCSV), at, domain.Recurrence(recurring), time.Now()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (poll to %s at %s)\n", s.ID, s.Contact, s.Time)
			return nil
		},
	}
	cmd.Flags().StringVar(&contact, "contact", "", "phone number, protocol address or group name")
	cmd.Flags().StringVar(&question, "question", "", "poll question")
	cmd.Flags().StringVar(&optionsCSV, "options", "", "comma separated poll options")
	cmd.Flags().StringVar(&at, "time", "", "time of day, HH:MM")
	cmd.Flags().StringVar(&recurring, "recurring", "", "none, daily, weekly or monthly")
	_ = cmd.MarkFlagRequired("contact")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func removeScheduleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app("cli")
			if err != nil {
				return err
			}
			defer a.Close()

			s, pos, err := a.Repo.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s (position %d)\n", s.ID, pos)
			return nil
		},
	}
}
