package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rexdesk/rex-core/internal/config"
	"github.com/rexdesk/rex-core/internal/desk"
	"github.com/rexdesk/rex-core/internal/session"
	"github.com/rexdesk/rex-core/internal/transcriptstore"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'sessions', 'transcript', 'tickets' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "sessions":
		cmd := flag.NewFlagSet("sessions", flag.ExitOnError)
		configPath := cmd.String("config", "rex.yaml", "Path to configuration file")
		limit := cmd.Int("limit", 20, "Maximum sessions to list")
		cmd.Parse(os.Args[2:])
		err = runSessions(*configPath, *limit)
	case "transcript":
		cmd := flag.NewFlagSet("transcript", flag.ExitOnError)
		configPath := cmd.String("config", "rex.yaml", "Path to configuration file")
		cmd.Parse(os.Args[2:])
		if cmd.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: rexctl transcript [-config rex.yaml] <session-id>")
			os.Exit(2)
		}
		err = runTranscript(*configPath, cmd.Arg(0))
	case "tickets":
		cmd := flag.NewFlagSet("tickets", flag.ExitOnError)
		configPath := cmd.String("config", "rex.yaml", "Path to configuration file")
		status := cmd.String("status", "", "Filter by ticket status")
		cmd.Parse(os.Args[2:])
		err = runTickets(*configPath, *status)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(configPath string) (*transcriptstore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return transcriptstore.Open(context.Background(), cfg.Transcripts, logger)
}

func runSessions(configPath string, limit int) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no stored sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tUPDATED\tENTRIES")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
			s.SessionID,
			s.StartedAt.Local().Format(time.RFC3339),
			s.UpdatedAt.Local().Format(time.RFC3339),
			s.Entries)
	}
	return w.Flush()
}

func runTranscript(configPath, sessionID string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.ListEntries(context.Background(), sessionID, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no entries for session %s", sessionID)
	}

	for _, e := range entries {
		ts := e.Timestamp.Local().Format("15:04:05")
		switch e.Kind {
		case session.EntryFunctionCall:
			fmt.Printf("[%s] tool %s (%s)", ts, e.Function, e.Status)
			if id := ticketID(e.Result); id != "" {
				fmt.Printf(" -> %s", id)
			}
			fmt.Println()
		default:
			fmt.Printf("[%s] %s: %s\n", ts, e.Kind, e.Text)
		}
	}
	return nil
}

// ticketID pulls the ticket id out of a tool result. The gateway emits
// "ticket_id"; "id" is accepted for older payloads.
func ticketID(result map[string]any) string {
	for _, key := range []string{"ticket_id", "id"} {
		if v, ok := result[key]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func runTickets(configPath, status string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	client := desk.NewClient(cfg.Gateway.BaseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tickets, err := client.ListTickets(ctx, status)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		fmt.Println("no tickets")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTITLE")
	for _, t := range tickets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.TicketID, t.Status, t.Priority, t.Title)
	}
	return w.Flush()
}
