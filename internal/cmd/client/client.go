// Package client parses chat client flags and runs the interactive loop.
package client

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/davidmoi2135/chat/internal/chat/moderation"
	"github.com/davidmoi2135/chat/internal/chat/session"
	"github.com/davidmoi2135/chat/internal/chat/timeline"
	entrypoint "github.com/davidmoi2135/chat/internal/platform/cmd"
	"github.com/davidmoi2135/chat/internal/transport/ws"
)

// Config holds chat client configuration.
type Config struct {
	BrokerURL string `env:"CHAT_BROKER_URL" envDefault:"ws://localhost:8085/ws"`
	Username  string `env:"CHAT_USERNAME"`
	RoomID    string `env:"CHAT_ROOM_ID"    envDefault:"1"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.BrokerURL, "broker-url", cfg.BrokerURL, "broker websocket URL")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "display name to join as")
	fs.StringVar(&cfg.RoomID, "room", cfg.RoomID, "room to join")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run connects to the broker and drives the interactive loop until the
// context ends or the user quits.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	if strings.TrimSpace(cfg.Username) == "" {
		return fmt.Errorf("username is required")
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceClient, func(ctx context.Context) error {
		transport := ws.NewClient(cfg.BrokerURL)
		return runLoop(ctx, cfg, transport, in, out)
	})
}

func runLoop(ctx context.Context, cfg Config, transport session.Transport, in io.Reader, out io.Writer) error {
	// Capacity one: repaints coalesce while the loop is busy.
	updates := make(chan struct{}, 1)

	sess, err := session.New(transport, session.Config{
		Username: cfg.Username,
		RoomID:   cfg.RoomID,
		Filter:   moderation.DefaultFilter(),
		OnUpdate: func() {
			select {
			case updates <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", cfg.RoomID, err)
	}
	defer func() {
		_ = sess.Close()
	}()

	fmt.Fprintf(out, "joined room %s as %s\n", cfg.RoomID, cfg.Username)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			printed = printNew(out, sess.Records(), printed)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit := handleLine(out, sess, line)
			printed = printNew(out, sess.Records(), printed)
			if quit {
				return nil
			}
		}
	}
}

// printNew prints records appended since the last paint. Mutations of
// earlier records are visible through /history.
func printNew(out io.Writer, records []timeline.Record, printed int) int {
	if printed > len(records) {
		printed = len(records)
	}
	for i := printed; i < len(records); i++ {
		fmt.Fprintln(out, formatRecord(i+1, records[i]))
	}
	return len(records)
}

func formatRecord(n int, rec timeline.Record) string {
	switch rec.Kind {
	case timeline.KindJoin, timeline.KindLeave, timeline.KindSystem:
		return fmt.Sprintf("* %s", rec.Content)
	}
	if rec.Recalled {
		return fmt.Sprintf("[%d] %s recalled this message", n, rec.Sender)
	}
	if rec.Moderation.Flagged && !rec.Moderation.Revealed {
		return fmt.Sprintf("[%d] %s: (hidden, /reveal %d to show)", n, rec.Sender, n)
	}
	suffix := ""
	if rec.Edited {
		suffix = " (edited)"
	}
	return fmt.Sprintf("[%d] %s: %s%s", n, rec.Sender, rec.Content, suffix)
}

func handleLine(out io.Writer, sess *session.Session, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if sess.PrecheckSend(line) {
			fmt.Fprintln(out, "note: this message may be flagged as disrespectful")
		}
		sess.Send(line)
		return false
	}

	command, rest, _ := strings.Cut(line[1:], " ")
	switch command {
	case "quit":
		return true
	case "members":
		fmt.Fprintf(out, "members: %s\n", strings.Join(sess.Members(), ", "))
	case "history":
		for i, rec := range sess.Records() {
			fmt.Fprintln(out, formatRecord(i+1, rec))
		}
	case "reveal":
		if cid, ok := resolveTarget(out, sess, rest); ok {
			sess.ToggleReveal(cid)
		}
	case "recall":
		if cid, ok := resolveTarget(out, sess, rest); ok {
			sess.Recall(cid)
		}
	case "delete":
		if cid, ok := resolveTarget(out, sess, rest); ok {
			sess.Delete(cid)
		}
	case "edit":
		index, text, _ := strings.Cut(rest, " ")
		if strings.TrimSpace(text) == "" {
			fmt.Fprintln(out, "usage: /edit <n> <new text>")
			return false
		}
		if cid, ok := resolveTarget(out, sess, index); ok {
			sess.Edit(cid, text)
		}
	default:
		fmt.Fprintf(out, "unknown command /%s\n", command)
	}
	return false
}

// resolveTarget maps a 1-based display index to the record's correlation id.
func resolveTarget(out io.Writer, sess *session.Session, arg string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		fmt.Fprintln(out, "expected a message number")
		return "", false
	}
	records := sess.Records()
	if n < 1 || n > len(records) {
		fmt.Fprintf(out, "no message %d\n", n)
		return "", false
	}
	cid := records[n-1].CorrelationID
	if cid == "" {
		fmt.Fprintf(out, "message %d cannot be modified\n", n)
		return "", false
	}
	return cid, true
}
