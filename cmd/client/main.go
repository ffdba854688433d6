package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"pairwire/client"
	"pairwire/domain"
	"pairwire/logs"
	"pairwire/notify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	serverURL := flag.String("server", "http://localhost:8080", "Broker base URL")
	email := flag.String("email", "", "Account email")
	password := flag.String("password", "", "Account password")
	register := flag.Bool("register", false, "Create the account first")
	displayName := flag.String("name", "", "Display name (registration only)")
	role := flag.String("role", "", "coordinator or contributor (registration only)")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if *email == "" || *password == "" {
		return fmt.Errorf("both -email and -password are required")
	}

	log := logs.GetLoggerFromString(*logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var token string
	var err error
	if *register {
		token, err = client.Register(ctx, *serverURL, *email, *displayName, *role, *password)
	} else {
		token, err = client.Login(ctx, *serverURL, *email, *password)
	}
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	feed := notify.NewFeedNotifier(64)
	c := client.New(log, client.Config{
		ServerURL: *serverURL,
		Token:     token,
	}, feed)

	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			color.Red.Printf("connection layer stopped: %v\n", err)
			stop()
		}
	}()
	go printToasts(ctx, feed)

	color.Green.Printf("Connected to %s as %s\n", *serverURL, *email)
	fmt.Println("Commands: /chat <user-id>, /history, /pending, /read, /retry <temp-id>, /leave, /quit")
	return repl(ctx, c)
}

// repl reads commands from stdin; any non-command line is sent to the
// currently active channel.
func repl(ctx context.Context, c *client.Client) error {
	var active domain.ChannelID
	var counterpart string

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil

		case strings.HasPrefix(line, "/chat "):
			counterpartID := strings.TrimSpace(strings.TrimPrefix(line, "/chat "))
			channel, err := c.ResolveChannel(ctx, counterpartID)
			if err != nil {
				color.Red.Printf("cannot open channel: %v\n", err)
				continue
			}
			active = channel.ID
			counterpart = channel.Counterpart(c.Self().ID)
			if err := c.Reconcile(ctx, active); err != nil {
				color.Yellow.Printf("history incomplete: %v\n", err)
			}
			color.Green.Printf("Channel %s open with %s\n", active, counterpart)

		case line == "/history":
			if active == "" {
				color.Yellow.Println("open a channel first with /chat")
				continue
			}
			printHistory(c, active)

		case line == "/pending":
			printPending(c)

		case line == "/read":
			if active == "" {
				color.Yellow.Println("open a channel first with /chat")
				continue
			}
			markAllRead(c, active)

		case line == "/leave":
			if active == "" {
				color.Yellow.Println("no channel open")
				continue
			}
			if err := c.Leave(active); err != nil {
				color.Red.Printf("leave failed: %v\n", err)
				continue
			}
			color.Green.Printf("Left channel %s\n", active)
			active = ""
			counterpart = ""

		case strings.HasPrefix(line, "/retry "):
			tempID := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
			if !c.RetryMessage(tempID) {
				color.Yellow.Println("no failed message with that id")
			}

		case strings.HasPrefix(line, "/"):
			color.Yellow.Printf("unknown command %s\n", line)

		default:
			if active == "" {
				color.Yellow.Println("open a channel first with /chat")
				continue
			}
			pm := c.Send(active, line)
			color.Gray.Printf("[sending %s]\n", pm.TempID[:8])
		}
	}
}

func printHistory(c *client.Client, channelID domain.ChannelID) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "From", "Status", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	selfID := c.Self().ID
	for _, msg := range c.Messages(channelID) {
		status := ""
		if msg.SenderID == selfID {
			status = string(c.MessageStatus(msg))
		}
		table.Append([]string{
			msg.CreatedAt.Local().Format("15:04:05"),
			msg.SenderName,
			status,
			msg.Content,
		})
	}
	table.Render()
}

func printPending(c *client.Client) {
	pending := c.Pending()
	if len(pending) == 0 {
		fmt.Println("outbox empty")
		return
	}
	for _, pm := range pending {
		line := fmt.Sprintf("%s  [%s] %s", pm.TempID[:8], pm.Status, pm.Content)
		if pm.Status == client.StatusFailed {
			color.Red.Println(line)
		} else {
			fmt.Println(line)
		}
	}
}

func markAllRead(c *client.Client, channelID domain.ChannelID) {
	selfID := c.Self().ID
	var unread []string
	for _, msg := range c.Messages(channelID) {
		if msg.SenderID != selfID && !msg.IsReadBy(selfID) {
			unread = append(unread, msg.ID.String())
		}
	}
	if len(unread) == 0 {
		fmt.Println("nothing unread")
		return
	}
	if err := c.MarkRead(channelID, unread); err != nil {
		color.Red.Printf("mark read failed: %v\n", err)
		return
	}
	fmt.Printf("marked %d message(s) read\n", len(unread))
}

func printToasts(ctx context.Context, feed *notify.FeedNotifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case toast := <-feed.Feed():
			switch toast.Level {
			case notify.LevelError:
				color.Red.Printf("\n%s: %s\n> ", toast.Title, toast.Body)
			case notify.LevelWarn:
				color.Yellow.Printf("\n%s: %s\n> ", toast.Title, toast.Body)
			default:
				color.Cyan.Printf("\n%s: %s\n> ", toast.Title, toast.Body)
			}
		}
	}
}
