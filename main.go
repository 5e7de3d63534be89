//kelmah-messaging is a terminal client for the Kelmah messaging service,
//mostly useful for poking at the sync core against a live backend.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/Tonyeligate/kelmah-messaging/lib"
	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
	"github.com/Tonyeligate/kelmah-messaging/lib/conf"
	"github.com/Tonyeligate/kelmah-messaging/lib/history"
	"github.com/Tonyeligate/kelmah-messaging/lib/transport"
)

func main() {
	godotenv.Load()
	app := &cli.App{
		Name:  "kelmah-messaging",
		Usage: "chat from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to TOML config"},
			&cli.StringFlag{Name: "user", Required: true, Usage: "user id to connect as"},
			&cli.StringFlag{Name: "name", Usage: "display name"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"KELMAH_API_TOKEN"}, Usage: "auth token"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type stderrSink struct{}

func (stderrSink) Notify(kind, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", kind, message)
}

func run(c *cli.Context) error {
	config, err := conf.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := conf.Validate(config); err != nil {
		return err
	}
	token := c.String("token")
	if token == "" {
		token = config.API.Token
	}

	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ws := transport.NewWebsocket(config.WS.URL, logger)
	if config.SendAckTimeout() > 0 {
		ws.AckTimeout = config.SendAckTimeout()
	}
	core := lib.New(lib.Config{
		Transport:         ws,
		History:           history.NewClient(config.API.BaseURL, token),
		Notifications:     stderrSink{},
		Log:               logger,
		TypingQuietWindow: config.TypingQuietWindow(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	identity := lib.Identity{
		User:      chat.User{ID: chat.UserID(c.String("user")), Name: c.String("name")},
		AuthToken: token,
	}
	if err := core.Connect(ctx, identity); err != nil {
		return err
	}
	defer core.Disconnect()
	go core.RunTypingSweeper(ctx, config.SweepInterval())

	fmt.Println("Commands: /ls, /open <n>, /new <userId>, /rm <messageId>, /quit. Anything else sends.")
	printConversations(core)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return nil
		case line == "/ls":
			printConversations(core)
		case strings.HasPrefix(line, "/open "):
			openConversation(ctx, core, strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
		case strings.HasPrefix(line, "/new "):
			recipient := chat.UserID(strings.TrimSpace(strings.TrimPrefix(line, "/new ")))
			conv, err := core.CreateDirectConversation(ctx, recipient)
			if err != nil {
				continue
			}
			core.SetActiveConversation(ctx, &conv)
			printMessages(core)
		case strings.HasPrefix(line, "/rm "):
			active := core.ActiveConversation()
			if active != nil {
				core.DeleteMessage(active.ID, chat.MessageID(strings.TrimSpace(strings.TrimPrefix(line, "/rm "))))
				printMessages(core)
			}
		default:
			active := core.ActiveConversation()
			if active != nil {
				core.UpdateTyping(active.ID, false)
			}
			if _, err := core.Send(ctx, line, nil); err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", err)
				continue
			}
			printMessages(core)
		}
	}
	return scanner.Err()
}

func openConversation(ctx context.Context, core *lib.Core, arg string) {
	conversations := core.Conversations()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(conversations) {
		fmt.Println("no such conversation")
		return
	}
	conv := conversations[n-1]
	if err := core.SetActiveConversation(ctx, &conv); err != nil {
		fmt.Fprintln(os.Stderr, "open failed:", err)
		return
	}
	printMessages(core)
}

func printConversations(core *lib.Core) {
	for i, conv := range core.Conversations() {
		last := ""
		if conv.LastMessage != nil {
			last = conv.LastMessage.Content
		}
		badge := ""
		if conv.UnreadCount > 0 {
			badge = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
		}
		fmt.Printf("%2d. %s%s  %s\n", i+1, participantNames(conv), badge, last)
	}
}

func participantNames(conv chat.Conversation) string {
	var names []string
	for _, p := range conv.Participants {
		if p.Name != "" {
			names = append(names, p.Name)
		} else {
			names = append(names, string(p.ID))
		}
	}
	return strings.Join(names, ", ")
}

func printMessages(core *lib.Core) {
	for _, msg := range core.Messages() {
		marker := " "
		switch msg.Status {
		case chat.StatusSending:
			marker = "…"
		case chat.StatusFailed:
			marker = "!"
		case chat.StatusRead:
			marker = "✓"
		}
		fmt.Printf("%s %s [%s] %s\n", marker, msg.CreatedAt.Local().Format(time.Kitchen), msg.Sender.Name, msg.Content)
	}
	active := core.ActiveConversation()
	if active != nil {
		for _, label := range core.TypingUsers(active.ID) {
			fmt.Printf("  %s is typing...\n", label)
		}
	}
}
