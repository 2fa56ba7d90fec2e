// Command bot is a storechat helper bot. It answers a few shop-floor
// commands in direct chats and when mentioned in a group.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/meedsr07/storechat/pkg/botlib"
)

// commandEnv is the part of a bot context a command can use
type commandEnv interface {
	Author() string
	Online() []string
	FetchConversation(limit int) ([]botlib.Message, error)
}

type command struct {
	help string
	run  func(env commandEnv, args string) string
}

var commands = map[string]command{
	"ping": {
		help: "check the bot is alive",
		run: func(env commandEnv, _ string) string {
			return "pong, " + env.Author()
		},
	},
	"online": {
		help: "list who is online right now",
		run: func(env commandEnv, _ string) string {
			names := env.Online()
			if len(names) == 0 {
				return "Nobody is online"
			}
			sort.Strings(names)
			return fmt.Sprintf("Online (%d): %s", len(names), strings.Join(names, ", "))
		},
	},
	"last": {
		help: "show the latest message in this chat",
		run: func(env commandEnv, _ string) string {
			// Two messages back: the newest one is the command itself
			history, err := env.FetchConversation(2)
			if err != nil {
				return "Sorry, I couldn't load this chat"
			}
			if len(history) < 2 {
				return "Nothing before your message"
			}
			m := history[0]
			return fmt.Sprintf("%s wrote at %s: %s", m.SenderName, m.CreatedAt.Local().Format("15:04"), m.Content)
		},
	},
}

// respond returns the bot's answer to a command line
func respond(env commandEnv, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "Hi " + env.Author() + "! Say \"help\" to see what I can do."
	}

	name, args, _ := strings.Cut(text, " ")
	name = strings.ToLower(strings.TrimPrefix(name, "!"))

	if name == "help" {
		names := make([]string, 0, len(commands))
		for n := range commands {
			names = append(names, n)
		}
		sort.Strings(names)

		var b strings.Builder
		b.WriteString("Commands:")
		for _, n := range names {
			fmt.Fprintf(&b, "\n  %s - %s", n, commands[n].help)
		}
		return b.String()
	}

	cmd, ok := commands[name]
	if !ok {
		return fmt.Sprintf("I don't know %q. Say \"help\" for the list.", name)
	}
	return cmd.run(env, strings.TrimSpace(args))
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Server URL")
	username := flag.String("user", "stockbot", "Bot account username")
	displayName := flag.String("display-name", "Stock Bot", "Display name when registering")
	register := flag.Bool("register", false, "Create the bot account if it doesn't exist")
	timeout := flag.Duration("timeout", 10*time.Second, "Timeout for server requests")
	flag.Parse()

	password := os.Getenv("STORECHAT_BOT_PASSWORD")
	if password == "" {
		log.Fatal("STORECHAT_BOT_PASSWORD must be set")
	}

	bot := botlib.New(botlib.Config{
		Server:          *server,
		Username:        *username,
		Password:        password,
		Register:        *register,
		DisplayName:     *displayName,
		ResponseTimeout: *timeout,
	})

	reply := func(ctx *botlib.Context, text string) {
		if err := ctx.Reply(respond(ctx, text)); err != nil {
			ctx.Log("Failed to reply to %s: %v", ctx, err)
		}
	}

	bot.OnDirect(func(ctx *botlib.Context, msg *botlib.Message) {
		ctx.Log("Direct message from %s: %s", msg.SenderName, msg.Content)
		reply(ctx, msg.Content)
	})

	bot.OnMention(func(ctx *botlib.Context, msg *botlib.Message) {
		ctx.Log("Mentioned by %s: %s", msg.SenderName, msg.Content)
		reply(ctx, msg.MentionedContent())
	})

	log.Printf("Starting bot...")
	log.Printf("  Server: %s", *server)
	log.Printf("  User: %s", *username)

	if err := bot.Run(); err != nil {
		log.Fatalf("Bot error: %v", err)
	}
}
