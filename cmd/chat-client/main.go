package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/meedsr07/storechat/pkg/client"
	"github.com/meedsr07/storechat/pkg/client/ui"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultServerURL = "http://localhost:8080"

func main() {
	serverFlag := flag.String("server", "", "Server URL (default: last used, or "+defaultServerURL+")")
	statePath := flag.String("state", "", "Path to the client state database (default: ~/.config/storechat/client.db)")
	username := flag.String("user", "", "Username to log in as")
	register := flag.Bool("register", false, "Create the account instead of logging in")
	displayName := flag.String("display-name", "", "Display name for -register")
	logout := flag.Bool("logout", false, "Forget the stored login and exit")
	historyLimit := flag.Int("history", 100, "Messages to load when opening a chat")
	maxLength := flag.Int("max-length", 2000, "Maximum message length in characters")
	debug := flag.Bool("debug", false, "Write a debug log next to the state database")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("storechat %s\n", Version)
		return
	}

	path := *statePath
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			log.Fatalf("Failed to find config directory: %v", err)
		}
		path = filepath.Join(configDir, "storechat", "client.db")
	}
	state, err := client.OpenState(path)
	if err != nil {
		log.Fatalf("Failed to open state: %v", err)
	}
	defer state.Close()

	if *logout {
		if err := state.ClearLogin(); err != nil {
			log.Fatalf("Failed to log out: %v", err)
		}
		fmt.Println("Logged out")
		return
	}

	logger := log.New(io.Discard, "", log.LstdFlags)
	if *debug {
		f, err := os.OpenFile(filepath.Join(state.GetStateDir(), "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			log.Fatalf("Failed to open debug log: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	}

	serverURL := *serverFlag
	if serverURL == "" {
		serverURL, _ = state.GetConfig("server_url")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	if err := state.SetConfig("server_url", serverURL); err != nil {
		logger.Printf("Failed to remember server URL: %v", err)
	}

	api := client.NewAPI(serverURL)
	me, tag, err := authenticate(api, state, serverURL, *username, *displayName, *register)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	guard := client.NewSessionGuard(state, tag)

	conn, err := client.NewConnection(serverURL, api.Token())
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	conn.SetLogger(logger)
	conn.SetBeforeReconnect(guard.Check)
	if err := conn.Connect(); err != nil {
		if errors.Is(err, client.ErrAuthRejected) {
			state.ClearLogin()
			log.Fatal("The server rejected the stored login; run again to log in")
		}
		log.Fatalf("Failed to connect to %s: %v", serverURL, err)
	}
	defer conn.Close()

	model := ui.NewModel(conn, api, state, guard, ui.Options{
		Self:             *me,
		HistoryLimit:     *historyLimit,
		MaxMessageLength: *maxLength,
		Logger:           logger,
	})

	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		log.Fatalf("UI error: %v", err)
	}
	if m, ok := final.(ui.Model); ok && m.SessionEnded() {
		fmt.Println(m.ErrorMessage())
		os.Exit(1)
	}
}

// authenticate reuses a stored login for serverURL when it is still valid,
// otherwise logs in (or registers) and stores the new session. It returns
// the principal and the session tag to guard.
func authenticate(api *client.API, state client.StateInterface, serverURL, username, displayName string, register bool) (*client.Me, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	creds, err := state.Credentials()
	if err != nil {
		return nil, "", err
	}
	if creds != nil && !register && creds.ServerURL == serverURL &&
		(username == "" || username == creds.Username) &&
		(creds.ExpiresAt.IsZero() || time.Now().Before(creds.ExpiresAt)) {
		api.SetToken(creds.Token)
		me, err := api.Me(ctx)
		if err == nil {
			return me, creds.SessionTag, nil
		}
		if !errors.Is(err, client.ErrAuthRejected) {
			return nil, "", err
		}
		// Stored token no longer accepted; fall through to a fresh login
	}

	if username == "" {
		username = state.GetLastUsername()
	}
	if username == "" {
		if username, err = prompt("Username: "); err != nil {
			return nil, "", err
		}
	}
	password := os.Getenv("STORECHAT_PASSWORD")
	if password == "" {
		if password, err = promptPassword(fmt.Sprintf("Password for %s: ", username)); err != nil {
			return nil, "", err
		}
	}

	var session *client.Session
	if register {
		session, err = api.Register(ctx, username, displayName, password)
	} else {
		session, err = api.Login(ctx, username, password)
	}
	if err != nil {
		return nil, "", err
	}

	tag, err := state.SaveLogin(client.Credentials{
		ServerURL: serverURL,
		Token:     session.Token,
		UserID:    session.User.ID,
		Username:  session.User.Username,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to store login: %w", err)
	}

	me, err := api.Me(ctx)
	if err != nil {
		return nil, "", err
	}
	return me, tag, nil
}

func prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(label string) (string, error) {
	fd := os.Stdin.Fd()
	if !term.IsTerminal(fd) {
		return prompt(label)
	}
	fmt.Print(label)
	password, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(password), nil
}
