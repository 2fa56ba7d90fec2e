package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/meedsr07/storechat/pkg/database"
	"github.com/meedsr07/storechat/pkg/server"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "~/.config/storechat/server.toml", "Path to config file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	dbPath := flag.String("db", "", "Database path (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging to debug.log")
	createGroup := flag.String("create-group", "", "Create a group with -members, then exit")
	members := flag.String("members", "", "Comma-separated usernames for -create-group; the first one owns the group")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("storechat-server %s\n", Version)
		return
	}

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		tomlConfig.Server.HTTPPort = *port
	}
	if *dbPath != "" {
		tomlConfig.Server.DatabasePath = *dbPath
	}

	dataDir, err := server.GetServerDataDir()
	if err != nil {
		log.Fatalf("Failed to get data directory: %v", err)
	}
	if err := server.InitLoggers(dataDir, *debug); err != nil {
		log.Fatalf("Failed to initialize loggers: %v", err)
	}

	path, err := tomlConfig.DatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	db, err := database.Open(path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	if *createGroup != "" {
		err := seedGroup(db, *createGroup, *members)
		db.Close()
		if err != nil {
			log.Fatalf("Failed to create group: %v", err)
		}
		return
	}

	srv, err := server.NewServer(db, tomlConfig.ToServerConfig())
	if err != nil {
		db.Close()
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		db.Close()
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("storechat-server %s started (database %s)", Version, path)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Fatalf("Shutdown failed: %v", err)
	}
}

// seedGroup creates a group owned by the first listed user and adds the rest
func seedGroup(db *database.DB, name, members string) error {
	var usernames []string
	for _, u := range strings.Split(members, ",") {
		if u = strings.TrimSpace(u); u != "" {
			usernames = append(usernames, u)
		}
	}
	if len(usernames) == 0 {
		return errors.New("-members must name at least one user")
	}

	ids := make([]int64, 0, len(usernames))
	for _, username := range usernames {
		u, err := db.GetUserByUsername(username)
		if err != nil {
			return fmt.Errorf("%s: %w", username, err)
		}
		ids = append(ids, u.ID)
	}

	groupID, err := db.CreateGroup(name, ids[0])
	if err != nil {
		return err
	}
	for _, id := range ids[1:] {
		if err := db.AddGroupMember(groupID, id); err != nil {
			return err
		}
	}
	log.Printf("Created group %q (id %d) with %d members", name, groupID, len(ids))
	return nil
}
