package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/marin/crate/internal/api"
	"github.com/marin/crate/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "user-add":
		runAdminUserAdd(args[1:])
	case "session-add":
		runAdminSessionAdd(args[1:])
	case "session-revoke":
		runAdminSessionRevoke(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: crate-syncd admin <command> [flags]

Commands:
  user-add        Create a user and print a refresh token for it
  session-add     Mint a new refresh token for an existing user
  session-revoke  Revoke a refresh token`)
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg, err := api.NewConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
			os.Exit(1)
		}
		dbPath = cfg.DBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runAdminUserAdd(args []string) {
	fs := flag.NewFlagSet("admin user-add", flag.ExitOnError)
	name := fs.String("name", "", "unique user name")
	dbPath := fs.String("db", "", "path to the server database (default: from CRATE_SYNCD_DB_PATH)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.CreateUser(*name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	token, err := store.CreateSession(user.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("user:          %s (%s)\n", user.Name, user.ID)
	fmt.Printf("refresh token: %s\n", token)
	fmt.Println("\nOn the client: crate login --token <refresh token> --server <url>")
}

func runAdminSessionAdd(args []string) {
	fs := flag.NewFlagSet("admin session-add", flag.ExitOnError)
	name := fs.String("name", "", "user name")
	dbPath := fs.String("db", "", "path to the server database (default: from CRATE_SYNCD_DB_PATH)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.GetUserByName(*name)
	if errors.Is(err, serverdb.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "error: no user named %q\n", *name)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	token, err := store.CreateSession(user.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("refresh token: %s\n", token)
}

func runAdminSessionRevoke(args []string) {
	fs := flag.NewFlagSet("admin session-revoke", flag.ExitOnError)
	token := fs.String("token", "", "refresh token to revoke")
	dbPath := fs.String("db", "", "path to the server database (default: from CRATE_SYNCD_DB_PATH)")
	fs.Parse(args)

	if *token == "" {
		fmt.Fprintln(os.Stderr, "error: --token is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.RevokeSession(*token); err != nil {
		if errors.Is(err, serverdb.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "error: token not found or already revoked")
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Println("session revoked")
}
