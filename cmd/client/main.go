package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"fitchat/internal/service/app"
)

func main() {
	host := flag.String("host", "localhost:9090", "chat server host:port")
	keyDir := flag.String("keydir", defaultKeyDir(), "directory for the local keypair file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: client [-host host:port] <username>")
		os.Exit(1)
	}
	username := flag.Arg(0)

	var peerName string
	fmt.Print("Enter recipient's name: ")
	if _, err := fmt.Scan(&peerName); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	api := app.NewChatAPI(*host)
	a := app.NewApp(api)
	defer a.Stop()

	a.Run(context.Background(), username, peerName, *keyDir)
}

func defaultKeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fitchat"
	}
	return filepath.Join(home, ".fitchat")
}
