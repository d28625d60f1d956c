// Command notebookctl is a smoke-test CLI for the notebook SDK: create
// a notebook, wait for it to come up, and print its health.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bhandras/notebook"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("notebookctl: %v", err)
	}
}

func run() error {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Println("notebookctl v0.1.0")
			return nil
		}
	}

	client, err := notebook.NewFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch {
	case len(args) > 0 && args[0] == "create":
		return createCommand(client, args[1:])
	case len(args) > 0 && args[0] == "health":
		return healthCommand(client, args[1:])
	default:
		printUsage()
		return nil
	}
}

func createCommand(client *notebook.Client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	template := fs.String("template", "", "notebook template to provision")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nb, err := client.CreateNotebook(ctx, notebook.CreateOptions{Template: *template})
	if err != nil {
		return fmt.Errorf("create notebook: %w", err)
	}
	fmt.Printf("created notebook %s (status=%s, preview=%s)\n", nb.ID, nb.Status, nb.PreviewURL)
	return nil
}

func healthCommand(client *notebook.Client, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	id := fs.String("id", "", "notebook id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("health requires -id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nb, err := client.GetNotebook(ctx, *id)
	if err != nil {
		return fmt.Errorf("get notebook: %w", err)
	}

	sess, err := client.Connect(nb)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Dispose()

	if _, err := sess.Ready(ctx); err != nil {
		return fmt.Errorf("ready: %w", err)
	}
	fmt.Printf("notebook %s health: %s\n", nb.ID, sess.Health())
	return nil
}

func printUsage() {
	fmt.Println(`notebookctl - notebook SDK smoke-test CLI

Usage:
  notebookctl create [-template name]
  notebookctl health -id <notebook-id>
  notebookctl version
  notebookctl help`)
}
