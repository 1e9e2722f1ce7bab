package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"ChainPilot/sdk/go/chainpilot"
)

func main() {
	endpoint := os.Getenv("CHAINPILOT_SERVICE")
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8080"
	}
	input := "What is Alice's balance?"
	if len(os.Args) > 1 {
		input = strings.Join(os.Args[1:], " ")
	}

	client, err := chainpilot.NewClient(endpoint, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	cmd, err := client.Submit(ctx, chainpilot.Submission{Input: input})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("submitted %s (status=%s)\n", cmd.ID, cmd.Status)

	cmd, err = client.Wait(ctx, cmd.ID, time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cmd.Result != nil {
		fmt.Println(cmd.Result.Summary)
	} else {
		fmt.Println(cmd.LastError)
	}
}
