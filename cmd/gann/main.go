package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/Soika-Labs/gann-sdk-go/internal/config"
	"github.com/Soika-Labs/gann-sdk-go/pkg/logger"
	"github.com/Soika-Labs/gann-sdk-go/sdk"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}
	if cfg.LogLevel != "" {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return nil
	}

	client, err := sdk.New(cfg.ServerURL, cfg.APIKey, cfg.AgentID)
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch args[0] {
	case "register":
		return registerCommand(ctx, client, cfg, args[1:])
	case "search":
		if len(args) < 2 {
			return fmt.Errorf("usage: gann search <query>")
		}
		return searchCommand(ctx, client, args[1])
	case "token":
		return tokenCommand(ctx, client)
	case "dial":
		if len(args) < 2 {
			return fmt.Errorf("usage: gann dial <agent-id>")
		}
		return dialCommand(ctx, client, cfg, args[1])
	case "listen":
		return listenCommand(ctx, client, cfg)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Println(`Usage: gann <command>

Commands:
  register [name]    register this agent with the directory
  search <query>     search the directory for agents
  token              mint a signaling token
  dial <agent-id>    negotiate a session with a peer agent
  listen             wait for an inbound session offer
  help               show this help`)
}

func registerCommand(ctx context.Context, client *sdk.Client, cfg *config.Config, args []string) error {
	name := client.AgentID()
	if len(args) > 0 {
		name = args[0]
	}
	record, err := client.Register(ctx, sdk.AgentCard{Name: name})
	if err != nil {
		return err
	}
	fmt.Printf("Registered agent %s (%s)\n", record.AgentID, record.Name)

	// QR of the agent address for out-of-band exchange with other operators.
	address := cfg.ServerURL + "/.gann/agents/" + record.AgentID
	qr, err := qrcode.New(address, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render QR code: %w", err)
	}
	fmt.Println(qr.ToSmallString(false))
	fmt.Println(address)
	return nil
}

func searchCommand(ctx context.Context, client *sdk.Client, query string) error {
	agents, err := client.Search(ctx, query)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents found")
		return nil
	}
	for _, agent := range agents {
		fmt.Printf("%s\t%s\t%s\n", agent.AgentID, agent.Name, agent.Status)
	}
	return nil
}

func tokenCommand(ctx context.Context, client *sdk.Client) error {
	token, err := client.IssueSignalingToken(ctx)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(map[string]string{
		"token":      token.Value,
		"expires_at": token.RawExpiresAt,
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

func dialCommand(ctx context.Context, client *sdk.Client, cfg *config.Config, peerAgentID string) error {
	channel, err := client.OpenChannel(ctx)
	if err != nil {
		return err
	}
	defer channel.Close(0, "done")

	handle, err := client.Dial(ctx, channel, peerAgentID, optionsFromConfig(cfg))
	if err != nil {
		return err
	}
	defer handle.Close()

	fmt.Printf("Session %s established with %s (mode=%s)\n", handle.SessionID, handle.PeerAgentID, handle.Mode)
	return nil
}

func listenCommand(ctx context.Context, client *sdk.Client, cfg *config.Config) error {
	channel, err := client.OpenChannel(ctx)
	if err != nil {
		return err
	}
	defer channel.Close(0, "done")

	stop := client.StartHeartbeat(0, nil)
	defer stop()

	fmt.Println("Waiting for inbound session offer...")
	handle, err := client.Accept(ctx, channel, optionsFromConfig(cfg))
	if err != nil {
		return err
	}
	defer handle.Close()

	fmt.Printf("Session %s established with %s (mode=%s)\n", handle.SessionID, handle.PeerAgentID, handle.Mode)
	return nil
}

func optionsFromConfig(cfg *config.Config) sdk.Options {
	return sdk.Options{
		DirectTimeout:  time.Duration(cfg.DirectTimeoutMs) * time.Millisecond,
		DirectBindAddr: cfg.DirectBindAddr,
		RelayBindAddr:  cfg.RelayBindAddr,
		OfferTimeout:   time.Duration(cfg.OfferTimeoutMs) * time.Millisecond,
	}
}
