package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/owulveryck/agentcore/internal/transport"
)

const clearCommand = "/clear"

type ChatCmd struct {
	Addr          string   `default:"localhost:50051" env:"AGENTCORE_GRPC_ADDR" help:"Dispatch server address."`
	Session       string   `help:"Session id; a new session is started when empty."`
	Mode          string   `help:"single, parallel, sequential or loop; server default when empty."`
	Agent         []string `help:"Agent ids to dispatch to, in order."`
	MaxIterations int      `name:"max-iterations" help:"Loop passes."`
}

func (c *ChatCmd) Run() error {
	client, err := transport.Dial(c.Addr)
	if err != nil {
		return err
	}
	defer client.Close()

	return c.loop(context.Background(), client, os.Stdin, os.Stdout)
}

func (c *ChatCmd) loop(ctx context.Context, client *transport.Client, in io.Reader, out io.Writer) error {
	sessionID := c.Session
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		if line == clearCommand {
			c.clear(ctx, client, sessionID, out)
			fmt.Fprint(out, "> ")
			continue
		}

		resp, err := client.Dispatch(ctx, transport.DispatchRequest{
			SessionID:     sessionID,
			Content:       line,
			Mode:          c.Mode,
			AgentIDs:      c.Agent,
			MaxIterations: c.MaxIterations,
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n> ", err)
			continue
		}
		sessionID = resp.SessionID
		for _, m := range resp.Messages {
			fmt.Fprintf(out, "[%s] %s\n", m.Sender, m.Content)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func (c *ChatCmd) clear(ctx context.Context, client *transport.Client, sessionID string, out io.Writer) {
	if sessionID == "" {
		fmt.Fprintln(out, "nothing to clear")
		return
	}
	if err := client.Clear(ctx, sessionID); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "history cleared")
}
