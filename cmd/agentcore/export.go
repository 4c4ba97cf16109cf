package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

type ExportCmd struct {
	Addr   string `default:"http://localhost:8080" env:"AGENTCORE_HEALTH_URL" help:"Health server base URL."`
	Format string `default:"prometheus" enum:"prometheus,json" help:"Export format."`
}

func (c *ExportCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.export(ctx, http.DefaultClient, os.Stdout)
}

func (c *ExportCmd) export(ctx context.Context, client *http.Client, out io.Writer) error {
	u := c.Addr + "/export?format=" + url.QueryEscape(c.Format)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.Addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("export failed with status %d: %s", resp.StatusCode, body)
	}
	_, err = io.Copy(out, resp.Body)
	return err
}
