// Command chat is a terminal client for the health assistant API. It keeps
// the conversation history locally and sends the whole conversation with
// every question.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// client posts conversations to /api/query.
type client struct {
	base string
	user domain.UserID
	http *http.Client
	conv []domain.Message
}

type queryResponse struct {
	Message  string `json:"message"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

// ask appends question to the conversation, sends it, and records the reply.
// On failure the question is dropped so the next attempt starts clean.
func (c *client) ask(ctx context.Context, question string) (string, error) {
	c.conv = append(c.conv, domain.Message{Role: domain.RoleUser, Content: question})

	reply, err := c.post(ctx)
	if err != nil {
		c.conv = c.conv[:len(c.conv)-1]
		return "", err
	}
	c.conv = append(c.conv, domain.Message{Role: domain.RoleAssistant, Content: reply})
	return reply, nil
}

func (c *client) post(ctx context.Context) (string, error) {
	body, err := json.Marshal(domain.ChatRequest{UserID: c.user, Conversation: c.conv})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/query", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out queryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
	}
	return out.Response, nil
}

// repl reads questions from in until EOF or "/quit". "/reset" clears the
// history.
func repl(ctx context.Context, c *client, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/reset":
			c.conv = nil
			fmt.Fprintln(out, "(conversation cleared)")
		default:
			reply, err := c.ask(ctx, line)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			} else {
				fmt.Fprintln(out, reply)
			}
		}
		fmt.Fprint(out, "> ")
	}
	return sc.Err()
}

func main() {
	api := flag.String("api", envOr("HEALTH_API", "http://localhost:8080"), "API base URL")
	user := flag.String("user", envOr("HEALTH_USER", ""), "user id")
	timeout := flag.Duration("timeout", 2*time.Minute, "per-question timeout")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "chat: -user is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &client{
		base: strings.TrimRight(*api, "/"),
		user: domain.UserID(*user),
		http: &http.Client{Timeout: *timeout},
	}
	if err := repl(ctx, c, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}
