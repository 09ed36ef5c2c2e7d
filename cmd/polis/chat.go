package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/polisware/polis/pkg/agent/domain"
	"github.com/polisware/polis/pkg/httpclient"
)

// ChatCmd talks to a running Domain Agent from the terminal.
//
// With --customer a fresh session is created before the first turn. Without
// one the assistant answers every question with its sign-in reply, which is
// also how the hosted chat behaves for anonymous visitors.
type ChatCmd struct {
	URL         string `help:"Base URL of the Domain Agent." default:"http://localhost:8001"`
	Session     string `help:"Existing session ID to reuse."`
	Customer    string `help:"Customer ID. A fresh session is created when set."`
	Diagnostics bool   `help:"Show per-turn diagnostics."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx := context.Background()
	client := newChatClient(c.URL)

	if c.Customer != "" {
		sess, err := client.createSession(ctx, c.Session, c.Customer)
		if err != nil {
			return err
		}
		c.Session = sess.SessionID
		fmt.Printf("Signed in as %s (session %s)\n", sess.CustomerID, sess.SessionID)
	}
	if c.Session == "" {
		c.Session = uuid.NewString()
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("Chatting with the Polis assistant. Commands:")
		fmt.Println("  /login <customer-id> - Create a session for a customer")
		fmt.Println("  /logout              - Destroy the current session")
		fmt.Println("  /quit or /exit       - Leave the chat")
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		if interactive {
			fmt.Print("You: ")
		}
		line, readErr := reader.ReadString('\n')
		input := strings.TrimSpace(line)
		if input != "" {
			done, err := c.handleLine(ctx, client, input)
			if done || err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if interactive {
					fmt.Println()
				}
				return nil
			}
			return fmt.Errorf("failed to read input: %w", readErr)
		}
	}
}

// handleLine runs one REPL line. It reports done when the user asked to
// leave; chat and command failures are printed, not returned, so one bad
// turn does not end the session.
func (c *ChatCmd) handleLine(ctx context.Context, client *chatClient, input string) (bool, error) {
	if strings.HasPrefix(input, "/") {
		return c.handleCommand(ctx, client, input)
	}

	resp, err := client.chat(ctx, c.Session, input, c.Diagnostics)
	if err != nil {
		fmt.Printf("error: %v\n\n", err)
		return false, nil
	}
	fmt.Printf("\nPolis: %s\n", resp.Reply)
	if resp.Diagnostics != nil {
		d := resp.Diagnostics
		fmt.Printf("   [intents=%v task=%q tools=%d ok=%d failed=%d]\n",
			d.Intents, d.TaskID, d.ToolCalls, d.OK, d.Failed)
	}
	fmt.Println()
	return false, nil
}

func (c *ChatCmd) handleCommand(ctx context.Context, client *chatClient, input string) (bool, error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Println("Bye.")
		return true, nil
	case "/login":
		if len(fields) != 2 {
			fmt.Println("usage: /login <customer-id>")
			return false, nil
		}
		sess, err := client.createSession(ctx, "", fields[1])
		if err != nil {
			fmt.Printf("login failed: %v\n", err)
			return false, nil
		}
		c.Session = sess.SessionID
		fmt.Printf("Signed in as %s (session %s)\n", sess.CustomerID, sess.SessionID)
		return false, nil
	case "/logout":
		if err := client.destroySession(ctx, c.Session); err != nil {
			fmt.Printf("logout failed: %v\n", err)
			return false, nil
		}
		c.Session = uuid.NewString()
		fmt.Println("Signed out.")
		return false, nil
	default:
		fmt.Printf("Unknown command: %s\n", fields[0])
		return false, nil
	}
}

// chatClient is a thin JSON client for the Domain Agent's HTTP surface.
type chatClient struct {
	baseURL string
	http    *httpclient.Client
}

func newChatClient(baseURL string) *chatClient {
	return &chatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.New(),
	}
}

type chatPayload struct {
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	Diagnostics bool   `json:"diagnostics,omitempty"`
}

type chatReply struct {
	Reply       string              `json:"reply"`
	Diagnostics *domain.Diagnostics `json:"diagnostics,omitempty"`
}

type sessionPayload struct {
	SessionID  string `json:"session_id,omitempty"`
	CustomerID string `json:"customer_id"`
}

type sessionReply struct {
	SessionID  string `json:"session_id"`
	CustomerID string `json:"customer_id"`
}

func (c *chatClient) chat(ctx context.Context, sessionID, message string, diagnostics bool) (*chatReply, error) {
	var out chatReply
	in := chatPayload{SessionID: sessionID, Message: message, Diagnostics: diagnostics}
	if err := c.postJSON(ctx, "/chat", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *chatClient) createSession(ctx context.Context, sessionID, customerID string) (*sessionReply, error) {
	var out sessionReply
	in := sessionPayload{SessionID: sessionID, CustomerID: customerID}
	if err := c.postJSON(ctx, "/sessions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *chatClient) destroySession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return responseError(resp, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *chatClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return responseError(resp, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// responseError prefers the server's error field over the transport error.
func responseError(resp *http.Response, err error) error {
	if resp == nil {
		return err
	}
	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return err
}
