package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"chatbot-backend/internal/models"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s", apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Chat(sessionID, input string) (string, error) {
	var resp models.ChatResponse
	err := c.do(http.MethodPost, "/chat", models.ChatRequest{UserInput: input, SessionID: sessionID}, &resp)
	return resp.Reply, err
}

func (c *apiClient) DeleteSession(sessionID string) (string, error) {
	var resp models.DeleteSessionResponse
	err := c.do(http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, &resp)
	return resp.Message, err
}

func (c *apiClient) Sessions() (map[string]models.SessionSummary, error) {
	var resp models.SessionsResponse
	err := c.do(http.MethodGet, "/sessions", nil, &resp)
	return resp.ActiveSessions, err
}

func (c *apiClient) History(sessionID string) ([]models.ChatMessage, error) {
	var resp models.HistoryResponse
	err := c.do(http.MethodGet, "/session/"+url.PathEscape(sessionID), nil, &resp)
	return resp.Messages, err
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  /clear     delete this session's history")
	fmt.Fprintln(out, "  /sessions  list active sessions")
	fmt.Fprintln(out, "  /history   show this session's messages")
	fmt.Fprintln(out, "  /quit      exit")
}

// run reads lines from in until EOF or /quit. Anything that isn't a command
// is sent as a turn.
func run(in io.Reader, out io.Writer, client *apiClient, sessionID string) {
	reader := bufio.NewReader(in)
	fmt.Fprintf(out, "Session: %s (type /help for commands)\n", sessionID)

	for {
		fmt.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		input := strings.TrimSpace(line)

		switch {
		case input == "":
		case input == "/quit" || input == "/exit":
			fmt.Fprintln(out, "Goodbye!")
			return
		case input == "/help":
			printHelp(out)
		case input == "/clear":
			msg, err := client.DeleteSession(sessionID)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				break
			}
			fmt.Fprintln(out, msg)
		case input == "/sessions":
			sessions, err := client.Sessions()
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				break
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No active sessions")
				break
			}
			ids := make([]string, 0, len(sessions))
			for id := range sessions {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "  %s (%d messages)\n", id, sessions[id].MessageCount)
			}
		case input == "/history":
			messages, err := client.History(sessionID)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				break
			}
			for _, m := range messages {
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
			}
		case strings.HasPrefix(input, "/"):
			fmt.Fprintf(out, "Unknown command %s\n", input)
		default:
			reply, err := client.Chat(sessionID, input)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				break
			}
			fmt.Fprintf(out, "Bot: %s\n", reply)
		}

		if err != nil {
			return
		}
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "chatbot API base URL")
	sessionID := flag.String("session", models.DefaultSessionID, "conversation session id")
	flag.Parse()

	fmt.Println("Welcome to the chatbot CLI")
	run(os.Stdin, os.Stdout, newAPIClient(*baseURL), *sessionID)
}
