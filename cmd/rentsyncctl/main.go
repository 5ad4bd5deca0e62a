package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tomasronis/Rhenti-sub003/internal/account"
	"github.com/tomasronis/Rhenti-sub003/internal/config"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon API address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &ctl{addr: resolveAddr(*addrFlag), jsonOut: *jsonFlag}

	switch args[0] {
	case "status":
		c.cmdStatus()
	case "threads":
		c.cmdThreads()
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: rentsyncctl messages <thread_id>")
			os.Exit(1)
		}
		c.cmdMessages(args[1])
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: rentsyncctl send <thread_id> <body...>")
			os.Exit(1)
		}
		c.cmdSend(args[1], strings.Join(args[2:], " "))
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: rentsyncctl read <thread_id>")
			os.Exit(1)
		}
		c.post("/v1/threads/"+args[1]+"/read", nil)
		fmt.Println("ok")
	case "pin", "unpin":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "usage: rentsyncctl %s <thread_id>\n", args[0])
			os.Exit(1)
		}
		c.post("/v1/threads/"+args[1]+"/pin", map[string]any{"pinned": args[0] == "pin"})
		fmt.Println("ok")
	case "retry":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: rentsyncctl retry <local_id>")
			os.Exit(1)
		}
		c.cmdRetry(args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: rentsyncctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                    Show daemon health")
	fmt.Fprintln(os.Stderr, "  threads                   List threads")
	fmt.Fprintln(os.Stderr, "  messages <thread_id>      List a thread's messages")
	fmt.Fprintln(os.Stderr, "  send <thread_id> <body>   Queue a message for sending")
	fmt.Fprintln(os.Stderr, "  read <thread_id>          Mark a thread read")
	fmt.Fprintln(os.Stderr, "  pin <thread_id>           Pin a thread")
	fmt.Fprintln(os.Stderr, "  unpin <thread_id>         Unpin a thread")
	fmt.Fprintln(os.Stderr, "  retry <local_id>          Retry a failed send")
}

func resolveAddr(override string) string {
	if override != "" {
		return override
	}
	if cfg, err := config.Load(account.ConfigPath()); err == nil && cfg.ListenAddr != "" {
		return cfg.ListenAddr
	}
	return config.DefaultListenAddr
}

type ctl struct {
	addr    string
	jsonOut bool
}

func (c *ctl) cmdStatus() {
	body := c.get("/healthz")
	if c.jsonOut {
		os.Stdout.Write(body)
		return
	}
	var resp struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &resp)
	fmt.Printf("Daemon: %s (%s)\n", resp.Status, c.addr)
}

func (c *ctl) cmdThreads() {
	body := c.get("/v1/threads")
	if c.jsonOut {
		os.Stdout.Write(body)
		return
	}
	var resp struct {
		Threads []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			UnreadCount int    `json:"unread_count"`
			Pinned      bool   `json:"pinned"`
			LastBody    string `json:"last_body"`
		} `json:"threads"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fatal(err)
	}
	if len(resp.Threads) == 0 {
		fmt.Println("No threads.")
		return
	}
	for _, t := range resp.Threads {
		marker := " "
		if t.Pinned {
			marker = "*"
		}
		fmt.Printf("%s %-26s %-30s unread:%d  %s\n", marker, t.ID, t.Name, t.UnreadCount, t.LastBody)
	}
}

func (c *ctl) cmdMessages(threadID string) {
	body := c.get("/v1/threads/" + threadID + "/messages")
	if c.jsonOut {
		os.Stdout.Write(body)
		return
	}
	var resp struct {
		Messages []struct {
			Source     string `json:"source"`
			ID         string `json:"id"`
			Body       string `json:"body"`
			SenderRole string `json:"sender_role"`
			State      string `json:"state"`
			CreatedAt  int64  `json:"created_at"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fatal(err)
	}
	for _, m := range resp.Messages {
		ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
		tag := m.SenderRole
		if m.Source == "pending" {
			tag = "me (" + m.State + ")"
		}
		fmt.Printf("%s  %-14s %s\n", ts, tag, m.Body)
	}
}

func (c *ctl) cmdSend(threadID, text string) {
	body := c.post("/v1/threads/"+threadID+"/messages", map[string]any{"body": text})
	if c.jsonOut {
		os.Stdout.Write(body)
		return
	}
	var resp struct {
		LocalID string `json:"local_id"`
		State   string `json:"state"`
	}
	_ = json.Unmarshal(body, &resp)
	fmt.Printf("Queued %s (%s)\n", resp.LocalID, resp.State)
}

func (c *ctl) cmdRetry(localID string) {
	body := c.post("/v1/messages/"+localID+"/retry", nil)
	if c.jsonOut {
		os.Stdout.Write(body)
		return
	}
	var resp struct {
		LocalID string `json:"local_id"`
		State   string `json:"state"`
	}
	_ = json.Unmarshal(body, &resp)
	fmt.Printf("Retrying %s (%s)\n", resp.LocalID, resp.State)
}

func (c *ctl) get(path string) []byte {
	resp, err := http.Get("http://" + c.addr + path)
	if err != nil {
		fatalConnect(err)
	}
	return c.readBody(resp)
}

func (c *ctl) post(path string, payload any) []byte {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatal(err)
		}
		body = bytes.NewReader(b)
	}
	resp, err := http.Post("http://"+c.addr+path, "application/json", body)
	if err != nil {
		fatalConnect(err)
	}
	return c.readBody(resp)
}

func (c *ctl) readBody(resp *http.Response) []byte {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Message == "" {
			e.Message = resp.Status
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", e.Message)
		os.Exit(1)
	}
	return body
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func fatalConnect(err error) {
	fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
	fmt.Fprintln(os.Stderr, "is rentsyncd running?")
	os.Exit(1)
}
