// Command quicktab-context simulates a single page context: it connects to
// a running quicktab-daemon over HTTP to issue commands and over a
// websocket to observe the replication channel, the same split a browser
// extension's content script would see between native messaging and
// BroadcastChannel. CLI idiom (flag parsing, banner, graceful shutdown on
// SIGINT/SIGTERM) follows the teacher repo's cmd/worker.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		daemonAddr = flag.String("daemon", "127.0.0.1:9090", "quicktab-daemon host:port")
		container  = flag.String("container", "default", "Container id this context belongs to")
		identity   = flag.String("identity", "quicktab-extension", "Sender identity presented to the router")
		tabID      = flag.Int("tab-id", 1, "This context's tabId")
	)
	flag.Parse()

	fmt.Println("╔════════════════════════════════════════════╗")
	fmt.Println("║          quicktab page context              ║")
	fmt.Println("╚════════════════════════════════════════════╝")
	fmt.Printf("daemon: %s  container: %s  tabId: %d\n", *daemonAddr, *container, *tabID)

	wsURL := url.URL{Scheme: "ws", Host: *daemonAddr, Path: "/ws", RawQuery: "container=" + url.QueryEscape(*container)}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to replication channel: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fmt.Printf("[sync] %s\n", string(data))
		}
	}()

	client := &dispatchClient{addr: *daemonAddr, identity: *identity, tabID: *tabID, container: *container}

	fmt.Println()
	fmt.Println("commands: create <url> | close <id> | close-all | close-minimized | position <id> <left> <top> | list | quit")
	fmt.Print("> ")

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			handleLine(client, scanner.Text())
			fmt.Print("> ")
		}
	}()

	select {
	case <-sigCh:
		fmt.Println("\nshutting down")
	case <-done:
	}
}

func handleLine(c *dispatchClient, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	var resp map[string]interface{}
	var err error
	switch fields[0] {
	case "create":
		if len(fields) < 2 {
			fmt.Println("usage: create <url>")
			return
		}
		resp, err = c.dispatch("CREATE_QUICK_TAB", map[string]interface{}{
			"URL": fields[1], "Title": fields[1], "Container": c.containerOrDefault(),
			"Position": map[string]int{"left": 40, "top": 40},
			"Size":     map[string]int{"width": 360, "height": 240},
		})
	case "close":
		if len(fields) < 2 {
			fmt.Println("usage: close <id>")
			return
		}
		resp, err = c.dispatch("CLOSE_QUICK_TAB", map[string]interface{}{"ID": fields[1]})
	case "close-all":
		resp, err = c.dispatch("CLOSE_ALL", map[string]interface{}{"Container": c.containerOrDefault()})
	case "close-minimized":
		resp, err = c.dispatch("CLOSE_MINIMIZED", map[string]interface{}{"Container": c.containerOrDefault()})
	case "position":
		if len(fields) < 4 {
			fmt.Println("usage: position <id> <left> <top>")
			return
		}
		resp, err = c.dispatch("UPDATE_POSITION", map[string]interface{}{"ID": fields[1], "Left": atoiSafe(fields[2]), "Top": atoiSafe(fields[3])})
	case "list":
		resp, err = c.dispatch("GET_QUICK_TABS", map[string]interface{}{"Container": c.containerOrDefault()})
	case "quit", "exit":
		os.Exit(0)
	default:
		fmt.Printf("unknown command: %s\n", fields[0])
		return
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
}

func atoiSafe(s string) int {
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}

type dispatchClient struct {
	addr      string
	identity  string
	tabID     int
	container string
}

func (c *dispatchClient) containerOrDefault() string {
	if c.container == "" {
		return "default"
	}
	return c.container
}

func (c *dispatchClient) dispatch(op string, args interface{}) (map[string]interface{}, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	envelope := struct {
		Op             string          `json:"op"`
		SenderIdentity string          `json:"senderIdentity"`
		TabID          int             `json:"tabId"`
		Args           json.RawMessage `json:"args"`
	}{Op: op, SenderIdentity: c.identity, TabID: c.tabID, Args: argsJSON}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post("http://"+c.addr+"/dispatch", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
