package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"

	"imhub/internal/im"
)

// DefaultHeartbeat stays well under the server's default 90s idle timeout.
const DefaultHeartbeat = 25 * time.Second

type flags struct {
	server string
	token  string
	userID int64
	to     int64
	group  int64

	heartbeat time.Duration
}

func main() {
	f := &flags{}
	app := &cli.Command{
		Name:      "im-client",
		Usage:     "Chat from the terminal over the WebSocket endpoint",
		UsageText: "im-client --token <jwt> --user <id> (--to <user> | --group <id>)",
		Description: `Every line typed on stdin is sent as one message. Messages received
from the server are printed as they arrive.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Usage:       "server base URL",
				Sources:     cli.EnvVars("IM_SERVER"),
				Value:       "ws://localhost:8080",
				Destination: &f.server,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "JWT issued for --user",
				Sources:     cli.EnvVars("IM_TOKEN"),
				Required:    true,
				Destination: &f.token,
			},
			&cli.Int64Flag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "your user id",
				Required:    true,
				Destination: &f.userID,
			},
			&cli.Int64Flag{
				Name:        "to",
				Usage:       "send direct messages to this user",
				Destination: &f.to,
			},
			&cli.Int64Flag{
				Name:        "group",
				Aliases:     []string{"g"},
				Usage:       "send messages to this community",
				Destination: &f.group,
			},
			&cli.DurationFlag{
				Name:        "heartbeat",
				Usage:       "interval between keep-alive frames, keep below a third of the server IDLE_TIMEOUT",
				Value:       DefaultHeartbeat,
				Destination: &f.heartbeat,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, f, os.Stdin, os.Stdout)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (f *flags) target() (im.Command, int64, error) {
	switch {
	case f.to > 0 && f.group > 0:
		return 0, 0, errors.New("use either --to or --group, not both")
	case f.to > 0:
		return im.CmdSingleMsg, f.to, nil
	case f.group > 0:
		return im.CmdRoomMsg, f.group, nil
	default:
		return 0, 0, errors.New("one of --to or --group is required")
	}
}

func chatURL(server, token string, userID int64) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat"
	q := u.Query()
	q.Set("token", token)
	q.Set("id", fmt.Sprint(userID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func run(ctx context.Context, f *flags, in io.Reader, out io.Writer) error {
	cmd, dst, err := f.target()
	if err != nil {
		return err
	}
	endpoint, err := chatURL(f.server, f.token, f.userID)
	if err != nil {
		return err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.server, err)
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var msg im.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				fmt.Fprintf(out, "? %s\n", data)
				continue
			}
			fmt.Fprintf(out, "[%s from %d] %s\n", msg.Command, msg.SenderID, msg.Content)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	heartbeat, err := im.JSONCodec{}.Encode(&im.Message{SenderID: f.userID, Command: im.CmdHeart})
	if err != nil {
		return err
	}
	interval := f.heartbeat
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// the server only counts inbound frames as liveness
			if err := ws.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			payload, err := im.JSONCodec{}.Encode(&im.Message{
				SenderID: f.userID,
				Command:  cmd,
				DestID:   dst,
				Content:  line,
			})
			if err != nil {
				return err
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}
