package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/client"
	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
)

const usage = `commands:
  <text>                  send to the current room
  /room <chat-id>         switch the current room
  /create [user-id ...]   create a private room with the given users
  /leave [chat-id]        leave a room (default: current)
  /rooms                  list joined rooms
  /quit                   disconnect`

func main() {
	url := flag.String("url", "ws://localhost:18080/ws", "Relay WebSocket URL")
	connectKey := flag.String("connect-key", "", "Connect key printed by the server (host:port/ws); overrides -url")
	username := flag.String("user", "", "Username to register")
	publicKey := flag.String("key", "", "Public key to announce (random if empty)")
	profileName := flag.String("profile", "", "Load url, user and key from a saved profile")
	save := flag.Bool("save", false, "Save url, user and key under -profile after registering")
	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	flag.Parse()

	if _, err := logging.Setup(logging.Options{Level: *logLevel, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	profiles, err := openProfiles()
	if err != nil {
		slog.Error("load profiles", "err", err)
		os.Exit(1)
	}
	if *profileName != "" && !*save {
		p, ok := profiles.Get(*profileName)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown profile %q\n", *profileName)
			os.Exit(1)
		}
		*url, *username, *publicKey = p.URL, p.Username, p.PublicKey
	}
	if *connectKey != "" {
		if *url, err = protocol.ParseConnectKey(*connectKey); err != nil {
			fmt.Fprintf(os.Stderr, "-connect-key: %v\n", err)
			os.Exit(2)
		}
	}
	if *username == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}
	if *publicKey == "" {
		if *publicKey, err = crypto.GenerateToken(); err != nil {
			slog.Error("generate key", "err", err)
			os.Exit(1)
		}
	}
	stdin := bufio.NewReader(os.Stdin)
	password := os.Getenv("RELAY_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := stdin.ReadString('\n')
		if err != nil && err != io.EOF {
			os.Exit(1)
		}
		password = strings.TrimSpace(line)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, *url)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	hello := c.Hello()
	fmt.Printf("connected to %s (register within %ds)\n", hello.ServerName, hello.RegistrationTimeoutSeconds)

	res, err := c.Register(*username, password, *publicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("registered as %s (user-id %d), rooms %v\n", *username, res.UserID, res.UsersChats)

	if *save && *profileName != "" {
		profiles.Add(client.Profile{Name: *profileName, URL: *url, Username: *username, PublicKey: *publicKey})
		profiles.Touch(*profileName, time.Now().Unix())
		if err := profiles.Save(); err != nil {
			slog.Warn("save profile", "err", err)
		}
	}

	s := &session{c: c, userID: res.UserID, current: model.LobbyID, rooms: make(model.IDSet)}
	for _, id := range res.UsersChats {
		s.rooms.Add(id)
	}
	c.SetEventHandler(s.handle)
	c.StartReceiving()

	fmt.Println(usage)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-c.Done():
			if ce, ok := c.CloseError(); ok {
				fmt.Printf("disconnected: %d %s\n", ce.Code, ce.Text)
			} else {
				fmt.Println("disconnected")
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := s.command(line); quit {
				return
			}
		}
	}
}

func openProfiles() (*client.ProfileStore, error) {
	path, err := client.DefaultProfilePath()
	if err != nil {
		return nil, err
	}
	ps := client.NewProfileStore(path)
	return ps, ps.Load()
}

// session is the terminal's view of the connection.
type session struct {
	c      *client.ControlClient
	userID uint64

	mu      sync.Mutex
	current uint64
	rooms   model.IDSet
	nextMsg uint64
}

func (s *session) handle(ev client.Event) {
	if perr := ev.Err(); perr != nil {
		fmt.Printf("! %s: %s\n", perr.Code, perr.Message)
		return
	}
	switch ev.Type {
	case pb.TypeChatMsg:
		var msg pb.ChatMessage
		if err := ev.Decode(&msg); err != nil {
			slog.Warn("bad chat frame", "err", err)
			return
		}
		fmt.Printf("[%d] %s: %s\n", msg.ChatID, msg.Username, msg.Message)
	case pb.TypeRoomCreated:
		var rc pb.RoomCreated
		if err := ev.Decode(&rc); err != nil {
			slog.Warn("bad room-created frame", "err", err)
			return
		}
		s.mu.Lock()
		s.rooms.Add(rc.ChatID)
		s.mu.Unlock()
		fmt.Printf("* joined room %d with %v\n", rc.ChatID, rc.ParticipantUserIDs)
	case pb.TypeRoomLeft:
		var rl pb.RoomLeft
		if err := ev.Decode(&rl); err != nil {
			slog.Warn("bad room-left frame", "err", err)
			return
		}
		s.mu.Lock()
		s.rooms.Remove(rl.ChatID)
		if s.current == rl.ChatID {
			s.current = model.LobbyID
		}
		s.mu.Unlock()
		fmt.Printf("* left room %d\n", rl.ChatID)
	default:
		slog.Debug("unhandled event", "type", ev.Type)
	}
}

// command runs one input line and reports whether to quit.
func (s *session) command(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.mu.Lock()
		chatID := s.current
		s.nextMsg++
		id := s.nextMsg
		s.mu.Unlock()
		s.report(s.c.SendChat(s.userID, chatID, line, id))
		return false
	}

	fields := strings.Fields(line)
	ids, err := parseIDs(fields[1:])
	if err != nil {
		fmt.Printf("! %v\n", err)
		return false
	}
	switch fields[0] {
	case "/quit":
		return true
	case "/room":
		if len(ids) != 1 {
			fmt.Println("! usage: /room <chat-id>")
			return false
		}
		s.mu.Lock()
		s.current = ids[0]
		s.mu.Unlock()
	case "/create":
		s.report(s.c.CreateRoom(s.userID, ids, true))
	case "/leave":
		s.mu.Lock()
		chatID := s.current
		s.mu.Unlock()
		if len(ids) > 0 {
			chatID = ids[0]
		}
		s.report(s.c.LeaveRoom(s.userID, chatID))
	case "/rooms":
		s.mu.Lock()
		fmt.Printf("rooms %v, current %d\n", s.rooms.Sorted(), s.current)
		s.mu.Unlock()
	default:
		fmt.Println(usage)
	}
	return false
}

func (s *session) report(err error) {
	if err != nil {
		fmt.Printf("! %v\n", err)
	}
}

func parseIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
