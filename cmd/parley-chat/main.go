// Command parley-chat is a terminal client for a parley server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/utils"
)

type options struct {
	server       string
	username     string
	password     string
	register     bool
	conversation string
	title        string
	list         bool
}

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		cfg = &config.AppConfig{}
	}

	var opts options
	flag.StringVar(&opts.server, "server", cfg.ServerURL(), "parley server base URL")
	flag.StringVar(&opts.username, "user", os.Getenv("PARLEY_USER"), "username")
	flag.StringVar(&opts.password, "password", os.Getenv("PARLEY_PASSWORD"), "password")
	flag.BoolVar(&opts.register, "register", false, "create the account before logging in")
	flag.StringVar(&opts.conversation, "conversation", "", "conversation id to open (default: start a new one)")
	flag.StringVar(&opts.title, "title", "", "title for a new conversation")
	flag.BoolVar(&opts.list, "list", false, "print your conversations and exit")
	flag.Parse()

	if opts.username == "" || opts.password == "" {
		fmt.Fprintln(os.Stderr, "-user and -password (or PARLEY_USER / PARLEY_PASSWORD) are required")
		os.Exit(2)
	}

	// The terminal belongs to the UI; logs go to a file.
	logFile, err := openLogFile()
	if err == nil {
		defer logFile.Close()
		utils.SetLogger(utils.NewLogger(logFile, cfg.Log.Level, cfg.Log.Format))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, opts options) error {
	api := client.NewAPI(opts.server)
	if opts.register {
		_, err := api.Register(ctx, models.RegisterRequest{Username: opts.username, Password: opts.password})
		if err != nil && !client.IsStatus(err, http.StatusConflict) {
			return fmt.Errorf("register: %w", err)
		}
	}
	if _, err := api.Login(ctx, opts.username, opts.password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if opts.list {
		convs, err := api.ListConversations(ctx)
		if err != nil {
			return err
		}
		for _, c := range convs {
			fmt.Printf("%s │ %s │ %s\n", c.ID, c.UpdatedAt.Format("01-02 15:04"), c.Title)
		}
		return nil
	}

	convID := opts.conversation
	if convID == "" {
		conv, err := api.CreateConversation(ctx, opts.title)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		convID = conv.ID
	}

	session := client.NewSession(api, convID)
	if err := session.Load(ctx); err != nil {
		return err
	}

	p := tea.NewProgram(newModel(ctx, session, opts.username), tea.WithAltScreen(), tea.WithContext(ctx))
	session.OnChange(func() { p.Send(sessionChangedMsg{}) })

	backoffBase, backoffMax := cfg.Client.Backoff()
	conn := client.NewConn(client.ConnOptions{
		URL:         api.EventsURL(),
		Token:       api.Token(),
		ClientID:    "parley-chat-" + uuid.New().String(),
		MaxAttempts: cfg.Client.ReconnectAttempts(),
		BackoffBase: backoffBase,
		BackoffMax:  backoffMax,
	}, session.HandleRaw)
	conn.OnConnect(func(epoch uint64) {
		session.SetEpoch(epoch)
		if epoch > 1 {
			session.Notify(client.NoticeInfo, "Reconnected. Events sent while offline are not replayed.")
		}
		p.Send(connStateMsg{connected: true})
	})
	conn.OnDrop(func(err error) {
		session.Notify(client.NoticeError, "Connection lost, reconnecting")
		p.Send(connStateMsg{connected: false})
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := conn.Run(connCtx)
		if errors.Is(err, client.ErrUnauthorized) {
			session.Notify(client.NoticeError, "Session expired; restart to log in again")
		}
		p.Send(connClosedMsg{err: err})
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func openLogFile() (*os.File, error) {
	dir, _, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "parley-chat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
