package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/admin"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/config"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/event"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/loop"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/session"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/transport/wstransport"
)

const quitTimeout = 2 * time.Second

const usage = `commands:
  /sub <topic>              subscribe and print messages
  /unsub <topic>            unsubscribe
  /publish <topic> <json>   publish through the admin api
  /channels                 list channels on the broker
  /exists <topic>           check whether a channel exists
  /quit                     disconnect and exit
  <topic> <message>         send message on topic`

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "configuration file (.json, .toml, .yaml)")
	server := pflag.StringP("server", "s", "", "broker base url, overrides client.server")
	topics := pflag.StringSliceP("topic", "t", nil, "topic to subscribe at startup (repeatable)")
	pflag.Parse()

	cfg, err := config.ReadConfigFrom(*configPath)
	if errors.Is(err, config.ErrConfigCreated) {
		fmt.Fprintf(os.Stderr, "created %s with default values\n", *configPath)
	} else if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Client.Server = *server
	}

	loggerCallback := logger.Init(cfg.LogDir, cfg.DebugMode, os.Stderr)
	cleaner := event.NewCleaner()
	ctx, cancel := context.WithCancel(cleaner.Init(context.Background(), loggerCallback))
	defer cleaner.Clean()
	defer cancel()

	l := loop.New()
	sess, err := session.New(session.Options{
		Server: cfg.Client.Server,
		Dial:   wstransport.NewFactory(l),
		Loop:   l,
		Reconnect: session.ReconnectPolicy{
			Delay:      cfg.Client.ReconnectDelayDuration(),
			Multiplier: cfg.Client.ReconnectMultiplier,
			MaxDelay:   cfg.Client.ReconnectMaxDelayDuration(),
		},
		Admin: admin.New(cfg.Client.Server, &http.Client{Timeout: cfg.Client.RequestTimeoutDuration()}, slog.Default()),
	})
	if err != nil {
		logger.FatalF("Error occured while creating session: %v", err)
		return
	}
	logger.InfoF("Session %s connecting to %s", sess.ID(), cfg.Client.Server)

	sess.OnConnected(func() { logger.Info("Connected") })
	var disconnected sync.Once
	quit := make(chan struct{})
	sess.OnDisconnected(func(ev transport.Event) {
		logger.InfoF("Disconnected: %d %s", ev.Code, ev.Reason)
		if ev.Code == transport.CloseNormal {
			disconnected.Do(func() { close(quit) })
		}
	})

	out := &printer{w: os.Stdout}
	for _, topic := range *topics {
		sess.Subscribe(topic, out.handler(topic))
	}
	sess.Connect()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sess.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	go func() {
		c := &console{sess: sess, out: out, timeout: cfg.Client.RequestTimeoutDuration()}
		c.run(ctx, os.Stdin)
		if sess.State() == session.Connected {
			sess.Disconnect()
			select {
			case <-quit:
			case <-time.After(quitTimeout):
			}
		}
		cancel()
	}()

	if err := g.Wait(); err != nil {
		logger.ErrorF("Session stopped: %v", err)
	}
}

// printer 串行化终端输出
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) handler(topic string) func(string) {
	return func(payload string) {
		p.Printf("%s %s\n", color.CyanString("[%s]", topic), payload)
	}
}

type console struct {
	sess    *session.Session
	out     *printer
	timeout time.Duration
}

// run 逐行读取命令直到 EOF、/quit 或 ctx 结束
func (c *console) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !c.exec(ctx, line) {
			return
		}
	}
}

// exec 执行一行命令，返回 false 表示退出
func (c *console) exec(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch cmd {
	case "/quit":
		return false
	case "/help":
		c.out.Printf("%s\n", usage)
	case "/sub":
		if rest == "" {
			c.out.Printf("usage: /sub <topic>\n")
			break
		}
		c.sess.Subscribe(rest, c.out.handler(rest))
	case "/unsub":
		if rest == "" {
			c.out.Printf("usage: /unsub <topic>\n")
			break
		}
		c.sess.Unsubscribe(rest)
	case "/publish":
		topic, body, ok := strings.Cut(rest, " ")
		if !ok || topic == "" {
			c.out.Printf("usage: /publish <topic> <json>\n")
			break
		}
		c.out.Printf("published: %t\n", c.sess.Publish(reqCtx, topic, rawJSON(body)))
	case "/channels":
		for _, name := range c.sess.GetChannels(reqCtx) {
			c.out.Printf("%s\n", name)
		}
	case "/exists":
		if rest == "" {
			c.out.Printf("usage: /exists <topic>\n")
			break
		}
		c.out.Printf("%s: %t\n", rest, c.sess.CheckChannel(reqCtx, rest))
	default:
		if strings.HasPrefix(cmd, "/") {
			c.out.Printf("unknown command %s\n%s\n", cmd, usage)
			break
		}
		c.sess.Send(cmd, rest)
	}
	return true
}

// rawJSON 合法 JSON 原样发布，否则按字符串发布
func rawJSON(body string) any {
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	return body
}
