package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"tickbot/internal/app"
	"tickbot/internal/notify"
	"tickbot/internal/scheduler"
	"tickbot/internal/transport"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// Actions must be registered before Start() restores persisted jobs.
	registerActions(a.Scheduler())

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}

// notifyPayload is the payload of the generic "notify" action.
type notifyPayload struct {
	Text string `json:"text"`
}

// registerActions wires the host glue: actions that deliver text to the
// job's destination channel through the notify pipeline. Game-rule
// subsystems register their own actions the same way.
func registerActions(s *scheduler.Scheduler) {
	s.RegisterAction("notify", func(ctx context.Context, inv scheduler.Invocation) error {
		var p notifyPayload
		if len(inv.Payload) > 0 {
			if err := json.Unmarshal(inv.Payload, &p); err != nil {
				return fmt.Errorf("notify payload: %w", err)
			}
		}
		return deliver(inv, p.Text)
	})

	s.RegisterAction("remind", func(ctx context.Context, inv scheduler.Invocation) error {
		return deliver(inv, inv.Message)
	})
}

func deliver(inv scheduler.Invocation, text string) error {
	n, ok := inv.Host.(*notify.Service)
	if !ok {
		return fmt.Errorf("host is not a notify service")
	}
	if text == "" {
		return nil
	}
	chatID, err := strconv.ParseInt(inv.Job.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("job %s: channelId %q is not a chat id", inv.Job.ID, inv.Job.ChannelID)
	}
	return n.Send(transport.ChatTarget{ChatID: chatID}, text)
}
