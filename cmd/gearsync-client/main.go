// Terminal client for watching a team's equipment sync stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
	gsync "github.com/audiorack/gearsync/pkg/sync"
)

func main() {
	var (
		server = flag.String("server", "http://localhost:8090", "Server base URL")
		phone  = flag.String("phone", "", "Phone number to log in with")
		name   = flag.String("name", "", "Display name")
	)

	flag.Parse()

	if *phone == "" || *name == "" {
		log.Fatal("Both -phone and -name are required")
	}

	logg, err := logger.New(logger.Config{Level: "warn", Output: "stderr"})
	if err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := gsync.NewClient(*server, logg)

	login, err := client.Login(ctx, *phone, *name)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	fmt.Printf("Logged in as %s (team %s)\n", login.User.Name, login.User.TeamID)

	syncer := gsync.NewSyncer(client, login.User, logg)
	syncer.OnEvent = func(ev gsync.Event) {
		printEvent(syncer.Cache(), ev)
	}

	syncer.Run(ctx)

	fmt.Fprintln(os.Stderr, "Shutting down")
}

func printEvent(cache *gsync.Cache, ev gsync.Event) {
	switch ev.Type {
	case gsync.EventConnected:
		fmt.Printf("--- connected, %d records ---\n", len(cache.Records()))
	case gsync.EventDisconnected:
		fmt.Println("--- disconnected, polling fallback active ---")
	case gsync.EventEquipmentUpdate:
		msg := ev.Message

		switch msg.Operation {
		case models.OperationDelete:
			fmt.Printf("[%s] delete %q by %s\n",
				msg.Timestamp.Format("15:04:05"), msg.Archived.Name, msg.Archived.DeletedByName)
		default:
			fmt.Printf("[%s] %s %q status=%s by %s\n",
				msg.Timestamp.Format("15:04:05"), msg.Operation,
				msg.Equipment.Name, msg.Equipment.Status, msg.Equipment.CheckedByName)
		}
	case gsync.EventActivityUpdate:
		entry := ev.Message.Activity
		fmt.Printf("[%s] activity: %s %s by %s\n",
			ev.Message.Timestamp.Format("15:04:05"), entry.Action, entry.EquipmentID, entry.UserName)
	case gsync.EventStatsUpdate:
		o := ev.Message.Stats.Overview
		fmt.Printf("[%s] stats total=%d checked=%d pending=%d issues=%d\n",
			ev.Message.Timestamp.Format("15:04:05"), o.Total, o.Checked, o.Pending, o.Issues)
	}
}
