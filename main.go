package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/itsrealkaran/eth-date/bots"
	"github.com/itsrealkaran/eth-date/data"
	"github.com/itsrealkaran/eth-date/server"
)

var (
	address = flag.String("address", ":3002", "address to listen on")
	dataDir = flag.String("data", ".", "directory for data files")
	dev     = flag.Bool("dev", false, "development mode: simulated roster, relaxed gating")
)

func main() {
	flag.Parse()

	if os.Getenv("ETH_DATE_DEV") == "true" {
		*dev = true
	}

	data.SetDataDir(*dataDir)

	// broadcast loop and stale sweep
	go server.Run()

	// nearest-counterpart matcher
	go server.NewMatcher(server.Default).Run()

	// proximity push alerts
	server.DefaultPush()

	if *dev {
		roster := bots.NewRoster("ws://localhost" + *address + "/ws")
		go roster.Run()
	}

	http.HandleFunc("/ws", server.SocketHandler)
	http.HandleFunc("/profiles", server.ProfilesHandler)
	http.HandleFunc("/push", server.SubscribeHandler)
	http.HandleFunc("/health", server.HealthHandler)

	log.Printf("[main] listening on %s (dev=%v)", *address, *dev)
	if err := http.ListenAndServe(*address, nil); err != nil {
		log.Fatal(err)
	}
}
