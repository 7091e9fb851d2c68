package main

import (
	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/conductor"
	"github.com/obscuranet/obscurawallet/pkg/node"
	"github.com/obscuranet/obscurawallet/pkg/receivers"
	"github.com/obscuranet/obscurawallet/pkg/store"
	"github.com/obscuranet/obscurawallet/pkg/walletsync"
	"github.com/obscuranet/obscurawallet/pkg/webapi"
)

func Server(conf obscura.Config) {

	c := conductor.NewConductor(
		conductor.HookSignals(),
		conductor.Noisy(),
	)

	// Start the MessageBus Service
	bus := obscura.NewMessageBus()
	c.Service("MessageBus", bus)

	// Set up all configured receivers
	receivers.SetUpReceivers(c, bus, conf)

	// Set up the L1 interface to the ledger node
	l1, err := node.NewL1RPC(conf)
	if err != nil {
		panic(err)
	}

	// Setup a Store
	db, err := store.NewSQLStore(conf.Store.DBFile)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// Start the wallet sync driver
	chaser, err := walletsync.StartWalletSync(c, conf, l1, db, bus)
	if err != nil {
		panic(err)
	}

	// Start the node listener service (ZMQ)
	nodez, err := node.NewZMQReceiver(bus, conf)
	if err != nil {
		panic(err)
	}
	nodez.Subscribe(chaser.ReceiveFromNode)
	c.Service("ZMQ Listener", nodez)

	api := obscura.NewAPI(db, l1, bus, conf)

	// Start the Admin API
	p, err := webapi.NewWebAPI(conf, api)
	if err != nil {
		panic(err)
	}
	c.Service("Admin API", p)

	<-c.Start()
}
