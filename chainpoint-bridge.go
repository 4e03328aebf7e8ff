package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/chainpoint/chainpoint-bridge/abci"
	"github.com/chainpoint/chainpoint-bridge/util"
	"github.com/common-nighthawk/go-figure"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/node"
	"github.com/tendermint/tendermint/proxy"
)

func main() {
	figure.NewColorFigure("Chainpoint Bridge", "colossal", "red", false).Print()
	homedirname, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	home := util.GetEnv("BRIDGE_HOME", fmt.Sprintf("%s/.chainpoint/bridge", homedirname))
	if _, err := os.Stat(home); os.IsNotExist(err) {
		os.MkdirAll(home, os.ModePerm)
	}

	//Instantiate ABCI application
	config := abci.InitConfig(home)
	logger := config.TendermintConfig.Logger

	app, err := abci.NewBridgeApplication(config)
	if err != nil {
		panic(err)
	}
	app.Start()

	//declare connection to abci app
	appProxy := proxy.NewLocalClientCreator(app)

	/* Instantiate Tendermint Node with given config and abci app */
	n, err := node.NewNode(config.TendermintConfig.Config,
		config.TendermintConfig.FilePV,
		config.TendermintConfig.NodeKey,
		appProxy,
		node.DefaultGenesisDocProviderFunc(config.TendermintConfig.Config),
		node.DefaultDBProvider,
		node.DefaultMetricsProvider(config.TendermintConfig.Config.Instrumentation),
		logger,
	)
	if err != nil {
		panic(err)
	}

	// Wait forever, shutdown gracefully upon
	tmos.TrapSignal(*config.Logger, func() {
		if n.IsRunning() {
			logger.Info("Shutting down Bridge...")
			n.Stop()
		}
		util.LogError(app.Close())
	})

	// Start Tendermint Node
	if err := n.Start(); err != nil {
		panic(err)
	}
	logger.Info("Started node", "nodeInfo", n.Switch().NodeInfo())

	router, err := app.NewRouter()
	if err != nil {
		panic(err)
	}
	server := &http.Server{
		Handler:      router,
		Addr:         ":" + config.APIPort,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	util.LogError(server.ListenAndServe())
}
