package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/devlink/internal/relay"
	"github.com/dmitrijs2005/devlink/internal/relay/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := relay.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
