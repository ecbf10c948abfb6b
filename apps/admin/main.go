package main

import (
	"log"
	"os"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
	emailsvc "github.com/shulehq/shule/services/email"
	logsvc "github.com/shulehq/shule/services/logger"
	providersvc "github.com/shulehq/shule/services/provider"
	"github.com/shulehq/shule/storage/database"
	sqlxrepos "github.com/shulehq/shule/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	// set up services
	var provider identity.Provider
	if conf.Debug {
		provider = providersvc.NewLocalProvider(conf)
	} else {
		provider = providersvc.NewFirebaseProvider(conf)
	}
	appLogger := logsvc.NewRollbarLogger(logger, conf)
	appLogger.Enable(!conf.Debug)
	idtSvc := identity.NewService(
		sqlxrepos.NewIdentityRepository(db),
		provider,
		emailsvc.NewConsoleService(conf),
		appLogger,
		conf,
	)

	// start CLI
	cli := commandLine{
		db:     db.DB,
		conf:   conf,
		idtSvc: idtSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
