package main

import (
	"context"
	"log"
	"os"

	echoapi "github.com/sjsfi/lms/apps/api/echo"
	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/storage/database"
	sqlxrepos "github.com/sjsfi/lms/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(context.Background(), conf)
	errAndDie(err)

	// start CLI
	cli := commandLine{
		db:       db.DB,
		usrRepo:  sqlxrepos.NewUserRepository(db),
		subjRepo: sqlxrepos.NewSubjectRepository(db),
		tokens:   echoapi.NewTokenIssuer(conf),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
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
