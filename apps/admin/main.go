package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
	logsvc "github.com/trezcool/maker/services/logger"
	"github.com/trezcool/maker/storage/database"
	sqlxrepos "github.com/trezcool/maker/storage/database/sqlx"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf := core.NewConfig()

	zl, err := logsvc.NewZapLogger("ADMIN", true /* human friendly */)
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin: setting up logger: %v\n", err)
		return 1
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(false)
	defer logger.Sync()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Error("opening database", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = database.Ping(ctx, db); err != nil {
		logger.Error("pinging database", err)
		return 1
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// start CLI
	cli := commandLine{
		conf:     conf,
		db:       db,
		usrSvc:   user.NewService(sqlxrepos.NewUserRepository(db)),
		validate: validate,
	}
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		return 1
	}
	return 0
}
