package main

import (
	"github.com/pressly/goose/v3"

	"github.com/trezcool/maker/storage/database"
)

var gooseRunFunc = goose.Run // mockable

func (cli *commandLine) migrate(args []string) error {
	if err := database.SetupGoose(cli.conf); err != nil {
		return err
	}
	return gooseRunFunc(args[0], cli.db.DB, database.MigrationsDir(cli.conf), args[1:]...)
}
