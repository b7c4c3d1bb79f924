package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
)

const (
	usernameFlag = "username"
	emailFlag    = "email"
	nameFlag     = "name"
	roleFlag     = "role"
	adminFlag    = "admin"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf     *core.Config
	db       *sqlx.DB
	usrSvc   *user.Service
	validate *validator.Validate
}

func (cli *commandLine) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Maker administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	cmd.AddCommand(
		cli.addUserCommand(),
		cli.resetPasswordCommand(),
		cli.migrateCommand(),
	)
	return cmd
}

func (cli *commandLine) addUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or update the password & roles of an existing one",
		Long:  "Create a user, or update the password & roles of an existing one. The password is prompted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			uname, _ := flags.GetString(usernameFlag)
			email, _ := flags.GetString(emailFlag)
			name, _ := flags.GetString(nameFlag)
			roles, _ := flags.GetStringSlice(roleFlag)
			isAdmin, _ := flags.GetBool(adminFlag)

			if uname == "" && email == "" {
				_ = cmd.Help()
				return errHelp
			}
			pwd, err := promptPassword(cmd)
			if err != nil {
				return err
			}
			if name == "" {
				name = uname
			}

			usr, err := cli.addUser(cmd.Context(), user.NewUser{
				Name:            name,
				Username:        uname,
				Email:           email,
				Password:        pwd,
				PasswordConfirm: pwd,
				Roles:           roles,
			}, isAdmin)
			if err != nil {
				return err
			}
			cmd.Printf("user %q saved (id: %s)\n", usr.Username, usr.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String(usernameFlag, "", "The user's username")
	flags.String(emailFlag, "", "The user's email")
	flags.String(nameFlag, "", "The user's full name (defaults to the username)")
	flags.StringSlice(roleFlag, nil, fmt.Sprintf("The user's roles, among %v", user.AllRoles))
	flags.Bool(adminFlag, false, "Grant all the roles")
	return cmd
}

func (cli *commandLine) resetPasswordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uname, _ := cmd.Flags().GetString(usernameFlag)
			if uname == "" {
				_ = cmd.Help()
				return errHelp
			}
			pwd, err := promptPassword(cmd)
			if err != nil {
				return err
			}
			return cli.resetPassword(cmd.Context(), uname, pwd)
		},
	}
	cmd.Flags().String(usernameFlag, "", "The user's username or email. The password will be prompted next.")
	return cmd
}

func (cli *commandLine) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Manage the database migrations",
		Long: `Manage the database migrations.

Commands:
    up                   Migrate the DB to the most recent version available
    up-by-one            Migrate the DB up by 1
    up-to VERSION        Migrate the DB to a specific VERSION
    down                 Roll back the version by 1
    down-to VERSION      Roll back to a specific VERSION
    redo                 Re-run the latest migration
    reset                Roll back all migrations
    status               Dump the migration status for the current DB
    version              Print the current version of the database
    create NAME [sql|go] Creates new migration file with the current timestamp
    fix                  Apply sequential ordering to migrations`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errHelp
			}
			return cli.migrate(args)
		},
	}
}

func promptPassword(cmd *cobra.Command) (string, error) {
	cmd.Print("Enter password:")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	cmd.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		_ = cmd.Help()
		return "", errHelp
	}
	return string(pwd), nil
}

// run executes the command line; args include the program name.
func (cli *commandLine) run(args []string) error {
	cmd := cli.rootCommand()
	if len(args) > 0 {
		args = args[1:]
	}
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}
