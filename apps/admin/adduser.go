package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, nu user.NewUser, isAdmin bool) (user.User, error) {
	if isAdmin {
		nu.Roles = user.AllRoles
	}

	usr, err := cli.findUser(ctx, core.CleanString(nu.Username, true), core.CleanString(nu.Email, true))
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, err
		}
		if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
			return user.User{}, err
		}
		return cli.usrSvc.Create(ctx, nu)
	}

	if nu.Roles != nil {
		usr.Roles = nu.Roles
	}
	usr.IsActive = true
	if err = usr.SetPassword(nu.Password); err != nil {
		return user.User{}, errors.Wrap(err, "setting password")
	}
	return cli.usrSvc.Save(ctx, usr)
}

func (cli *commandLine) findUser(ctx context.Context, unames ...string) (user.User, error) {
	for _, uname := range unames {
		if uname == "" {
			continue
		}
		usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
		if err == nil || errors.Cause(err) != user.ErrNotFound {
			return usr, err
		}
	}
	return user.User{}, user.ErrNotFound
}
