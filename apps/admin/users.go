package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/user"
)

var nowFunc = time.Now // mockable

var errUnknownRole = errors.New("role must be one of admin, faculty, student or none")

// parseRole accepts the known roles and "none".
func parseRole(s string) (access.Role, error) {
	s = core.CleanString(s, true /* lower */)
	if s == "" || s == access.RoleNone.String() {
		return access.RoleNone, nil
	}
	role := access.ParseRole(s)
	if role == access.RoleNone {
		return access.RoleNone, errUnknownRole
	}
	return role, nil
}

// createUser creates an active user.User.
func (cli *commandLine) createUser(name, email, roleName, pwd string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)

	role, err := parseRole(roleName)
	if err != nil {
		return err
	}
	if _, err = cli.usrRepo.GetUserByEmail(ctx, email); err == nil {
		return user.ErrEmailExists
	} else if errors.Cause(err) != user.ErrNotFound {
		return err
	}

	now := nowFunc().UTC()
	usr := user.User{
		Name:      name,
		Email:     email,
		IsActive:  true,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if role != access.RoleNone {
		usr.RoleUpdatedAt = now
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	if usr, err = cli.usrRepo.CreateUser(ctx, usr); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.stdout(), "created user %s (%s)\n", usr.Email, usr.ID)
	return nil
}

func (cli *commandLine) setRole(email, roleName string) error {
	ctx := context.Background()
	role, err := parseRole(roleName)
	if err != nil {
		return err
	}
	usr, err := cli.usrRepo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	if _, err = cli.usrRepo.SetUserRole(ctx, usr.ID, role, nowFunc().UTC()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.stdout(), "%s is now %s\n", usr.Email, role)
	return nil
}

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrRepo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	return cli.usrRepo.SetUserPassword(ctx, usr.ID, usr.PasswordHash, nowFunc().UTC())
}

// token prints a session token carrying the user's stored role.
func (cli *commandLine) token(email string) error {
	usr, err := cli.usrRepo.GetUserByEmail(context.Background(), core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return user.ErrAccountDeactivated
	}
	token, err := cli.tokens.GenerateToken(cli.tokens.UserClaims(usr))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cli.stdout(), token)
	return nil
}
