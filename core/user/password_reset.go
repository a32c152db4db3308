package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
)

var (
	ErrPasswordResetDisabled = errors.New("password reset is disabled")
	ErrInvalidResetToken     = errors.New("invalid or expired password reset link")
)

// WithPasswordReset turns on self-service password resets, mailing links valid for timeout.
func WithPasswordReset(secret string, timeout time.Duration, mailSvc core.EmailService) Option {
	return func(svc *Service) {
		svc.resetTokens = newResetTokens(secret, timeout)
		svc.mailSvc = mailSvc
	}
}

// RequestPasswordReset mails a reset link to the active user owning email.
// Unknown and deactivated accounts are ignored so that callers cannot probe for them.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if svc.mailSvc == nil {
		return ErrPasswordResetDisabled
	}
	usr, err := svc.GetByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "finding user by email")
	}
	if !usr.IsActive {
		return nil
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Reset your password",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": svc.resetTokens.make(usr),
			"Days":  int(svc.resetTokens.timeout / (24 * time.Hour)),
		},
	})
	return nil
}

// ResetPassword sets pwd as the password of the user encoded by uid, given a token from RequestPasswordReset.
func (svc *Service) ResetPassword(ctx context.Context, uid, token, pwd string) error {
	if svc.mailSvc == nil {
		return ErrPasswordResetDisabled
	}
	invalid := core.NewValidationError(ErrInvalidResetToken, core.FieldError{Field: "token", Error: ErrInvalidResetToken.Error()})

	id, err := decodeUID(uid)
	if err != nil {
		return invalid
	}
	if _, err = uuid.Parse(id); err != nil {
		return invalid
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return invalid
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return ErrAccountDeactivated
	}
	if err = svc.resetTokens.verify(usr, token); err != nil {
		svc.logger.Info(fmt.Sprintf("rejecting password reset of %s: %v", usr.ID, err), usr)
		return invalid
	}
	return svc.SetPassword(ctx, usr.ID, pwd)
}
