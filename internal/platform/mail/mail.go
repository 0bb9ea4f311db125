// Package mail sends HTML emails. The SMTP sender talks to the relay
// directly; the queue sender hands messages to an asynq worker which
// delivers them through an SMTP sender.
package mail

import (
	"context"
	"errors"
	"net/mail"
)

var (
	ErrNotConfigured  = errors.New("mail sender not configured")
	ErrInvalidAddress = errors.New("invalid email address")
)

// Sender is the mail collaborator. Send on an unconfigured sender returns
// ErrNotConfigured without any I/O.
type Sender interface {
	Configured() bool
	Send(ctx context.Context, to, subject, html string) error
}

// Settings are the SMTP credentials of the sending account.
type Settings struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"email"`
	Password string `json:"password"`
	From     string `json:"from,omitempty"`
}

// Complete reports whether the account can send.
func (s Settings) Complete() bool {
	return s.Host != "" && s.Port > 0 && s.Username != "" && s.Password != ""
}

// Sender address, defaulting to the login.
func (s Settings) Sender() string {
	if s.From != "" {
		return s.From
	}
	return s.Username
}

// ValidAddress reports whether addr parses as a single mailbox.
func ValidAddress(addr string) bool {
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

// Message is one queued email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}
