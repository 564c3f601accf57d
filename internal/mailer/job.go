// Package mailer queues outbound email and delivers it over SMTP in the
// background.
package mailer

import (
	"errors"
	"time"
)

// ErrQueueEmpty is returned by Dequeue when no job arrived before its
// poll interval elapsed.
var ErrQueueEmpty = errors.New("mail queue empty")

// Account is the SMTP account a job is sent through.
type Account struct {
	ConfigID string `json:"configId"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Secure selects implicit TLS; otherwise STARTTLS is used when offered.
	Secure bool `json:"secure"`
}

// Attachment is a file sent with a message. Content is base64 when Encoding
// is "base64" and UTF-8 text otherwise.
type Attachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
}

// Job is one queued message.
type Job struct {
	ID          string       `json:"id"`
	Account     Account      `json:"account"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	FromEmail   string       `json:"fromEmail"`
	FromName    string       `json:"fromName,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	EnqueuedAt  time.Time    `json:"enqueuedAt"`
	Attempts    int          `json:"attempts"`
}
