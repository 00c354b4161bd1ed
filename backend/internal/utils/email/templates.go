package email

import (
	"fmt"
	"time"
)

// Message is a rendered email ready for Send.
type Message struct {
	Subject string
	Body    string // Markdown
}

func ConfirmationMessage(username, link string, ttl time.Duration) Message {
	return Message{
		Subject: "Confirm your email",
		Body: fmt.Sprintf(`Hello %s,

Thanks for signing up. Please confirm your email address:

[Confirm email](%s)

The link expires in %s. If you did not create an account, ignore this message.
`, username, link, humanDuration(ttl)),
	}
}

func PasswordResetMessage(username, link string, ttl time.Duration) Message {
	return Message{
		Subject: "Reset your password",
		Body: fmt.Sprintf(`Hello %s,

Someone requested a password reset for your account. To choose a new password follow the link:

[Reset password](%s)

The link expires in %s. If it was not you, ignore this message, your password stays the same.
`, username, link, humanDuration(ttl)),
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	case d >= time.Minute && d%time.Minute == 0:
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	}
	return d.String()
}
