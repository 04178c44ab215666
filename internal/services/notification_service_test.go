package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authguard/pkg/mail"
)

func TestSendApprovalRequest(t *testing.T) {
	mailer := mail.NewMemoryMailer()
	svc, err := NewNotificationService(mailer, NotificationConfig{
		Enabled:     true,
		From:        "security@example.com",
		AppName:     "Acme",
		ApprovalURL: "https://id.example.com/devices/approve",
		BufferSize:  4,
	})
	require.NoError(t, err)

	svc.SendApprovalRequest(context.Background(), ApprovalNotice{
		UserID:     "user-1",
		Email:      "owner@example.com",
		DeviceName: "Work laptop",
		Browser:    "Firefox",
		OS:         "Linux",
		Country:    "DE",
		City:       "Berlin",
		Link:       "li+nk/1",
		Code:       "482913",
		ExpiresAt:  time.Date(2024, 1, 3, 9, 15, 0, 0, time.UTC),
	})
	require.NoError(t, svc.Close(context.Background()))

	messages := mailer.Messages()
	require.Len(t, messages, 1)
	msg := messages[0]
	require.Equal(t, []string{"owner@example.com"}, msg.To)
	require.Equal(t, NoticeDeviceApproval, msg.Headers["X-Notice-Type"])
	require.Contains(t, msg.Subject, "Acme")
	require.Contains(t, msg.Body, "482913")
	require.Contains(t, msg.Body, "Berlin, DE")
	require.Contains(t, msg.Body, "?link=li%2Bnk%2F1")
	require.Contains(t, msg.Body, "2024-01-03 09:15 UTC")
}

func TestSendSecurityNoticeSkipsWhenDisabledOrUnaddressed(t *testing.T) {
	mailer := mail.NewMemoryMailer()

	disabled, err := NewNotificationService(mailer, NotificationConfig{})
	require.NoError(t, err)
	disabled.SendSecurityNotice(context.Background(), SecurityNotice{Email: "a@example.com", Kind: NoticeDeviceRevoked})
	require.NoError(t, disabled.Close(context.Background()))

	enabled, err := NewNotificationService(mailer, NotificationConfig{Enabled: true})
	require.NoError(t, err)
	enabled.SendSecurityNotice(context.Background(), SecurityNotice{Kind: NoticeDeviceRevoked})
	enabled.SendSecurityNotice(context.Background(), SecurityNotice{
		Email:   "b@example.com",
		Kind:    NoticeTokenReuse,
		Summary: "A refresh token was reused.",
		Details: map[string]string{"ip": "198.51.100.4"},
	})
	require.NoError(t, enabled.Close(context.Background()))

	messages := mailer.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, NoticeTokenReuse, messages[0].Headers["X-Notice-Type"])
	require.Contains(t, messages[0].Body, "ip: 198.51.100.4")
}

func TestMailerFailureIsSwallowed(t *testing.T) {
	mailer := mail.NewMemoryMailer()
	mailer.FailWith(errors.New("smtp down"))

	svc, err := NewNotificationService(mailer, NotificationConfig{Enabled: true})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		svc.SendSecurityNotice(context.Background(), SecurityNotice{Email: "c@example.com", Kind: NoticeAccountLocked})
	})
	require.NoError(t, svc.Close(context.Background()))
	require.Empty(t, mailer.Messages())
}
