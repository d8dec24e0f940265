package mail

import (
	"io"
	"strings"
	"sync"
	"testing"

	"log/slog"

	"github.com/splax/accountd/internal/domain"
)

type fakeMailer struct {
	mu       sync.Mutex
	messages []sentMessage
	fail     bool
}

type sentMessage struct {
	to      string
	subject string
	body    string
}

func (m *fakeMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return io.ErrClosedPipe
	}
	m.messages = append(m.messages, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func (m *fakeMailer) sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.messages...)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUser() domain.User {
	return domain.User{Login: "alice", Email: "a@x.com"}
}

func TestSendActivationEmailCarriesKeyLink(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, newLogger(), "https://accounts.example/", "accountd")

	d.SendActivationEmail(testUser(), "the-key")
	d.Wait()

	messages := mailer.sent()
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.to != "a@x.com" {
		t.Fatalf("unexpected recipient: %q", msg.to)
	}
	if !strings.Contains(msg.body, "https://accounts.example/api/v1/activate?key=the-key") {
		t.Fatalf("activation link missing from body:\n%s", msg.body)
	}
	if !strings.Contains(msg.body, "alice") {
		t.Fatalf("login missing from body:\n%s", msg.body)
	}
}

func TestSendPasswordResetEmailCarriesKeyLink(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, newLogger(), "https://accounts.example", "accountd")

	d.SendPasswordResetEmail(testUser(), "reset-key")
	d.Wait()

	messages := mailer.sent()
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	if !strings.Contains(messages[0].body, "reset?key=reset-key") {
		t.Fatalf("reset link missing from body:\n%s", messages[0].body)
	}
}

func TestSendCreationEmail(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, newLogger(), "https://accounts.example", "accountd")

	d.SendCreationEmail(testUser())
	d.Wait()

	messages := mailer.sent()
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	if !strings.Contains(messages[0].body, "activated") {
		t.Fatalf("unexpected body:\n%s", messages[0].body)
	}
}

func TestDeliveryFailureDoesNotPropagate(t *testing.T) {
	mailer := &fakeMailer{fail: true}
	d := NewDispatcher(mailer, newLogger(), "https://accounts.example", "accountd")

	// Must not panic or block; failures are logged only.
	d.SendActivationEmail(testUser(), "the-key")
	d.Wait()

	if len(mailer.sent()) != 0 {
		t.Fatalf("expected no recorded deliveries")
	}
}
