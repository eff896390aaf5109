package mail

import (
	"bytes"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter/models"
)

func TestBuildMessageParses(t *testing.T) {
	body := "<p>Café news " + strings.Repeat("long line ", 20) + "</p>\n<p>second</p>"
	raw, err := BuildMessage("sender@example.com", "reader@example.com",
		models.NewsletterDocument{Subject: "Santé: weekly", Body: body},
		time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BuildMessage: %v", err)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	if err != nil || subject != "Santé: weekly" {
		t.Fatalf("unexpected subject %q (%v)", subject, err)
	}
	if id := msg.Header.Get("Message-ID"); !strings.HasSuffix(id, "@example.com>") {
		t.Fatalf("unexpected message id %q", id)
	}
	decoded, err := io.ReadAll(quotedprintable.NewReader(msg.Body))
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if strings.ReplaceAll(string(decoded), "\r\n", "\n") != body {
		t.Fatalf("body did not round trip:\n%s", decoded)
	}
	for _, line := range strings.Split(string(raw), "\r\n") {
		if len(line) > 998 {
			t.Fatalf("line exceeds RFC 5322 limit")
		}
	}
}
