package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/corpusworks/corpusd/internal/model"
)

func Test_SupportedSuffix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		want     bool
	}{
		{"notes.txt", true},
		{"README.md", true},
		{"guide.MARKDOWN", true},
		{"index.rst", true},
		{"server.log", true},
		{"rows.csv", true},
		{"payload.json", true},
		{"report.pdf", false},
		{"slides.pptx", false},
		{"archive.tar.gz", false},
		{"noext", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := SupportedSuffix(tt.filename); got != tt.want {
			t.Errorf("SupportedSuffix(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

func Test_PlainText_Extract(t *testing.T) {
	t.Parallel()

	e := NewPlainText()

	text, err := e.Extract(context.Background(), "notes.txt", []byte("hello world"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "hello world" {
		t.Errorf("Extract() = %q, want %q", text, "hello world")
	}
}

func Test_PlainText_Extract_RejectsUnsupportedSuffix(t *testing.T) {
	t.Parallel()

	e := NewPlainText()

	_, err := e.Extract(context.Background(), "report.docx", []byte("anything"))
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Extract() error = %v, want ErrValidation", err)
	}
}

func Test_PlainText_Extract_RejectsPDFMagic(t *testing.T) {
	t.Parallel()

	e := NewPlainText()

	// PDF bytes smuggled in under an allowed extension.
	_, err := e.Extract(context.Background(), "report.txt", []byte("%PDF-1.7\n..."))
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Extract() error = %v, want ErrValidation", err)
	}
}

func Test_PlainText_Extract_RejectsBinaryContent(t *testing.T) {
	t.Parallel()

	e := NewPlainText()

	_, err := e.Extract(context.Background(), "data.log", []byte{'o', 'k', 0x00, 'x'})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Extract() error = %v, want ErrValidation", err)
	}
}

func Test_PlainText_Extract_DropsInvalidUTF8(t *testing.T) {
	t.Parallel()

	e := NewPlainText()

	text, err := e.Extract(context.Background(), "notes.txt", []byte{'h', 'i', 0xff, 0xfe, '!'})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "hi!" {
		t.Errorf("Extract() = %q, want %q", text, "hi!")
	}
}
