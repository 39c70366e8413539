package textract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	stdout string
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.stdout), []byte("stderr"), f.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHTMLToText(t *testing.T) {
	body := `<html><head><title>x</title><style>.a{}</style></head><body>
	<div style="display:none">preheader</div>
	<p>Thanks for your order</p>
	<table><tr><td>Widget</td><td>₹ 200.00</td></tr><tr><td>Total</td><td>₹ 236.00</td></tr></table>
	<script>track()</script></body></html>`

	got, err := HTMLToText(body)

	require.NoError(t, err)
	assert.Contains(t, got, "Thanks for your order")
	assert.Contains(t, got, "Widget ₹ 200.00")
	assert.Contains(t, got, "Total ₹ 236.00")
	assert.NotContains(t, got, "track()")
	assert.NotContains(t, got, "preheader")
	assert.NotContains(t, got, ".a{}")
}

func TestHTMLToText_PlainText(t *testing.T) {
	got, err := HTMLToText("  Amount:   100 \r\n\r\n\r\nPaid ")
	require.NoError(t, err)
	assert.Equal(t, "Amount: 100\n\nPaid", got)
}

func TestPDFText_FallsBackToPdftotext(t *testing.T) {
	r := &fakeRunner{stdout: "INVOICE\n  Total   1,180.00\n"}
	e := NewExtractor("pdftotext", r, quiet())

	got, err := e.PDFText(context.Background(), []byte("not really a pdf"))

	require.NoError(t, err)
	assert.Equal(t, "INVOICE\nTotal 1,180.00", got)
	require.Len(t, r.calls, 1)
	assert.Equal(t, "pdftotext", r.calls[0][0])
	assert.Equal(t, "-", r.calls[0][len(r.calls[0])-1])
}

func TestPDFText_NoFallbackConfigured(t *testing.T) {
	e := NewExtractor("", &fakeRunner{}, quiet())
	_, err := e.PDFText(context.Background(), []byte("garbage"))
	assert.Error(t, err)
}

func TestPDFText_FallbackEmpty(t *testing.T) {
	e := NewExtractor("pdftotext", &fakeRunner{stdout: "  \n"}, quiet())
	_, err := e.PDFText(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, ErrNoTextLayer)
}

func TestPDFText_FallbackFails(t *testing.T) {
	e := NewExtractor("pdftotext", &fakeRunner{err: errors.New("exit status 1")}, quiet())
	_, err := e.PDFText(context.Background(), []byte("garbage"))
	assert.ErrorContains(t, err, "pdftotext")
}

func TestPageCount_Invalid(t *testing.T) {
	_, err := PageCount([]byte("garbage"))
	assert.Error(t, err)
}
