package report

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// SessionQR creates a QR code PNG encoding a session UUID.
func SessionQR(id string, size int) ([]byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("report: session id is empty")
	}
	if size <= 0 {
		size = 128
	}

	return qrcode.Encode(id, qrcode.Medium, size)
}
