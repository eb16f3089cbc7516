package s3_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"arenad/adapters/s3"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{name: "empty transcript", bytes: 0, want: "0 bytes"},
		{name: "just below a kilobyte", bytes: 1023, want: "1023 bytes"},
		{name: "small transcript", bytes: 1536, want: "1.50 KB"},
		{name: "default archive limit", bytes: 8 << 20, want: "8.00 MB"},
		{name: "ten thousand tickets", bytes: 10_000 * 96, want: "937.50 KB"},
		{name: "GB", bytes: 3 << 30, want: "3.00 GB"},
		{name: "larger units stop at TB", bytes: 2048 << 40, want: "2048.00 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s3.FormatBytes(tt.bytes))
		})
	}
}

func TestTooLargeError(t *testing.T) {
	tests := []struct {
		limit int64
		want  string
	}{
		{limit: 5, want: "object exceeds limit of 5 bytes"},
		{limit: 8 << 20, want: "object exceeds limit of 8.00 MB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.EqualError(t, &s3.TooLargeError{Limit: tt.limit}, tt.want)
		})
	}
}
