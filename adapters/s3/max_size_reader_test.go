package s3_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenad/adapters/s3"
)

func TestMaxSizeReader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxSize int64
		want    string
		wantErr string
		oneByte bool
	}{
		{
			name:    "under the limit",
			input:   "hello",
			maxSize: 10,
			want:    "hello",
		},
		{
			name:    "exactly the limit",
			input:   "hello",
			maxSize: 5,
			want:    "hello",
		},
		{
			name:    "over the limit",
			input:   "hello world",
			maxSize: 5,
			want:    "hello",
			wantErr: "object exceeds limit of 5 bytes",
		},
		{
			name:    "over the limit across small reads",
			input:   "hello world",
			maxSize: 7,
			want:    "hello w",
			wantErr: "object exceeds limit of 7 bytes",
			oneByte: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var src io.Reader = strings.NewReader(tt.input)
			if tt.oneByte {
				src = iotest.OneByteReader(src)
			}
			got, err := io.ReadAll(s3.NewMaxSizeReader(src, tt.maxSize))
			assert.Equal(t, tt.want, string(got))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				var tooLarge *s3.TooLargeError
				require.ErrorAs(t, err, &tooLarge)
				assert.Equal(t, tt.maxSize, tooLarge.Limit)
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("empty buffer", func(t *testing.T) {
		n, err := s3.NewMaxSizeReader(bytes.NewReader([]byte("x")), 1).Read(nil)
		assert.Zero(t, n)
		assert.NoError(t, err)
	})
}
