package s3

import (
	"fmt"
	"io"
)

// TooLargeError 讀取的物件超過允許的大小
type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("object exceeds limit of %s", FormatBytes(e.Limit))
}

// NewMaxSizeReader 最多讀取limit個位元組，超過時回傳*TooLargeError
func NewMaxSizeReader(r io.Reader, limit int64) io.Reader {
	// 多讀一個位元組才能分辨剛好等於上限與超過上限
	return &boundedReader{
		src:   &io.LimitedReader{R: r, N: limit + 1},
		limit: limit,
	}
}

type boundedReader struct {
	src   *io.LimitedReader
	limit int64
	seen  int64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := b.src.Read(p)
	if b.seen+int64(n) <= b.limit {
		b.seen += int64(n)
		return n, err
	}
	keep := int(b.limit - b.seen)
	b.seen = b.limit
	return keep, &TooLargeError{Limit: b.limit}
}
