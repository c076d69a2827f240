package gifencoder

// ByteArray is an in-memory output sink made of fixed-size pages. It never
// fails, so it is the default sink for EncodeGIF and the tests.
type ByteArray struct {
	pages    [][]byte
	page     int
	cursor   int
	pageSize int
}

const defaultPageSize = 4096

// NewByteArray creates an empty ByteArray with the default page size
func NewByteArray() *ByteArray {
	return NewByteArraySize(defaultPageSize)
}

// NewByteArraySize creates an empty ByteArray with pages of pageSize bytes
func NewByteArraySize(pageSize int) *ByteArray {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	ba := &ByteArray{
		page:     -1,
		pageSize: pageSize,
	}
	ba.newPage()
	return ba
}

func (ba *ByteArray) newPage() {
	ba.page++
	if ba.page < len(ba.pages) {
		ba.cursor = 0
		return
	}
	ba.pages = append(ba.pages, make([]byte, ba.pageSize))
	ba.cursor = 0
}

// WriteByte appends a single byte. It implements io.ByteWriter.
func (ba *ByteArray) WriteByte(val byte) error {
	if ba.cursor >= ba.pageSize {
		ba.newPage()
	}
	ba.pages[ba.page][ba.cursor] = val
	ba.cursor++
	return nil
}

// Write appends p page by page. It implements io.Writer.
func (ba *ByteArray) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if ba.cursor >= ba.pageSize {
			ba.newPage()
		}
		n := copy(ba.pages[ba.page][ba.cursor:], p[total:])
		ba.cursor += n
		total += n
	}
	return total, nil
}

// WriteString appends the bytes of s
func (ba *ByteArray) WriteString(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		ba.WriteByte(s[i])
	}
	return len(s), nil
}

// Len returns the number of bytes written so far
func (ba *ByteArray) Len() int {
	return ba.page*ba.pageSize + ba.cursor
}

// Bytes returns all written data as a single byte slice
func (ba *ByteArray) Bytes() []byte {
	data := make([]byte, 0, ba.Len())
	for i := 0; i < ba.page; i++ {
		data = append(data, ba.pages[i]...)
	}
	return append(data, ba.pages[ba.page][:ba.cursor]...)
}

// Reset discards the contents but keeps the allocated pages for reuse
func (ba *ByteArray) Reset() {
	ba.page = -1
	ba.newPage()
}
