package ingestion

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenMiB = 10 * 1024 * 1024

func TestValidateAccepts(t *testing.T) {
	v := NewValidator(tenMiB)

	tests := []struct {
		name     string
		filename string
		data     string
		dataset  string
	}{
		{"simple", "test_data.csv", "name,age,city\nJohn,30,NYC\nJane,25,LA", "test_data"},
		{"upper case extension", "Report.CSV", "a,b\n1,2\n", "Report"},
		{"header only", "h.csv", "id", "h"},
		{"crlf", "win.csv", "id,name\r\n1,x\r\n", "win"},
		{"bom", "bom.csv", "\xef\xbb\xbfid,name\n1,x", "bom"},
		{"one blank column", "gaps.csv", ",name,\n", "gaps"},
		{"quoted header", "q.csv", "\"first name\",\"last, name\"\n", "q"},
		{"path in filename", "../../tmp/evil.csv", "a\n", "evil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(UploadRequest{Filename: tt.filename, Data: []byte(tt.data)})
			require.NoError(t, err)
			assert.Equal(t, tt.dataset, got.Dataset)
			assert.Equal(t, []byte(tt.data), got.Data)
		})
	}
}

func TestValidateRejects(t *testing.T) {
	v := NewValidator(tenMiB)

	tests := []struct {
		name     string
		filename string
		data     []byte
		hint     int64
		class    Class
		sentinel error
		reason   string
	}{
		{"txt extension", "test_data.txt", []byte("This is a text file"), 0, ClassFormat, ErrFormat, "Only .csv files are allowed"},
		{"no extension", "csv", []byte("a\n"), 0, ClassFormat, ErrFormat, "Only .csv files are allowed"},
		{"csv inside name", "data.csv.exe", []byte("a\n"), 0, ClassFormat, ErrFormat, "Only .csv files are allowed"},
		{"bare extension", ".csv", []byte("a\n"), 0, ClassFormat, ErrFormat, "Filename must contain a dataset name"},
		{"overlong name", strings.Repeat("a", 300) + ".csv", []byte("id\n1\n"), 0, ClassFormat, ErrFormat, "Filename must not exceed 200 characters"},
		{"invalid utf8", "test_data.csv", []byte("name,age\n\xff\xfe"), 0, ClassEncoding, ErrEncoding, "File must be UTF-8 encoded"},
		{"empty", "test_data.csv", []byte{}, 0, ClassHeader, ErrHeader, "CSV file must have a header row"},
		{"blank first line", "test_data.csv", []byte("\nname,age\n"), 0, ClassHeader, ErrHeader, "CSV file must have a header row"},
		{"whitespace header", "test_data.csv", []byte("   \t\r\n1,2"), 0, ClassHeader, ErrHeader, "CSV file must have a header row"},
		{"delimiters only", "test_data.csv", []byte(",,"), 0, ClassHeader, ErrHeader, "CSV file must have a valid header row"},
		{"delimiters and spaces", "test_data.csv", []byte(" , ,\t\nx,y,z"), 0, ClassHeader, ErrHeader, "CSV file must have a valid header row"},
		{"quoted empties", "test_data.csv", []byte(`"",""` + "\n1,2"), 0, ClassHeader, ErrHeader, "CSV file must have a valid header row"},
		{"over limit", "large_data.csv", append([]byte("name,age\n"), bytes.Repeat([]byte("x"), 11*1024*1024)...), 0, ClassSize, ErrSizeLimit, "File size exceeds maximum allowed size of 10 MiB"},
		{"hint over limit", "large_data.csv", []byte("name,age\n"), tenMiB + 1, ClassSize, ErrSizeLimit, "File size exceeds maximum allowed size of 10 MiB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(UploadRequest{Filename: tt.filename, Data: tt.data, ContentLengthHint: tt.hint})
			require.Error(t, err)

			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.class, rej.Class)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestValidateSizeBoundary(t *testing.T) {
	v := NewValidator(16)

	_, err := v.Validate(UploadRequest{Filename: "a.csv", Data: []byte("abcdefghijklmnop")})
	assert.NoError(t, err, "exactly at the limit is accepted")

	_, err = v.Validate(UploadRequest{Filename: "a.csv", Data: []byte("abcdefghijklmnopq")})
	assert.ErrorIs(t, err, ErrSizeLimit)
}

func TestValidateGateOrder(t *testing.T) {
	v := NewValidator(4)
	oversizedInvalid := []byte("\xff\xfe\xff\xfe\xff")

	_, err := v.Validate(UploadRequest{Filename: "a.txt", Data: oversizedInvalid})
	assert.ErrorIs(t, err, ErrFormat, "extension is checked before size")

	_, err = v.Validate(UploadRequest{Filename: "a.csv", Data: oversizedInvalid})
	assert.ErrorIs(t, err, ErrSizeLimit, "size is checked before encoding")

	_, err = v.Validate(UploadRequest{Filename: "a.csv", Data: []byte(",\xff")})
	assert.ErrorIs(t, err, ErrEncoding, "encoding is checked before header")
}

func TestClassHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, ClassFormat.HTTPStatus())
	assert.Equal(t, 400, ClassEncoding.HTTPStatus())
	assert.Equal(t, 400, ClassHeader.HTTPStatus())
	assert.Equal(t, 413, ClassSize.HTTPStatus())
}

func TestRejectionErrorIsOnlyItsClass(t *testing.T) {
	err := error(reject(ClassHeader, "x"))
	assert.ErrorIs(t, err, ErrHeader)
	assert.NotErrorIs(t, err, ErrFormat)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestChecksumMatchesReferenceDigest(t *testing.T) {
	// sha256 of "id,name\n1,test"
	assert.Equal(t, "3c6222ede282a043bcd95628f6aa0b9e033790b56f61b952aa5aa66e341e3272", Checksum([]byte("id,name\n1,test")))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))
}
