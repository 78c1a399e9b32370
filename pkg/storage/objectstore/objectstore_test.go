package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyLayout(t *testing.T) {
	assert.Equal(t, "inventory_data/v2.csv", ObjectKey("inventory_data", 2))
	assert.Equal(t, "s3://datasets/inventory_data/v2.csv", Location("datasets", ObjectKey("inventory_data", 2)))
}

func TestVersionsFromKeys(t *testing.T) {
	keys := []string{
		"sales/v3.csv",
		"sales/v1.csv",
		"sales/v10.csv",
		"sales/archive/v99.csv",
		"sales/readme.txt",
		"sales_eu/v5.csv",
		"other/v4.csv",
	}
	assert.Equal(t, []int{1, 3, 10}, versionsFromKeys("sales", keys))
	assert.Empty(t, versionsFromKeys("missing", keys))
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		useSSL   bool
		wantHost string
		wantTLS  bool
	}{
		{"localhost:9000", false, "localhost:9000", false},
		{"http://localhost:9000", false, "localhost:9000", false},
		{"https://s3.amazonaws.com/", false, "s3.amazonaws.com", true},
		{"minio.internal:443", true, "minio.internal:443", true},
	}
	for _, tt := range tests {
		host, tls := normalizeEndpoint(tt.in, tt.useSSL)
		assert.Equal(t, tt.wantHost, host, tt.in)
		assert.Equal(t, tt.wantTLS, tls, tt.in)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "ftp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported object store provider")
}
