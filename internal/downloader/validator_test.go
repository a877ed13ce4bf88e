package downloader

import (
	"testing"

	"github.com/italolelis/sgx_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPageValidator(t *testing.T) {
	v := NewErrorPageValidator()

	tests := []struct {
		name       string
		body       string
		wantReason string
	}{
		{"zip content", "PK\x03\x04binary", ""},
		{"plain text", "Comm,Contract_Type,Price\nFCH,F,12.5\n", ""},
		{"empty", "  \n", "empty body"},
		{"doctype", "<!DOCTYPE html><html><head><title>Page Not Found</title></head></html>", `html error page "Page Not Found"`},
		{"leading whitespace and bom", "\xef\xbb\xbf \n<html><body><h1>Maintenance</h1></body></html>", `html error page "Maintenance"`},
		{"html without title", "<html><body></body></html>", "html error page"},
		{"marker", "Status: no record found for this session", `body contains "no record found"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(5000, "TC.txt", []byte(tt.body))
			if tt.wantReason == "" {
				assert.NoError(t, err)

				return
			}

			var contentErr *transfer.InvalidContentError
			require.ErrorAs(t, err, &contentErr)
			assert.Equal(t, tt.wantReason, contentErr.Reason)
			assert.Equal(t, 5000, contentErr.Index)
			assert.Equal(t, "TC.txt", contentErr.Filename)
		})
	}
}

func TestErrorPageValidator_CustomMarkers(t *testing.T) {
	v := NewErrorPageValidator("Session unavailable", " ")

	assert.Error(t, v.Validate(1, "A.dat", []byte("Session unavailable")))
	assert.NoError(t, v.Validate(1, "A.dat", []byte("no record found")))
}

func TestValidatorFunc(t *testing.T) {
	called := false
	v := ValidatorFunc(func(index int, file string, body []byte) error {
		called = true

		return nil
	})

	require.NoError(t, v.Validate(1, "A.dat", []byte("x")))
	assert.True(t, called)
}
