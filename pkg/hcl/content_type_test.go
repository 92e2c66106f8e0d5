package hcl

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		body        string
		contentType string
	}{
		{"hcl header", "application/vnd.hcl", `render "x" {}`, ContentTypeHCL},
		{"json header with charset", "application/json; charset=utf-8", `{}`, ContentTypeJSON},
		{"yaml header", "application/x-yaml", "name: x", ContentTypeYAML},
		{"sniff json object", "", `  {"name": "x"}`, ContentTypeJSON},
		{"sniff json array", "text/plain", `[{"name": "x"}]`, ContentTypeJSON},
		{"sniff hcl", "", `render "x" { bpm = 1 }`, ContentTypeHCL},
		{"sniff yaml", "", "name: x\nbpm: 120\n", ContentTypeYAML},
		{"empty body", "", "", ContentTypeJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/renders", strings.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set("Content-Type", tt.header)
			}

			got, err := DetectContentType(req)
			require.NoError(t, err)
			assert.Equal(t, tt.contentType, got)

			// body must still be readable after sniffing
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
		})
	}
}

func TestIsHCLBasedOnExtension(t *testing.T) {
	assert.True(t, IsHCLBasedOnExtension("run.hcl"))
	assert.True(t, IsHCLBasedOnExtension("main.tf"))
	assert.False(t, IsHCLBasedOnExtension("run.yaml"))
}
