package extraction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptRendered(t *testing.T) {
	t.Parallel()

	article := "<html><body><article>" + strings.Repeat("words of real content ", 200) + "</article></body></html>"

	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "empty body", body: "", want: true},
		{name: "server rendered article", body: article, want: false},
		{name: "react root shell", body: `<html><body><div id="root"></div></body></html>`, want: true},
		{name: "next.js shell", body: `<html><body><div class="__next"></div></body></html>`, want: true},
		{
			name: "script heavy document",
			body: "<html><body><p>hi</p><script>" + strings.Repeat("var x=1;", 500) + "</script></body></html>",
			want: true,
		},
		{
			name: "unterminated script counts to end",
			body: "<p>intro</p><script>" + strings.Repeat("while(1){}", 100),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ScriptRendered([]byte(tt.body)))
		})
	}
}

func TestScriptCoverageIgnoresPlainDocuments(t *testing.T) {
	t.Parallel()

	assert.Zero(t, scriptCoverage([]byte("<html><body><p>no scripts here</p></body></html>")))
	assert.Zero(t, scriptCoverage(nil))
}
