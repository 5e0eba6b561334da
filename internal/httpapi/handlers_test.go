package httpapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"fragment-arena/internal/models"
)

func TestValidateAgentRequestProblems(t *testing.T) {
	cases := []struct {
		name string
		req  validateAgentRequest
		want string
	}{
		{
			name: "valid server agent",
			req:  validateAgentRequest{Name: "bot", CodeBlob: "strategy: greedy", ExecutionMode: models.ExecutionModeServer},
			want: "",
		},
		{
			name: "valid local agent without code",
			req:  validateAgentRequest{Name: "remote", ExecutionMode: models.ExecutionModeLocal},
			want: "",
		},
		{
			name: "missing name",
			req:  validateAgentRequest{CodeBlob: "strategy: greedy", ExecutionMode: models.ExecutionModeServer},
			want: "name is required",
		},
		{
			name: "server agent without code",
			req:  validateAgentRequest{Name: "bot", ExecutionMode: models.ExecutionModeServer},
			want: "codeBlob is required for server agents",
		},
		{
			name: "missing mode",
			req:  validateAgentRequest{Name: "bot", CodeBlob: "strategy: greedy"},
			want: "executionMode is required",
		},
		{
			name: "bogus mode",
			req:  validateAgentRequest{Name: "bot", CodeBlob: "x", ExecutionMode: "cloud"},
			want: "executionMode must be server or local",
		},
		{
			name: "oversized blob",
			req:  validateAgentRequest{Name: "bot", CodeBlob: strings.Repeat("x", maxCodeBlobSize+1), ExecutionMode: models.ExecutionModeServer},
			want: "codeBlob exceeds the size limit",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.req.problem())
		})
	}
}
