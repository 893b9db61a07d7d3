package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestIsWhitelisted(t *testing.T) {
	c := NewChecker([]string{" Corp.Test ", "@partner.test", "", "corp.test"}, zap.NewNop())
	assert.Equal(t, []string{"corp.test", "partner.test"}, c.domains)

	tests := []struct {
		from string
		want bool
	}{
		{"it@corp.test", true},
		{"IT Desk <it@CORP.test>", true},
		{"alerts@mail.corp.test", true},
		{"bob@partner.test", true},
		{"mallory@evilcorp.test", false},
		{"mallory@corp.test.evil.test", false},
		{"not an address", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsWhitelisted(tt.from))
		})
	}
}

func TestIsWhitelisted_EmptyListTrustsNobody(t *testing.T) {
	c := NewChecker(nil, nil)
	assert.False(t, c.IsWhitelisted("it@corp.test"))
}
