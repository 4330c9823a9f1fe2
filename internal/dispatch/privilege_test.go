package dispatch_test

import (
	"os"
	"testing"

	"github.com/rahra/utdns/internal/dispatch"
	"github.com/stretchr/testify/assert"
)

func TestDropPrivileges_NoOpWhenNotRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root: DropPrivileges would actually change identity")
	}
	assert.NoError(t, dispatch.DropPrivileges())
}
