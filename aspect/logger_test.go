package aspect

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/wattframework/ampere/httpwire"
)

func TestAccessLogWritesOneLinePerRequest(t *testing.T) {
	var out bytes.Buffer
	logger := log.New(&out, "", 0)
	a := AccessLog(logger)

	ctx := newRespCtx(httpwire.MethodGET)
	if _, err := a.Before(ctx); err != nil {
		t.Fatalf("Before: %v", err)
	}
	ctx.resp.WriteHeader(200)
	a.After(ctx, nil)

	got := out.String()
	if !strings.Contains(got, `"method":"GET"`) {
		t.Errorf("log line = %q, want method field", got)
	}
	if !strings.Contains(got, `"status":200`) {
		t.Errorf("log line = %q, want status field", got)
	}
}
